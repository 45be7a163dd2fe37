package domain

import (
	"fmt"
	"time"
)

// SessionState models the live conversation lifecycle.
type SessionState string

const (
	SessionStateClosed  SessionState = "closed"
	SessionStateOpening SessionState = "opening"
	SessionStateActive  SessionState = "active"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonIdle             SessionStateReason = "idle"
	SessionReasonConnecting       SessionStateReason = "connecting"
	SessionReasonListening        SessionStateReason = "listening"
	SessionReasonStopped          SessionStateReason = "stopped"
	SessionReasonRemoteClosed     SessionStateReason = "remote_closed"
	SessionReasonTransportFailed  SessionStateReason = "transport_failed"
	SessionReasonDeviceFailed     SessionStateReason = "device_failed"
	SessionReasonPermissionDenied SessionStateReason = "permission_denied"
	SessionReasonCancelled        SessionStateReason = "cancelled"
	SessionReasonShutdown         SessionStateReason = "shutdown"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodePermission ErrorCode = "permission"
	ErrorCodeDevice     ErrorCode = "device"
	ErrorCodeTransport  ErrorCode = "transport"
	ErrorCodeDecode     ErrorCode = "decode"
	ErrorCodeProtocol   ErrorCode = "protocol"
	ErrorCodeAudioStop  ErrorCode = "audio_stop"
	ErrorCodeRules      ErrorCode = "rules"
	ErrorCodeClipboard  ErrorCode = "clipboard"
)

// Side identifies who spoke a transcript fragment.
type Side string

const (
	SideUser   Side = "user"
	SideRemote Side = "remote"
)

// Valid reports whether s names a known side.
func (s Side) Valid() bool {
	return s == SideUser || s == SideRemote
}

// Turn is one committed conversational exchange.
type Turn struct {
	User        string    `json:"user"`
	Remote      string    `json:"remote"`
	CompletedAt time.Time `json:"completedAt"`
}

// Partials is a snapshot of the in-progress turn for display.
type Partials struct {
	User   string `json:"user"`
	Remote string `json:"remote"`
}

// Empty reports whether neither side has accumulated text.
func (p Partials) Empty() bool {
	return p.User == "" && p.Remote == ""
}

// EncodingLinear16 is signed 16-bit little-endian PCM.
const EncodingLinear16 = "linear16"

// Frame is one encoded block of captured microphone audio.
type Frame struct {
	Data       []byte
	SampleRate int
	Encoding   string
}

// MimeType returns the wire content type of the frame.
func (f Frame) MimeType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// AudioFragment is one chunk of synthesized audio received from the remote session.
type AudioFragment struct {
	Data       []byte
	SampleRate int
}

// ServerEventKind tags inbound transport events.
type ServerEventKind string

const (
	ServerEventReady        ServerEventKind = "ready"
	ServerEventAudio        ServerEventKind = "audio"
	ServerEventTranscript   ServerEventKind = "transcript"
	ServerEventTurnComplete ServerEventKind = "turn_complete"
	ServerEventError        ServerEventKind = "error"
)

// ServerEvent is a typed message delivered by a live session.
type ServerEvent struct {
	Kind  ServerEventKind
	Side  Side
	Text  string
	Audio AudioFragment
	Err   error
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// ExportResult is returned when the transcript history is exported.
type ExportResult struct {
	Text   string `json:"text"`
	Turns  int    `json:"turns"`
	Copied bool   `json:"copied"`
}
