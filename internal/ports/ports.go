package ports

import (
	"context"

	"livetalk/internal/domain"
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	BlockSize   int
	InputFormat string
	InputDevice string
}

// CaptureSession is a live capture session.
type CaptureSession interface {
	Stop() error
	Done() <-chan struct{}
	Err() error
}

// AudioCapture creates microphone capture sessions. onBlock is invoked serially,
// once per fixed-size block, in capture order.
type AudioCapture interface {
	Start(ctx context.Context, cfg CaptureConfig, onBlock func(block []float32)) (CaptureSession, error)
}

// OutputConfig describes the playback device.
type OutputConfig struct {
	SampleRate      int
	FramesPerBuffer int
}

// PlaybackHandle is one scheduled, not yet finished buffer.
type PlaybackHandle interface {
	Stop()
}

// OutputContext owns a playback clock and destination. onEnded must not be
// invoked synchronously from PlayAt.
type OutputContext interface {
	SampleRate() int
	CurrentTime() float64
	PlayAt(samples []float32, at float64, onEnded func()) (PlaybackHandle, error)
	Close() error
}

// AudioOutput opens playback contexts.
type AudioOutput interface {
	Open(ctx context.Context, cfg OutputConfig) (OutputContext, error)
}

// LiveConfig describes provider-agnostic live session settings.
type LiveConfig struct {
	InputSampleRate     int
	OutputSampleRate    int
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
}

// LiveSession is an active bidirectional conversation channel. Events is
// closed exactly once, after which the session is over.
type LiveSession interface {
	SendAudio(frame domain.Frame) error
	Events() <-chan domain.ServerEvent
	Wait() error
	Close() error
}

// LiveProvider opens live conversation sessions.
type LiveProvider interface {
	Connect(ctx context.Context, cfg LiveConfig) (LiveSession, error)
}

// TranscriptPublisher forwards transcript updates outside the process.
type TranscriptPublisher interface {
	PublishPartial(ctx context.Context, sessionID string, partials domain.Partials) error
	PublishTurn(ctx context.Context, sessionID string, turn domain.Turn) error
	Close() error
}

// TurnHistory keeps committed turns as they were transcribed, before any
// rewrite rules, so a later restore matches the in-memory history.
type TurnHistory interface {
	SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error
	Clear(ctx context.Context) error
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
	ApplyTurn(turn domain.Turn) (domain.Turn, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	PartialTranscript(partials domain.Partials)
	TurnCommitted(turn domain.Turn)
	SessionError(code domain.ErrorCode, detail string)
}
