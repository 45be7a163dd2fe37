package gemini

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"livetalk/internal/domain"
)

type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type setupMessage struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob carries a base64 payload. Data stays encoded until translateContent so
// a bad payload only costs its own part.
type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}       `json:"setupComplete,omitempty"`
	ServerContent *serverContent  `json:"serverContent,omitempty"`
	GoAway        *goAway         `json:"goAway,omitempty"`
	ToolCall      json.RawMessage `json:"toolCall,omitempty"`
	UsageMetadata json.RawMessage `json:"usageMetadata,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

func buildSetup(model, voice, instruction string, inputTranscription, outputTranscription bool) *setupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	setup := &setupMessage{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
		}
	}
	if strings.TrimSpace(instruction) != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: instruction}}}
	}
	if inputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if outputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return setup
}

func encodeAudio(frame domain.Frame) ([]byte, error) {
	return json.Marshal(clientMessage{
		RealtimeInput: &realtimeInput{
			Audio: &blob{MimeType: frame.MimeType(), Data: base64.StdEncoding.EncodeToString(frame.Data)},
		},
	})
}

// translateContent converts one serverContent message into events in a fixed
// order: input transcription, output transcription, audio parts, turn
// completion. Parts that cannot be understood are reported in the returned
// error while the remaining events are still delivered.
func translateContent(sc *serverContent, defaultRate int) ([]domain.ServerEvent, error) {
	var events []domain.ServerEvent
	var violations []error

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, domain.ServerEvent{Kind: domain.ServerEventTranscript, Side: domain.SideUser, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, domain.ServerEvent{Kind: domain.ServerEventTranscript, Side: domain.SideRemote, Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			rate, err := audioRate(p.InlineData.MimeType, defaultRate)
			if err != nil {
				violations = append(violations, err)
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				violations = append(violations, fmt.Errorf("%w: inline audio payload: %v", domain.ErrDecode, err))
				continue
			}
			events = append(events, domain.ServerEvent{
				Kind:  domain.ServerEventAudio,
				Audio: domain.AudioFragment{Data: data, SampleRate: rate},
			})
		}
	}
	if sc.TurnComplete {
		events = append(events, domain.ServerEvent{Kind: domain.ServerEventTurnComplete})
	}
	return events, errors.Join(violations...)
}

// audioRate extracts the sample rate from a mime type such as
// "audio/pcm;rate=24000". Only little-endian PCM is accepted.
func audioRate(mimeType string, defaultRate int) (int, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid inline data mime type %q: %v", domain.ErrProtocol, mimeType, err)
	}
	if mediaType != "audio/pcm" {
		return 0, fmt.Errorf("%w: unsupported inline data type %q", domain.ErrProtocol, mediaType)
	}
	raw, ok := params["rate"]
	if !ok {
		return defaultRate, nil
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("%w: invalid audio rate %q", domain.ErrProtocol, raw)
	}
	return rate, nil
}
