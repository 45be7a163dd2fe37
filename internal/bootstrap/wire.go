package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"livetalk/internal/audio"
	"livetalk/internal/config"
	"livetalk/internal/events"
	"livetalk/internal/historystore"
	"livetalk/internal/observability"
	"livetalk/internal/observability/logging"
	"livetalk/internal/playback"
	"livetalk/internal/ports"
	"livetalk/internal/providers/gemini"
	"livetalk/internal/rules"
	"livetalk/internal/usecase"
)

// Version is reported in traces and overridden at link time.
var Version = "0.1.0-dev"

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Rules      *rules.Engine
	History    *historystore.Store

	publisher ports.TranscriptPublisher
	server    *observability.Server
	tracing   observability.ShutdownFunc
}

// Build wires all backend dependencies for the current runtime. Nothing
// touches an audio device or the network until a session starts, except
// the optional NATS connection and observability listener.
func Build(ctx context.Context, eventSink ports.EventSink, clipboard ports.Clipboard) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		TimeFormat: time.RFC3339,
	})

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}

	services := &Services{Config: cfg, Rules: rulesEngine}
	fail := func(err error) (*Services, error) {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = services.Close(closeCtx)
		return nil, err
	}

	services.tracing, err = observability.InitTracer(ctx, observability.TracingConfig{
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceVersion: Version,
	})
	if err != nil {
		return fail(err)
	}

	if cfg.History.Enabled {
		services.History, err = historystore.Open(ctx, historystore.Config{
			Path:        cfg.History.Path,
			Retention:   cfg.History.Retention,
			MaxSessions: cfg.History.MaxSessions,
		}, logging.WithComponent("history"))
		if err != nil {
			return fail(err)
		}
	}

	sinks, nats, err := buildSinks(cfg)
	if err != nil {
		return fail(err)
	}
	services.publisher = events.NewAsync(
		sinks,
		cfg.Session.PublishQueueSize,
		cfg.Session.PublishTimeout,
		logging.WithComponent("publisher"),
	)

	services.Controller = usecase.NewSessionController(
		captureBackend(cfg.Audio),
		audio.NewPortAudioOutput(),
		gemini.NewProvider(gemini.Config{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
			Voice:   cfg.Gemini.Voice,
		}, logging.WithComponent("gemini")),
		rulesEngine,
		clipboard,
		services.publisher,
		services.turnHistory(),
		eventSink,
		controllerConfig(cfg),
	)

	if services.History != nil && cfg.History.RestoreOnStart {
		turns, err := services.History.ListTurns(ctx, cfg.History.RestoreLimit)
		if err != nil {
			return fail(fmt.Errorf("restore history: %w", err))
		}
		services.Controller.RestoreHistory(turns)
		log.Info().Int("turns", len(turns)).Msg("restored transcript history")
	}

	if cfg.Observability.Enabled {
		services.server = observability.NewServer(cfg.Observability.Addr, readiness(nats))
		if err := services.server.Start(); err != nil {
			return fail(err)
		}
		log.Info().Str("addr", services.server.Addr()).Msg("observability server listening")
	}

	return services, nil
}

// buildSinks assembles every configured external transcript destination.
// These receive turns with rewrite rules applied; the history store does not.
func buildSinks(cfg config.Config) (events.Fanout, *events.NATSPublisher, error) {
	var sinks events.Fanout

	kafka := events.NewKafka(events.KafkaConfig{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		PartialTopic: cfg.Kafka.PartialTopic,
		TurnTopic:    cfg.Kafka.TurnTopic,
	})
	if kafka.Enabled() {
		sinks = append(sinks, kafka)
	}

	var nats *events.NATSPublisher
	if cfg.NATS.URL != "" {
		conn, err := events.ConnectNATS(events.NATSConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			_ = sinks.Close()
			return nil, nil, err
		}
		nats = conn
		sinks = append(sinks, nats)
	}
	return sinks, nats, nil
}

// turnHistory keeps a disabled store from becoming a non-nil interface.
func (s *Services) turnHistory() ports.TurnHistory {
	if s.History == nil {
		return nil
	}
	return s.History
}

func captureBackend(cfg config.AudioConfig) ports.AudioCapture {
	if cfg.Backend == "ffmpeg" {
		return audio.NewFFMPEGCapture(cfg.RecorderCommand)
	}
	return audio.NewPortAudioCapture()
}

func controllerConfig(cfg config.Config) usecase.Config {
	return usecase.Config{
		Capture: ports.CaptureConfig{
			SampleRate:  cfg.Audio.InputSampleRate,
			Channels:    cfg.Audio.Channels,
			BlockSize:   cfg.Audio.BlockSize,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Output: ports.OutputConfig{
			SampleRate:      cfg.Audio.OutputSampleRate,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		},
		Live: ports.LiveConfig{
			InputSampleRate:     cfg.Audio.InputSampleRate,
			OutputSampleRate:    cfg.Audio.OutputSampleRate,
			SystemInstruction:   cfg.Gemini.SystemInstruction,
			InputTranscription:  cfg.Gemini.InputTranscription,
			OutputTranscription: cfg.Gemini.OutputTranscription,
		},
		Playback: playback.Config{
			MaxQueuedFragments: cfg.Playback.MaxQueuedFragments,
		},
	}
}

func readiness(nats *events.NATSPublisher) observability.ReadyFunc {
	return func() error {
		if nats != nil && !nats.Healthy() {
			return errors.New("nats connection is down")
		}
		return nil
	}
}

// Close stops the running session, flushes pending publications and
// releases every sink. It is safe on a partially built graph.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Controller != nil {
		errs = append(errs, s.Controller.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.History != nil {
		errs = append(errs, s.History.Close())
	}
	if s.server != nil {
		errs = append(errs, s.server.Shutdown(ctx))
	}
	if s.tracing != nil {
		errs = append(errs, s.tracing(ctx))
	}
	return errors.Join(errs...)
}
