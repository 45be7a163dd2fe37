package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"livetalk/internal/domain"
	"livetalk/internal/observability/logging"
	"livetalk/internal/observability/metrics"
	"livetalk/internal/playback"
	"livetalk/internal/ports"
	"livetalk/internal/transcript"
)

const historyTimeout = 5 * time.Second

var (
	ErrStartAborted     = errors.New("session start aborted")
	ErrControllerClosed = errors.New("session controller closed")
)

// Config controls one live conversation.
type Config struct {
	Capture  ports.CaptureConfig
	Output   ports.OutputConfig
	Live     ports.LiveConfig
	Playback playback.Config
}

// SessionController runs the Closed -> Opening -> Active -> Closed lifecycle.
// At most one session exists at a time; history outlives sessions.
type SessionController struct {
	capture   ports.AudioCapture
	output    ports.AudioOutput
	provider  ports.LiveProvider
	rules     ports.RulesEngine
	publisher ports.TranscriptPublisher
	history   ports.TurnHistory
	events    ports.EventSink
	exporter  transcriptExporter
	cfg       Config

	// historyMu orders commits against ClearHistory so the stored and the
	// in-memory history are cleared together.
	historyMu  sync.Mutex
	aggregator *transcript.Aggregator
	logger     zerolog.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics

	mu      sync.Mutex
	state   domain.SessionState
	current *liveSession
	closed  bool
}

func NewSessionController(
	capture ports.AudioCapture,
	output ports.AudioOutput,
	provider ports.LiveProvider,
	rules ports.RulesEngine,
	clipboard ports.Clipboard,
	publisher ports.TranscriptPublisher,
	history ports.TurnHistory,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = 16000
	}
	if cfg.Live.InputSampleRate <= 0 {
		cfg.Live.InputSampleRate = cfg.Capture.SampleRate
	}
	if publisher == nil {
		publisher = discardPublisher{}
	}
	if history == nil {
		history = discardHistory{}
	}
	return &SessionController{
		capture:    capture,
		output:     output,
		provider:   provider,
		rules:      rules,
		publisher:  publisher,
		history:    history,
		events:     events,
		exporter:   newTranscriptExporter(rules, clipboard, events),
		cfg:        cfg,
		aggregator: transcript.NewAggregator(),
		logger:     logging.WithComponent("usecase"),
		tracer:     otel.Tracer("livetalk/usecase"),
		metrics:    metrics.DefaultMetrics,
		state:      domain.SessionStateClosed,
	}
}

// Start opens the output, connects the transport and, once the transport is
// ready, starts capture. It returns when the session is Active, when it
// fails (with the cause), or when it is stopped meanwhile (ErrStartAborted).
// Start is a no-op while a session is Opening or Active. ctx bounds the
// session's lifetime.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.current != nil {
		c.mu.Unlock()
		return nil
	}
	id := uuid.NewString()
	sessionCtx, cancel := context.WithCancel(ctx)
	sessionCtx, span := c.tracer.Start(sessionCtx, "live_session",
		trace.WithAttributes(attribute.String("session.id", id)))
	s := newLiveSession(id, cancel, span, logging.WithSession("usecase", id))
	c.current = s
	c.setStateLocked(domain.SessionStateOpening, domain.SessionReasonConnecting)
	c.mu.Unlock()

	c.metrics.RecordSessionStart()
	s.logger.Info().Msg("opening live session")
	c.aggregator.ResetTurn()
	c.events.PartialTranscript(domain.Partials{})
	go c.watchContext(sessionCtx, s)

	out, err := c.output.Open(sessionCtx, c.cfg.Output)
	if err != nil {
		return c.abortStart(ctx, s, fmt.Errorf("open audio output: %w", err))
	}
	if !s.attachOutput(out, c.cfg.Playback) {
		_ = out.Close()
		return c.startResult(ctx, s)
	}

	live, err := c.provider.Connect(sessionCtx, c.cfg.Live)
	if err != nil {
		return c.abortStart(ctx, s, err)
	}
	if !s.attachTransport(live) {
		_ = live.Close()
		return c.startResult(ctx, s)
	}
	go c.dispatch(sessionCtx, s, live)

	select {
	case <-s.ready:
	case <-s.done:
		return c.startResult(ctx, s)
	}

	capture, err := c.capture.Start(sessionCtx, c.cfg.Capture, func(block []float32) {
		c.forwardBlock(s, live, block)
	})
	if err != nil {
		return c.abortStart(ctx, s, err)
	}
	if !s.attachCapture(capture) {
		_ = capture.Stop()
		return c.startResult(ctx, s)
	}
	go c.watchCapture(s, capture)

	if !c.transition(s, domain.SessionStateActive, domain.SessionReasonListening) {
		return c.startResult(ctx, s)
	}
	s.span.AddEvent("active")
	c.metrics.RecordSessionReady(time.Since(s.started).Seconds())
	s.logger.Info().Dur("startup", time.Since(s.started)).Msg("live session active")
	return nil
}

// Stop tears the current session down and waits for it. Calling it with no
// session is a no-op.
func (c *SessionController) Stop() error {
	return c.stopWith(domain.SessionReasonStopped)
}

// Toggle starts when Closed and stops otherwise, including while Opening.
func (c *SessionController) Toggle(ctx context.Context) (domain.Status, error) {
	c.mu.Lock()
	idle := c.current == nil
	c.mu.Unlock()

	var err error
	if idle {
		err = c.Start(ctx)
		if errors.Is(err, ErrStartAborted) {
			err = nil
		}
	} else {
		err = c.Stop()
	}
	return c.Status(), err
}

// Close stops any session and refuses further starts.
func (c *SessionController) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.stopWith(domain.SessionReasonShutdown)
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := domain.Status{State: c.state, Active: c.state != domain.SessionStateClosed}
	if c.current != nil {
		status.SessionID = c.current.id
	}
	return status
}

// History returns a copy of the committed turns.
func (c *SessionController) History() []domain.Turn {
	return c.aggregator.History()
}

// Partials returns the in-progress turn.
func (c *SessionController) Partials() domain.Partials {
	return c.aggregator.Partials()
}

// ClearHistory drops committed turns, in memory and in the turn history; the
// in-progress turn is kept.
func (c *SessionController) ClearHistory() {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()

	c.aggregator.ClearHistory()
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := c.history.Clear(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear stored history")
	}
}

// RestoreHistory replaces the committed turns, e.g. from persistent storage.
// Turns are expected as they were committed, before rewrite rules.
func (c *SessionController) RestoreHistory(turns []domain.Turn) {
	c.aggregator.Restore(turns)
}

// ExportTranscript renders the history with rewrite rules applied and copies
// it to the clipboard.
func (c *SessionController) ExportTranscript(ctx context.Context) (domain.ExportResult, error) {
	return c.exporter.Export(ctx, c.aggregator.History())
}

func (c *SessionController) stopWith(reason domain.SessionStateReason) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	c.teardown(s, reason, nil)
	<-s.done
	return nil
}

func (c *SessionController) abortStart(ctx context.Context, s *liveSession, err error) error {
	c.teardown(s, domain.ReasonFor(err), err)
	return c.startResult(ctx, s)
}

// startResult waits for teardown and reports why Start did not complete.
func (c *SessionController) startResult(ctx context.Context, s *liveSession) error {
	<-s.done
	if s.cause != nil {
		return s.cause
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrStartAborted
}

func (c *SessionController) setStateLocked(state domain.SessionState, reason domain.SessionStateReason) {
	c.state = state
	c.events.SessionStateChanged(state, reason)
}

// transition moves s to state unless s has been released or replaced.
func (c *SessionController) transition(s *liveSession, state domain.SessionState, reason domain.SessionStateReason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != s || s.isReleased() {
		return false
	}
	c.setStateLocked(state, reason)
	return true
}

// teardown is the single exit path of a session. The first caller releases
// every resource; later callers return immediately.
func (c *SessionController) teardown(s *liveSession, reason domain.SessionStateReason, cause error) {
	if !s.tearingDown.CompareAndSwap(false, true) {
		return
	}

	s.cause = cause
	if cause != nil {
		s.logger.Error().Err(cause).Str("reason", string(reason)).Msg("live session failed")
		s.span.RecordError(cause)
		s.span.SetStatus(codes.Error, cause.Error())
		c.events.SessionError(domain.ErrorCodeFor(cause), cause.Error())
	}

	if err := s.release(); err != nil {
		s.logger.Warn().Err(err).Msg("session released with errors")
		c.events.SessionError(domain.ErrorCodeAudioStop, err.Error())
	}

	c.mu.Lock()
	if c.current == s {
		c.current = nil
		c.setStateLocked(domain.SessionStateClosed, reason)
	}
	c.mu.Unlock()

	c.metrics.RecordSessionEnd(string(reason), time.Since(s.started).Seconds())
	s.span.SetAttributes(attribute.String("session.end_reason", string(reason)))
	s.span.End()
	s.logger.Info().Str("reason", string(reason)).Msg("live session closed")
	close(s.done)
}

func (c *SessionController) watchContext(ctx context.Context, s *liveSession) {
	select {
	case <-ctx.Done():
		c.teardown(s, domain.SessionReasonCancelled, nil)
	case <-s.done:
	}
}

// watchCapture ends the session when the device goes away on its own.
func (c *SessionController) watchCapture(s *liveSession, capture ports.CaptureSession) {
	select {
	case <-capture.Done():
		err := capture.Err()
		if err == nil {
			err = fmt.Errorf("%w: capture stopped unexpectedly", domain.ErrDevice)
		}
		c.teardown(s, domain.ReasonFor(err), err)
	case <-s.done:
	}
}

type discardHistory struct{}

func (discardHistory) SaveTurn(context.Context, string, domain.Turn) error { return nil }
func (discardHistory) Clear(context.Context) error                         { return nil }

type discardPublisher struct{}

func (discardPublisher) PublishPartial(context.Context, string, domain.Partials) error { return nil }
func (discardPublisher) PublishTurn(context.Context, string, domain.Turn) error       { return nil }
func (discardPublisher) Close() error                                                 { return nil }
