package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livetalk/internal/domain"
	"livetalk/internal/observability/metrics"
	"livetalk/internal/ports"
)

const (
	DefaultBaseURL = "wss://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice   = "Zephyr"

	livePath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

var (
	ErrNotReady      = errors.New("live session is not ready")
	ErrSessionClosed = errors.New("live session is closed")
)

// Config controls the Gemini Live websocket settings.
type Config struct {
	APIKey           string
	BaseURL          string
	Model            string
	Voice            string
	HandshakeTimeout time.Duration
}

// Provider implements ports.LiveProvider for the Gemini Live API.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

func NewProvider(cfg Config, logger zerolog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout
	return &Provider{cfg: cfg, dialer: &dialer, logger: logger}
}

// Connect dials the endpoint and sends the setup message. The session is
// usable once a Ready event arrives. Cancelling ctx closes the session.
func (p *Provider) Connect(ctx context.Context, cfg ports.LiveConfig) (ports.LiveSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not configured", domain.ErrTransport)
	}
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = 24000
	}

	wsURL, err := buildLiveURL(p.cfg)
	if err != nil {
		return nil, err
	}

	conn, _, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to live endpoint: %v", domain.ErrTransport, err)
	}

	setup := buildSetup(p.cfg.Model, p.cfg.Voice, cfg.SystemInstruction, cfg.InputTranscription, cfg.OutputTranscription)
	if err := conn.WriteJSON(clientMessage{Setup: setup}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: send setup: %v", domain.ErrTransport, err)
	}

	session := newLiveSession(conn, cfg.OutputSampleRate, p.logger)
	session.start()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	return session, nil
}

type liveSession struct {
	conn       *websocket.Conn
	outputRate int
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	outbound   chan []byte
	events     chan domain.ServerEvent
	closing    chan struct{}
	writerDone chan struct{}
	done       chan struct{}

	ready atomic.Bool
	wg    sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func newLiveSession(conn *websocket.Conn, outputRate int, logger zerolog.Logger) *liveSession {
	return &liveSession{
		conn:       conn,
		outputRate: outputRate,
		logger:     logger,
		metrics:    metrics.DefaultMetrics,
		outbound:   make(chan []byte, 64),
		events:     make(chan domain.ServerEvent, 64),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *liveSession) start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		_ = s.conn.Close()
		close(s.events)
		close(s.done)
	}()
}

// SendAudio queues one frame for the writer goroutine. Frames are written in
// call order.
func (s *liveSession) SendAudio(frame domain.Frame) error {
	select {
	case <-s.closing:
		return ErrSessionClosed
	default:
	}
	if !s.ready.Load() {
		return ErrNotReady
	}
	if len(frame.Data) == 0 {
		return nil
	}

	payload, err := encodeAudio(frame)
	if err != nil {
		return fmt.Errorf("encode audio frame: %w", err)
	}
	select {
	case s.outbound <- payload:
		return nil
	case <-s.closing:
		return ErrSessionClosed
	}
}

func (s *liveSession) Events() <-chan domain.ServerEvent {
	return s.events
}

func (s *liveSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close sends a close frame, releases the connection and waits for both
// loops. It returns the first transport fault, if any.
func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		select {
		case <-s.writerDone:
		case <-time.After(time.Second):
		}
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *liveSession) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *liveSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *liveSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

func (s *liveSession) writeLoop() {
	defer s.wg.Done()
	defer close(s.writerDone)

	for {
		select {
		case <-s.closing:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case payload := <-s.outbound:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !s.isClosing() {
					s.setErr(fmt.Errorf("%w: send audio: %v", domain.ErrTransport, err))
				}
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *liveSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.violation(fmt.Errorf("%w: undecodable message: %v", domain.ErrProtocol, err))
			continue
		}
		if !s.dispatch(msg) {
			return
		}
	}
}

// handleReadErr ends the session. A fault that was not requested locally is
// delivered as one Error event before the channel closes.
func (s *liveSession) handleReadErr(err error) {
	defer s.shutdown()

	if s.isClosing() || isNormalClose(err) {
		return
	}
	wrapped := fmt.Errorf("%w: read live message: %v", domain.ErrTransport, err)
	s.setErr(wrapped)
	s.emit(domain.ServerEvent{Kind: domain.ServerEventError, Err: wrapped})
}

// shutdown stops the writer once the reader is gone.
func (s *liveSession) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
}

// dispatch returns false once the session is closing.
func (s *liveSession) dispatch(msg serverMessage) bool {
	if msg.SetupComplete != nil {
		if s.ready.Swap(true) {
			s.violation(fmt.Errorf("%w: duplicate setupComplete", domain.ErrProtocol))
			return true
		}
		return s.emit(domain.ServerEvent{Kind: domain.ServerEventReady})
	}

	if !s.ready.Load() {
		s.violation(fmt.Errorf("%w: message before setupComplete", domain.ErrProtocol))
		return true
	}

	switch {
	case msg.ServerContent != nil:
		if msg.ServerContent.Interrupted {
			s.logger.Debug().Msg("remote generation interrupted")
		}
		events, err := translateContent(msg.ServerContent, s.outputRate)
		if err != nil {
			s.violation(err)
		}
		for _, event := range events {
			if !s.emit(event) {
				return false
			}
		}
	case msg.GoAway != nil:
		s.logger.Warn().Str("timeLeft", msg.GoAway.TimeLeft).Msg("live endpoint is going away")
	case msg.ToolCall != nil || msg.UsageMetadata != nil:
		s.logger.Debug().Msg("ignoring auxiliary live message")
	default:
		s.violation(fmt.Errorf("%w: unrecognised message", domain.ErrProtocol))
	}
	return true
}

func (s *liveSession) violation(err error) {
	s.metrics.RecordProtocolViolation()
	s.logger.Warn().Err(err).Msg("ignoring live message")
}

// emit blocks until the consumer takes the event or the session closes.
func (s *liveSession) emit(event domain.ServerEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.closing:
		return false
	}
}

func buildLiveURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	liveURL, err := url.Parse(base + livePath)
	if err != nil {
		return "", fmt.Errorf("invalid live API base URL: %w", err)
	}
	if liveURL.Scheme != "ws" && liveURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid live API base URL scheme %q", liveURL.Scheme)
	}
	query := liveURL.Query()
	query.Set("key", cfg.APIKey)
	liveURL.RawQuery = query.Encode()
	return liveURL.String(), nil
}
