package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"livetalk/internal/playback"
	"livetalk/internal/ports"
)

// liveSession owns every resource of one conversation. Resources are attached
// as their acquisition completes; once released, attach refuses and the
// caller must release what it acquired.
type liveSession struct {
	id      string
	started time.Time
	cancel  context.CancelFunc
	span    trace.Span
	logger  zerolog.Logger

	mu        sync.Mutex
	released  bool
	output    ports.OutputContext
	scheduler *playback.Scheduler
	transport ports.LiveSession
	capture   ports.CaptureSession

	readyOnce sync.Once
	ready     chan struct{}

	tearingDown atomic.Bool
	done        chan struct{}
	cause       error
}

func newLiveSession(id string, cancel context.CancelFunc, span trace.Span, logger zerolog.Logger) *liveSession {
	return &liveSession{
		id:      id,
		started: time.Now(),
		cancel:  cancel,
		span:    span,
		logger:  logger,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *liveSession) attachOutput(out ports.OutputContext, cfg playback.Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.output = out
	s.scheduler = playback.NewScheduler(out, cfg, s.logger)
	return true
}

func (s *liveSession) attachTransport(transport ports.LiveSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.transport = transport
	return true
}

func (s *liveSession) attachCapture(capture ports.CaptureSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.capture = capture
	return true
}

func (s *liveSession) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *liveSession) playback() *playback.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	return s.scheduler
}

func (s *liveSession) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *liveSession) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// release detaches every resource and closes them in order: transport,
// capture, playback, output. Closing the scheduler refuses fragments that
// were already past the released check in dispatch. Each step runs only if that resource was
// attached.
func (s *liveSession) release() error {
	s.mu.Lock()
	s.released = true
	transport, capture, scheduler, output := s.transport, s.capture, s.scheduler, s.output
	s.transport, s.capture, s.scheduler, s.output = nil, nil, nil, nil
	s.mu.Unlock()

	s.cancel()

	var errs []error
	if transport != nil {
		if err := transport.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("transport closed with error")
		}
	}
	if capture != nil {
		if err := capture.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture: %w", err))
		}
	}
	if scheduler != nil {
		scheduler.Close()
	}
	if output != nil {
		if err := output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	return errors.Join(errs...)
}
