package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livetalk/internal/domain"
	"livetalk/internal/observability/metrics"
	"livetalk/internal/ports"
)

const (
	DefaultQueueSize      = 256
	DefaultPublishTimeout = 5 * time.Second
)

var (
	ErrQueueFull   = errors.New("publish queue full")
	ErrQueueClosed = errors.New("publish queue closed")
)

type publishJob struct {
	sessionID string
	partials  domain.Partials
	turn      *domain.Turn
}

// AsyncPublisher hands updates to a single worker so callers never block on
// a slow sink. Updates are delivered in submission order; when the queue is
// full the newest update is dropped.
type AsyncPublisher struct {
	next    ports.TranscriptPublisher
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan publishJob
	done   chan struct{}
}

// NewAsync starts the worker goroutine.
func NewAsync(next ports.TranscriptPublisher, size int, timeout time.Duration, logger zerolog.Logger) *AsyncPublisher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	p := &AsyncPublisher{
		next:    next,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan publishJob, size),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) PublishPartial(_ context.Context, sessionID string, partials domain.Partials) error {
	return p.enqueue(publishJob{sessionID: sessionID, partials: partials})
}

func (p *AsyncPublisher) PublishTurn(_ context.Context, sessionID string, turn domain.Turn) error {
	return p.enqueue(publishJob{sessionID: sessionID, turn: &turn})
}

func (p *AsyncPublisher) enqueue(job publishJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		metrics.DefaultMetrics.RecordPublishDropped()
		p.logger.Warn().Str("session_id", job.sessionID).Bool("turn", job.turn != nil).Msg("publish queue full, dropping update")
		return ErrQueueFull
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for job := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		var err error
		if job.turn != nil {
			err = p.next.PublishTurn(ctx, job.sessionID, *job.turn)
		} else {
			err = p.next.PublishPartial(ctx, job.sessionID, job.partials)
		}
		cancel()
		if err != nil {
			p.logger.Warn().Err(err).Str("session_id", job.sessionID).Msg("transcript publish failed")
		}
	}
}

// Close delivers what is already queued, then closes the wrapped publisher.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.next.Close()
}
