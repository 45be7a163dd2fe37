package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"livetalk/internal/domain"
	"livetalk/internal/observability/metrics"
	"livetalk/internal/pcm"
	"livetalk/internal/ports"
)

const DefaultMaxQueuedFragments = 512

var (
	// ErrBacklogFull is returned when the live set already holds the
	// configured maximum of unfinished buffers.
	ErrBacklogFull = errors.New("playback backlog full")
	// ErrSchedulerClosed is returned by Schedule after Close.
	ErrSchedulerClosed = errors.New("playback scheduler closed")
)

// Config controls scheduler limits.
type Config struct {
	// MaxQueuedFragments bounds the live set. Zero or less disables the bound.
	MaxQueuedFragments int
}

// Scheduler places fragments back to back on an output clock.
type Scheduler struct {
	out     ports.OutputContext
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	cursor float64
	nextID uint64
	live   map[uint64]ports.PlaybackHandle
}

// NewScheduler binds a scheduler to an open output context.
func NewScheduler(out ports.OutputContext, cfg Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		out:     out,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.DefaultMetrics,
		live:    make(map[uint64]ports.PlaybackHandle),
	}
}

// Schedule decodes a fragment and starts it at max(cursor, device clock).
// The cursor then advances by the fragment duration. Decode failures and a
// full backlog leave the cursor untouched.
func (s *Scheduler) Schedule(fragment domain.AudioFragment) (float64, error) {
	buf, err := pcm.DecodeFragment(fragment.Data, fragment.SampleRate, s.out.SampleRate())
	if err != nil {
		s.metrics.RecordFragmentDropped("decode")
		s.logger.Warn().Err(err).Int("bytes", len(fragment.Data)).Msg("dropping undecodable audio fragment")
		return 0, err
	}
	if len(buf.Samples) == 0 {
		return s.Cursor(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSchedulerClosed
	}
	if s.cfg.MaxQueuedFragments > 0 && len(s.live) >= s.cfg.MaxQueuedFragments {
		s.metrics.RecordFragmentDropped("backlog")
		s.logger.Warn().Int("live", len(s.live)).Msg("dropping audio fragment, playback backlog full")
		return 0, ErrBacklogFull
	}

	start := s.cursor
	if now := s.out.CurrentTime(); now > start {
		start = now
	}

	s.nextID++
	id := s.nextID
	handle, err := s.out.PlayAt(buf.Samples, start, func() { s.release(id) })
	if err != nil {
		s.metrics.RecordFragmentDropped("output")
		return 0, fmt.Errorf("schedule fragment: %w", err)
	}
	s.live[id] = handle
	s.cursor = start + buf.Duration()
	s.metrics.RecordFragmentScheduled(len(s.live))
	return start, nil
}

// release removes a naturally finished handle. It may run after DrainAll.
func (s *Scheduler) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
	s.metrics.RecordPlaybackLive(len(s.live))
}

// DrainAll stops every unfinished buffer and resets the cursor to zero.
func (s *Scheduler) DrainAll() {
	s.drain(false)
}

// Close drains like DrainAll and refuses every later fragment, so a Schedule
// racing the close cannot leave a buffer behind.
func (s *Scheduler) Close() {
	s.drain(true)
}

func (s *Scheduler) drain(closing bool) {
	s.mu.Lock()
	if closing {
		s.closed = true
	}
	handles := make([]ports.PlaybackHandle, 0, len(s.live))
	for id, handle := range s.live {
		handles = append(handles, handle)
		delete(s.live, id)
	}
	s.cursor = 0
	s.mu.Unlock()

	for _, handle := range handles {
		handle.Stop()
	}
	s.metrics.RecordPlaybackLive(0)
}

func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Live returns the number of scheduled buffers not yet finished.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
