package audio

import (
	"errors"
	"math"
	"sync"

	"livetalk/internal/ports"
)

// ErrOutputClosed is returned when scheduling on a closed output context.
var ErrOutputClosed = errors.New("audio output closed")

// Mixer is a sample-accurate playback clock. Buffers are placed at absolute
// sample positions and summed as the device pulls samples through Render.
type Mixer struct {
	rate int

	mu       sync.Mutex
	position int64
	nextID   uint64
	voices   map[uint64]*voice
	closed   bool
}

type voice struct {
	start   int64
	samples []float32
	onEnded func()
}

func NewMixer(sampleRate int) *Mixer {
	return &Mixer{
		rate:   sampleRate,
		voices: make(map[uint64]*voice),
	}
}

func (m *Mixer) SampleRate() int {
	return m.rate
}

// CurrentTime returns the number of rendered seconds.
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.position) / float64(m.rate)
}

// PlayAt places samples at the given clock time. A time already rendered is
// moved to the current position. onEnded runs from Render once the last
// sample has been produced, never from PlayAt itself.
func (m *Mixer) PlayAt(samples []float32, at float64, onEnded func()) (ports.PlaybackHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrOutputClosed
	}

	start := int64(math.Round(at * float64(m.rate)))
	if start < m.position {
		start = m.position
	}
	m.nextID++
	id := m.nextID
	m.voices[id] = &voice{start: start, samples: samples, onEnded: onEnded}
	return &voiceHandle{mixer: m, id: id}, nil
}

// Render fills out with the mix of every voice overlapping the next
// len(out) samples and advances the clock.
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	m.mu.Lock()
	from := m.position
	to := from + int64(len(out))
	var ended []func()
	for id, v := range m.voices {
		end := v.start + int64(len(v.samples))
		lo := max(v.start, from)
		hi := min(end, to)
		for t := lo; t < hi; t++ {
			out[t-from] += v.samples[t-v.start]
		}
		if end <= to {
			delete(m.voices, id)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	m.position = to
	m.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	for _, fn := range ended {
		fn()
	}
}

// Pending returns the number of voices not yet fully rendered.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Close discards every voice without completion callbacks and rejects
// further scheduling.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	clear(m.voices)
	return nil
}

func (m *Mixer) stop(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.voices, id)
}

type voiceHandle struct {
	mixer *Mixer
	id    uint64
}

// Stop silences the voice. Its completion callback is not invoked.
func (h *voiceHandle) Stop() {
	h.mixer.stop(h.id)
}
