package audio

import (
	"errors"
	"testing"
)

func TestMixerPlaysVoiceAtScheduledPosition(t *testing.T) {
	t.Parallel()

	m := NewMixer(4)
	ended := 0
	if _, err := m.PlayAt([]float32{0.1, 0.2, 0.3}, 0.5, func() { ended++ }); err != nil {
		t.Fatalf("play: %v", err)
	}

	out := make([]float32, 4)
	m.Render(out)
	want := []float32{0, 0, 0.1, 0.2}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("first render sample %d: expected %v, got %v", i, want[i], out[i])
		}
	}
	if ended != 0 {
		t.Fatalf("voice ended too early")
	}
	if m.CurrentTime() != 1 {
		t.Fatalf("expected clock at 1s, got %v", m.CurrentTime())
	}

	m.Render(out)
	if out[0] != 0.3 || out[1] != 0 {
		t.Fatalf("unexpected second render: %v", out)
	}
	if ended != 1 {
		t.Fatalf("expected one completion, got %d", ended)
	}
	if m.Pending() != 0 {
		t.Fatalf("expected no pending voices")
	}
}

func TestMixerSumsOverlapAndClamps(t *testing.T) {
	t.Parallel()

	m := NewMixer(2)
	_, _ = m.PlayAt([]float32{0.75, 0.25}, 0, nil)
	_, _ = m.PlayAt([]float32{0.75, 0.25}, 0, nil)

	out := make([]float32, 2)
	m.Render(out)
	if out[0] != 1 || out[1] != 0.5 {
		t.Fatalf("unexpected mix: %v", out)
	}
}

func TestMixerMovesPastStartToNow(t *testing.T) {
	t.Parallel()

	m := NewMixer(2)
	m.Render(make([]float32, 4))

	_, _ = m.PlayAt([]float32{0.5}, 0, nil)
	out := make([]float32, 1)
	m.Render(out)
	if out[0] != 0.5 {
		t.Fatalf("late voice should start immediately, got %v", out)
	}
}

func TestMixerStopSilencesWithoutCallback(t *testing.T) {
	t.Parallel()

	m := NewMixer(2)
	called := false
	h, _ := m.PlayAt([]float32{1, 1}, 0, func() { called = true })
	h.Stop()
	h.Stop()

	out := make([]float32, 2)
	m.Render(out)
	if out[0] != 0 || called {
		t.Fatalf("stopped voice should be silent and not complete")
	}
}

func TestMixerCloseRejectsPlayback(t *testing.T) {
	t.Parallel()

	m := NewMixer(2)
	called := false
	_, _ = m.PlayAt([]float32{1}, 0, func() { called = true })
	_ = m.Close()

	if _, err := m.PlayAt([]float32{1}, 0, nil); !errors.Is(err, ErrOutputClosed) {
		t.Fatalf("expected ErrOutputClosed, got %v", err)
	}
	m.Render(make([]float32, 2))
	if called {
		t.Fatalf("closed mixer must not complete voices")
	}
}

func TestMixerCompletionMayReenter(t *testing.T) {
	t.Parallel()

	m := NewMixer(2)
	_, _ = m.PlayAt([]float32{1}, 0, func() {
		_, _ = m.PlayAt([]float32{0.5}, m.CurrentTime(), nil)
	})

	m.Render(make([]float32, 2))
	if m.Pending() != 1 {
		t.Fatalf("expected the re-entrant voice to be queued")
	}
}
