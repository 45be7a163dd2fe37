package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"livetalk/internal/domain"
	"livetalk/internal/playback"
)

func TestLiveSessionReleaseRefusesSchedulerTakenEarlier(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	out := &fakeOutputContext{log: log}
	_, cancel := context.WithCancel(context.Background())
	s := newLiveSession("s1", cancel, trace.SpanFromContext(context.Background()), zerolog.Nop())
	if !s.attachOutput(out, playback.Config{}) {
		t.Fatalf("attach output refused")
	}

	// The dispatch goroutine may hold the scheduler when release runs.
	scheduler := s.playback()
	if scheduler == nil {
		t.Fatalf("expected a scheduler before release")
	}
	if err := s.release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	fragment := domain.AudioFragment{Data: make([]byte, 480), SampleRate: 24000}
	if _, err := scheduler.Schedule(fragment); !errors.Is(err, playback.ErrSchedulerClosed) {
		t.Fatalf("expected ErrSchedulerClosed, got %v", err)
	}
	if out.playCount() != 0 {
		t.Fatalf("fragment reached the output after release")
	}
	if s.playback() != nil {
		t.Fatalf("released session should not hand out a scheduler")
	}
	log.expectOrder(t, "output.close")
}
