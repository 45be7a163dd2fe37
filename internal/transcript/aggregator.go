package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"livetalk/internal/domain"
)

// Aggregator accumulates the open turn for both sides and owns the committed
// history. All mutations hold one lock, so a commit and its reset are never
// observed separately.
type Aggregator struct {
	mu      sync.Mutex
	user    strings.Builder
	remote  strings.Builder
	history []domain.Turn
	now     func() time.Time
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// OnPartial appends text to the given side and returns the updated partials.
func (a *Aggregator) OnPartial(side domain.Side, text string) (domain.Partials, error) {
	if !side.Valid() {
		return domain.Partials{}, fmt.Errorf("%w: unknown transcript side %q", domain.ErrProtocol, side)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if side == domain.SideUser {
		a.user.WriteString(text)
	} else {
		a.remote.WriteString(text)
	}
	return a.partialsLocked(), nil
}

// OnTurnComplete commits the open turn when either side has non-blank text,
// then clears both accumulators. ok is false when nothing was committed.
func (a *Aggregator) OnTurnComplete() (domain.Turn, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	turn := domain.Turn{User: a.user.String(), Remote: a.remote.String()}
	a.user.Reset()
	a.remote.Reset()

	if strings.TrimSpace(turn.User) == "" && strings.TrimSpace(turn.Remote) == "" {
		return domain.Turn{}, false
	}
	turn.CompletedAt = a.now().UTC()
	a.history = append(a.history, turn)
	return turn, true
}

// ResetTurn discards the open turn without touching history.
func (a *Aggregator) ResetTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Reset()
	a.remote.Reset()
}

func (a *Aggregator) Partials() domain.Partials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partialsLocked()
}

// History returns a copy of the committed turns in order.
func (a *Aggregator) History() []domain.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Turn, len(a.history))
	copy(out, a.history)
	return out
}

// Restore replaces history with previously persisted turns.
func (a *Aggregator) Restore(turns []domain.Turn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append([]domain.Turn(nil), turns...)
}

func (a *Aggregator) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}

func (a *Aggregator) partialsLocked() domain.Partials {
	return domain.Partials{User: a.user.String(), Remote: a.remote.String()}
}
