package events

import (
	"context"
	"errors"

	"livetalk/internal/domain"
	"livetalk/internal/ports"
)

// Fanout publishes every update to all sinks, in order, and joins failures.
type Fanout []ports.TranscriptPublisher

func (f Fanout) PublishPartial(ctx context.Context, sessionID string, partials domain.Partials) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishPartial(ctx, sessionID, partials); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishTurn(ctx, sessionID, turn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
