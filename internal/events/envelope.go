// Package events forwards transcript updates to external sinks.
package events

import (
	"time"

	"github.com/google/uuid"

	"livetalk/internal/domain"
)

const (
	eventTypePartial = "partial"
	eventTypeTurn    = "turn"
)

// Envelope is the wire payload shared by every sink.
type Envelope struct {
	EventID    string           `json:"eventId"`
	SessionID  string           `json:"sessionId"`
	Type       string           `json:"type"`
	OccurredAt time.Time        `json:"occurredAt"`
	Partials   *domain.Partials `json:"partials,omitempty"`
	Turn       *domain.Turn     `json:"turn,omitempty"`
}

func partialEnvelope(sessionID string, partials domain.Partials) Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		SessionID:  sessionID,
		Type:       eventTypePartial,
		OccurredAt: time.Now().UTC(),
		Partials:   &partials,
	}
}

func turnEnvelope(sessionID string, turn domain.Turn) Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		SessionID:  sessionID,
		Type:       eventTypeTurn,
		OccurredAt: time.Now().UTC(),
		Turn:       &turn,
	}
}
