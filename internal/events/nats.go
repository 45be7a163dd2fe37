package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"livetalk/internal/domain"
	"livetalk/internal/observability/metrics"
)

const sinkNATS = "nats"

// NATSConfig holds NATS publisher configuration.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	ConnectTimeout time.Duration
}

// NATSPublisher publishes envelopes on <prefix>.partial and <prefix>.turn.
type NATSPublisher struct {
	conn    *nats.Conn
	prefix  string
	metrics *metrics.Metrics
}

// ConnectNATS dials the configured servers. A comma separated URL list is
// accepted.
func ConnectNATS(cfg NATSConfig) (*NATSPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("no NATS servers configured")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("livetalk"),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	prefix := strings.TrimSuffix(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		prefix = "livetalk.transcript"
	}
	log.Info().Str("url", conn.ConnectedUrl()).Str("prefix", prefix).Msg("connected to NATS")

	return &NATSPublisher{conn: conn, prefix: prefix, metrics: metrics.DefaultMetrics}, nil
}

// PartialSubject is the subject carrying partial updates.
func (p *NATSPublisher) PartialSubject() string {
	return p.prefix + "." + eventTypePartial
}

// TurnSubject is the subject carrying committed turns.
func (p *NATSPublisher) TurnSubject() string {
	return p.prefix + "." + eventTypeTurn
}

// Healthy reports whether the connection is up.
func (p *NATSPublisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

func (p *NATSPublisher) PublishPartial(ctx context.Context, sessionID string, partials domain.Partials) error {
	return p.publish(ctx, p.PartialSubject(), partialEnvelope(sessionID, partials))
}

func (p *NATSPublisher) PublishTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	return p.publish(ctx, p.TurnSubject(), turnEnvelope(sessionID, turn))
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, env Envelope) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", env.Type, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set("Nats-Msg-Id", env.EventID)
	msg.Header.Set("Session-Id", env.SessionID)

	err = p.conn.PublishMsg(msg)
	p.metrics.RecordPublish(sinkNATS, env.Type, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish to NATS")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	log.Info().Msg("closing NATS connection")
	err := p.conn.FlushTimeout(time.Second)
	p.conn.Close()
	if err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}
