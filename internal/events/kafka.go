package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"livetalk/internal/domain"
	"livetalk/internal/observability/metrics"
)

const sinkKafka = "kafka"

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	PartialTopic string
	TurnTopic    string
}

// KafkaPublisher writes transcript envelopes to one topic for partials and
// one for committed turns, keyed by session ID.
type KafkaPublisher struct {
	writerPartial *kafka.Writer
	writerTurn    *kafka.Writer
	topicPartial  string
	topicTurn     string
	enabled       bool
	metrics       *metrics.Metrics
}

// NewKafka creates a publisher. When disabled or without brokers it only logs.
func NewKafka(cfg KafkaConfig) *KafkaPublisher {
	p := &KafkaPublisher{
		topicPartial: cfg.PartialTopic,
		topicTurn:    cfg.TurnTopic,
		metrics:      metrics.DefaultMetrics,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	transport := &kafka.Transport{
		Dial: (&kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}).DialFunc,
	}
	p.writerPartial = newKafkaWriter(cfg.Brokers, cfg.PartialTopic, transport)
	p.writerTurn = newKafkaWriter(cfg.Brokers, cfg.TurnTopic, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.PartialTopic).
		Str("topicTurn", cfg.TurnTopic).
		Msg("Kafka publisher initialized")
	return p
}

func newKafkaWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether messages reach a broker.
func (p *KafkaPublisher) Enabled() bool {
	return p.enabled
}

// PublishPartial publishes the in-progress turn to the partial topic.
func (p *KafkaPublisher) PublishPartial(ctx context.Context, sessionID string, partials domain.Partials) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, partialEnvelope(sessionID, partials))
}

// PublishTurn publishes a committed turn to the turn topic.
func (p *KafkaPublisher) PublishTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	return p.publish(ctx, p.writerTurn, p.topicTurn, turnEnvelope(sessionID, turn))
}

func (p *KafkaPublisher) publish(ctx context.Context, writer *kafka.Writer, topic string, env Envelope) error {
	start := time.Now()

	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("topic", topic).
		Str("sessionId", env.SessionID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordPublish(sinkKafka, env.Type, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(env.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(env.Type)},
			{Key: "eventId", Value: []byte(env.EventID)},
		},
	}
	err = writer.WriteMessages(ctx, msg)
	p.metrics.RecordPublish(sinkKafka, env.Type, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Str("sessionId", env.SessionID).Msg("Failed to write to Kafka")
		return err
	}
	return nil
}

// Close closes both writers.
func (p *KafkaPublisher) Close() error {
	var errs []error
	for _, w := range []*kafka.Writer{p.writerPartial, p.writerTurn} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("topic", w.Topic).Msg("Error closing Kafka writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
