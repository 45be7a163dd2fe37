package events

import (
	"context"
	"encoding/json"
	"testing"

	"livetalk/internal/domain"
)

func TestNewKafkaDisabledMode(t *testing.T) {
	t.Parallel()

	cases := map[string]KafkaConfig{
		"disabled":    {Enabled: false, Brokers: []string{"localhost:9092"}},
		"no brokers":  {Enabled: true, Brokers: []string{}},
		"nil brokers": {Enabled: true},
	}
	for name, cfg := range cases {
		p := NewKafka(cfg)
		if p.Enabled() {
			t.Fatalf("%s: expected publisher to be disabled", name)
		}
		if p.writerPartial != nil || p.writerTurn != nil {
			t.Fatalf("%s: expected no writers when disabled", name)
		}
		if err := p.Close(); err != nil {
			t.Fatalf("%s: close failed: %v", name, err)
		}
	}
}

func TestNewKafkaEnabledBuildsWriters(t *testing.T) {
	t.Parallel()

	p := NewKafka(KafkaConfig{
		Enabled:      true,
		Brokers:      []string{"127.0.0.1:1"},
		PartialTopic: "t.partial",
		TurnTopic:    "t.turn",
	})
	defer func() { _ = p.Close() }()

	if !p.Enabled() {
		t.Fatalf("expected enabled publisher")
	}
	if p.writerPartial.Topic != "t.partial" || p.writerTurn.Topic != "t.turn" {
		t.Fatalf("unexpected topics %q %q", p.writerPartial.Topic, p.writerTurn.Topic)
	}
}

func TestKafkaPublishDisabledIsNoop(t *testing.T) {
	t.Parallel()

	p := NewKafka(KafkaConfig{})
	if err := p.PublishPartial(context.Background(), "s1", domain.Partials{User: "hel"}); err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
	if err := p.PublishTurn(context.Background(), "s1", domain.Turn{User: "hello", Remote: "hi"}); err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
}

func TestEnvelopeShape(t *testing.T) {
	t.Parallel()

	env := turnEnvelope("s1", domain.Turn{User: "hello", Remote: "hi"})
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["type"] != "turn" || decoded["sessionId"] != "s1" || decoded["eventId"] == "" {
		t.Fatalf("unexpected envelope: %s", payload)
	}
	if _, ok := decoded["partials"]; ok {
		t.Fatalf("turn envelope should omit partials: %s", payload)
	}
	turn, ok := decoded["turn"].(map[string]any)
	if !ok || turn["user"] != "hello" || turn["remote"] != "hi" {
		t.Fatalf("unexpected turn payload: %s", payload)
	}

	if a, b := partialEnvelope("s", domain.Partials{}), partialEnvelope("s", domain.Partials{}); a.EventID == b.EventID {
		t.Fatalf("event ids should be unique")
	}
}
