package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServerEndpoints(t *testing.T) {
	var notReady atomic.Bool
	notReady.Store(true)

	s := NewServer("127.0.0.1:0", func() error {
		if notReady.Load() {
			return errors.New("history store unavailable")
		}
		return nil
	})
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	base := "http://" + s.Addr()

	if code, body := get(t, base+"/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("unexpected healthz %d %q", code, body)
	}
	if code, body := get(t, base+"/readyz"); code != http.StatusServiceUnavailable || body != "history store unavailable" {
		t.Fatalf("unexpected readyz %d %q", code, body)
	}
	notReady.Store(false)
	if code, body := get(t, base+"/readyz"); code != http.StatusOK || body != "ready" {
		t.Fatalf("unexpected readyz %d %q", code, body)
	}
	if code, body := get(t, base+"/metrics"); code != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", code)
	}
}

func TestServerStartFailsOnBadAddr(t *testing.T) {
	s := NewServer("256.0.0.1:bad", nil)
	if err := s.Start(); err == nil {
		t.Fatalf("expected listen error")
	}
}

func TestInitTracerNoneIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{Exporter: "none"})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestInitTracerRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracer(context.Background(), TracingConfig{Exporter: "zipkin"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestInitTracerStdoutExportsSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := InitTracer(context.Background(), TracingConfig{Exporter: "stdout", Writer: &buf, ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	_, span := otel.Tracer("livetalk/test").Start(context.Background(), "live-session")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if !strings.Contains(buf.String(), "live-session") {
		t.Fatalf("expected exported span, got %q", buf.String())
	}
}
