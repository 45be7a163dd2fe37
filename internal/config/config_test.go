package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("LIVETALK_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("LIVETALK_CONFIG_FILE", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Gemini.Model != "gemini-2.5-flash-native-audio-preview-09-2025" || cfg.Gemini.Voice != "Zephyr" {
		t.Fatalf("unexpected gemini defaults: %+v", cfg.Gemini)
	}
	if !cfg.Gemini.InputTranscription || !cfg.Gemini.OutputTranscription {
		t.Fatalf("transcription should be enabled by default")
	}
	if cfg.Audio.InputSampleRate != 16000 || cfg.Audio.OutputSampleRate != 24000 || cfg.Audio.BlockSize != 4096 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Audio.Backend != "portaudio" {
		t.Fatalf("unexpected backend %q", cfg.Audio.Backend)
	}
	if cfg.Playback.MaxQueuedFragments != 512 {
		t.Fatalf("unexpected playback bound %d", cfg.Playback.MaxQueuedFragments)
	}
	if cfg.Rules.Path != filepath.Join(home, ".config", "livetalk", "substitutions.rules") {
		t.Fatalf("unexpected rules path %q", cfg.Rules.Path)
	}
	if cfg.History.Path != filepath.Join(home, ".local", "share", "livetalk", "history.db") {
		t.Fatalf("unexpected history path %q", cfg.History.Path)
	}
	if cfg.Kafka.Enabled || cfg.NATS.URL != "" || cfg.Observability.Enabled {
		t.Fatalf("external sinks should be disabled by default")
	}
}

func TestLoadRespectsEnvOverridesAndFallbacks(t *testing.T) {
	isolate(t)
	t.Setenv("API_KEY", "fallback-key")
	t.Setenv("GEMINI_MODEL", "other-model")
	t.Setenv("GEMINI_VOICE", "Puck")
	t.Setenv("LIVETALK_AUDIO_BACKEND", "FFMPEG")
	t.Setenv("LIVETALK_BLOCK_SIZE", "12")
	t.Setenv("LIVETALK_INPUT_SAMPLE_RATE", "-1")
	t.Setenv("LIVETALK_OUTPUT_TRANSCRIPTION", "off")
	t.Setenv("LIVETALK_MAX_QUEUED_FRAGMENTS", "64")
	t.Setenv("LIVETALK_KAFKA_ENABLED", "true")
	t.Setenv("LIVETALK_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("LIVETALK_PUBLISH_TIMEOUT", "250ms")
	t.Setenv("LIVETALK_HISTORY_RETENTION", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Gemini.APIKey != "fallback-key" {
		t.Fatalf("expected API_KEY fallback, got %q", cfg.Gemini.APIKey)
	}
	if cfg.Gemini.Model != "other-model" || cfg.Gemini.Voice != "Puck" || cfg.Gemini.OutputTranscription {
		t.Fatalf("unexpected gemini config: %+v", cfg.Gemini)
	}
	if cfg.Audio.Backend != "ffmpeg" {
		t.Fatalf("expected ffmpeg backend, got %q", cfg.Audio.Backend)
	}
	if cfg.Audio.BlockSize != 4096 || cfg.Audio.InputSampleRate != 16000 {
		t.Fatalf("expected invalid values to fall back: %+v", cfg.Audio)
	}
	if cfg.Playback.MaxQueuedFragments != 64 {
		t.Fatalf("unexpected playback bound %d", cfg.Playback.MaxQueuedFragments)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Fatalf("unexpected kafka config: %+v", cfg.Kafka)
	}
	if cfg.Session.PublishTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected publish timeout %v", cfg.Session.PublishTimeout)
	}
	if cfg.History.Retention != 30*24*time.Hour {
		t.Fatalf("invalid duration should fall back, got %v", cfg.History.Retention)
	}
}

func TestLoadAppliesYAMLBelowEnv(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "livetalk.yaml")
	contents := `
gemini:
  voice: Kore
  model: yaml-model
audio:
  block_size: 2048
nats:
  url: nats://127.0.0.1:4222
history:
  retention: 48h
  enabled: false
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("LIVETALK_CONFIG_FILE", path)
	t.Setenv("GEMINI_MODEL", "env-model")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Gemini.Voice != "Kore" {
		t.Fatalf("expected yaml voice, got %q", cfg.Gemini.Voice)
	}
	if cfg.Gemini.Model != "env-model" {
		t.Fatalf("expected env to win over yaml, got %q", cfg.Gemini.Model)
	}
	if cfg.Audio.BlockSize != 2048 || cfg.Audio.InputSampleRate != 16000 {
		t.Fatalf("yaml should only override named fields: %+v", cfg.Audio)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Fatalf("unexpected nats url %q", cfg.NATS.URL)
	}
	if cfg.History.Enabled || cfg.History.Retention != 48*time.Hour {
		t.Fatalf("unexpected history config: %+v", cfg.History)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "bad.yaml")
	if err := os.WriteFile(path, []byte("gemini: [unterminated"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("LIVETALK_CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected yaml parse error")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	home := isolate(t)
	envFile := filepath.Join(home, ".env")
	if err := os.WriteFile(envFile, []byte("LIVETALK_TEST_DOTENV_VOICE=Charon\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("LIVETALK_ENV_FILE", envFile)
	t.Cleanup(func() { _ = os.Unsetenv("LIVETALK_TEST_DOTENV_VOICE") })

	if _, err := Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := os.Getenv("LIVETALK_TEST_DOTENV_VOICE"); got != "Charon" {
		t.Fatalf("expected .env value to be exported, got %q", got)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	t.Setenv("LIVETALK_TEST_BOOL", "maybe")
	if !envOrDefaultBool("LIVETALK_TEST_BOOL", true) {
		t.Fatalf("unknown value should fall back")
	}
	t.Setenv("LIVETALK_TEST_BOOL", "Yes")
	if !envOrDefaultBool("LIVETALK_TEST_BOOL", false) {
		t.Fatalf("expected yes to parse as true")
	}
}
