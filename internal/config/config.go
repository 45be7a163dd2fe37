package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the live conversation client.
type Config struct {
	Gemini        GeminiConfig        `yaml:"gemini"`
	Audio         AudioConfig         `yaml:"audio"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Session       SessionConfig       `yaml:"session"`
	Rules         RulesConfig         `yaml:"rules"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	NATS          NATSConfig          `yaml:"nats"`
	History       HistoryConfig       `yaml:"history"`
}

type GeminiConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Voice               string `yaml:"voice"`
	SystemInstruction   string `yaml:"system_instruction"`
	InputTranscription  bool   `yaml:"input_transcription"`
	OutputTranscription bool   `yaml:"output_transcription"`
}

type AudioConfig struct {
	Backend          string `yaml:"backend"`
	RecorderCommand  string `yaml:"recorder_command"`
	InputFormat      string `yaml:"input_format"`
	InputDevice      string `yaml:"input_device"`
	InputSampleRate  int    `yaml:"input_sample_rate"`
	OutputSampleRate int    `yaml:"output_sample_rate"`
	Channels         int    `yaml:"channels"`
	BlockSize        int    `yaml:"block_size"`
	FramesPerBuffer  int    `yaml:"frames_per_buffer"`
}

type PlaybackConfig struct {
	MaxQueuedFragments int `yaml:"max_queued_fragments"`
}

type SessionConfig struct {
	PublishQueueSize int           `yaml:"publish_queue_size"`
	PublishTimeout   time.Duration `yaml:"publish_timeout"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout, otlp
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	PartialTopic string   `yaml:"partial_topic"`
	TurnTopic    string   `yaml:"turn_topic"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type HistoryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Path           string        `yaml:"path"`
	Retention      time.Duration `yaml:"retention"`
	MaxSessions    int           `yaml:"max_sessions"`
	RestoreLimit   int           `yaml:"restore_limit"`
	RestoreOnStart bool          `yaml:"restore_on_start"`
}

const defaultSystemInstruction = "You are a friendly and helpful assistant. Keep your answers concise and conversational."

// Load resolves configuration from a .env file, an optional YAML file named
// by LIVETALK_CONFIG_FILE, environment variables and defaults, in increasing
// order of precedence.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("LIVETALK_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Defaults(home)
	if path := strings.TrimSpace(os.Getenv("LIVETALK_CONFIG_FILE")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// Defaults returns the built-in configuration rooted at home.
func Defaults(home string) Config {
	defaultRules := filepath.Join(home, ".config", "livetalk", "substitutions.rules")
	return Config{
		Gemini: GeminiConfig{
			BaseURL:             "wss://generativelanguage.googleapis.com",
			Model:               "gemini-2.5-flash-native-audio-preview-09-2025",
			Voice:               "Zephyr",
			SystemInstruction:   defaultSystemInstruction,
			InputTranscription:  true,
			OutputTranscription: true,
		},
		Audio: AudioConfig{
			Backend:          "portaudio",
			RecorderCommand:  "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			Channels:         1,
			BlockSize:        4096,
			FramesPerBuffer:  1024,
		},
		Playback: PlaybackConfig{
			MaxQueuedFragments: 512,
		},
		Session: SessionConfig{
			PublishQueueSize: 256,
			PublishTimeout:   5 * time.Second,
		},
		Rules: RulesConfig{
			Path:           defaultRules,
			IterationLimit: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Observability: ObservabilityConfig{
			Addr: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
		Kafka: KafkaConfig{
			PartialTopic: "livetalk.transcript.partial",
			TurnTopic:    "livetalk.transcript.turn",
		},
		NATS: NATSConfig{
			SubjectPrefix: "livetalk.transcript",
		},
		History: HistoryConfig{
			Enabled:        true,
			Path:           filepath.Join(home, ".local", "share", "livetalk", "history.db"),
			Retention:      30 * 24 * time.Hour,
			RestoreLimit:   200,
			RestoreOnStart: true,
		},
	}
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Gemini.APIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY"), cfg.Gemini.APIKey)
	cfg.Gemini.BaseURL = envOrDefault("GEMINI_API_BASE", cfg.Gemini.BaseURL)
	cfg.Gemini.Model = envOrDefault("GEMINI_MODEL", cfg.Gemini.Model)
	cfg.Gemini.Voice = envOrDefault("GEMINI_VOICE", cfg.Gemini.Voice)
	cfg.Gemini.SystemInstruction = envOrDefault("LIVETALK_SYSTEM_INSTRUCTION", cfg.Gemini.SystemInstruction)
	cfg.Gemini.InputTranscription = envOrDefaultBool("LIVETALK_INPUT_TRANSCRIPTION", cfg.Gemini.InputTranscription)
	cfg.Gemini.OutputTranscription = envOrDefaultBool("LIVETALK_OUTPUT_TRANSCRIPTION", cfg.Gemini.OutputTranscription)

	cfg.Audio.Backend = strings.ToLower(envOrDefault("LIVETALK_AUDIO_BACKEND", cfg.Audio.Backend))
	cfg.Audio.RecorderCommand = envOrDefault("LIVETALK_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("LIVETALK_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("LIVETALK_AUDIO_INPUT_DEVICE"), cfg.Audio.InputDevice, "default")
	cfg.Audio.InputSampleRate = envOrDefaultInt("LIVETALK_INPUT_SAMPLE_RATE", cfg.Audio.InputSampleRate)
	cfg.Audio.OutputSampleRate = envOrDefaultInt("LIVETALK_OUTPUT_SAMPLE_RATE", cfg.Audio.OutputSampleRate)
	cfg.Audio.Channels = envOrDefaultInt("LIVETALK_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.BlockSize = envOrDefaultInt("LIVETALK_BLOCK_SIZE", cfg.Audio.BlockSize)
	cfg.Audio.FramesPerBuffer = envOrDefaultInt("LIVETALK_FRAMES_PER_BUFFER", cfg.Audio.FramesPerBuffer)

	cfg.Playback.MaxQueuedFragments = envOrDefaultInt("LIVETALK_MAX_QUEUED_FRAGMENTS", cfg.Playback.MaxQueuedFragments)

	cfg.Session.PublishQueueSize = envOrDefaultInt("LIVETALK_PUBLISH_QUEUE_SIZE", cfg.Session.PublishQueueSize)
	cfg.Session.PublishTimeout = envOrDefaultDuration("LIVETALK_PUBLISH_TIMEOUT", cfg.Session.PublishTimeout)

	cfg.Rules.Path = envOrDefault("LIVETALK_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("LIVETALK_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Logging.Level = envOrDefault("LIVETALK_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("LIVETALK_LOG_FORMAT", cfg.Logging.Format)

	cfg.Observability.Enabled = envOrDefaultBool("LIVETALK_OBSERVABILITY_ENABLED", cfg.Observability.Enabled)
	cfg.Observability.Addr = envOrDefault("LIVETALK_OBSERVABILITY_ADDR", cfg.Observability.Addr)

	cfg.Tracing.Exporter = strings.ToLower(envOrDefault("LIVETALK_TRACING_EXPORTER", cfg.Tracing.Exporter))
	cfg.Tracing.Endpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Insecure = envOrDefaultBool("LIVETALK_TRACING_INSECURE", cfg.Tracing.Insecure)

	cfg.Kafka.Enabled = envOrDefaultBool("LIVETALK_KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envOrDefaultList("LIVETALK_KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.PartialTopic = envOrDefault("LIVETALK_KAFKA_PARTIAL_TOPIC", cfg.Kafka.PartialTopic)
	cfg.Kafka.TurnTopic = envOrDefault("LIVETALK_KAFKA_TURN_TOPIC", cfg.Kafka.TurnTopic)

	cfg.NATS.URL = envOrDefault("LIVETALK_NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = envOrDefault("LIVETALK_NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)

	cfg.History.Enabled = envOrDefaultBool("LIVETALK_HISTORY_ENABLED", cfg.History.Enabled)
	cfg.History.Path = envOrDefault("LIVETALK_HISTORY_PATH", cfg.History.Path)
	cfg.History.Retention = envOrDefaultDuration("LIVETALK_HISTORY_RETENTION", cfg.History.Retention)
	cfg.History.MaxSessions = envOrDefaultInt("LIVETALK_HISTORY_MAX_SESSIONS", cfg.History.MaxSessions)
	cfg.History.RestoreLimit = envOrDefaultInt("LIVETALK_HISTORY_RESTORE_LIMIT", cfg.History.RestoreLimit)
	cfg.History.RestoreOnStart = envOrDefaultBool("LIVETALK_HISTORY_RESTORE", cfg.History.RestoreOnStart)
}

func normalize(cfg *Config) {
	if cfg.Audio.Backend != "portaudio" && cfg.Audio.Backend != "ffmpeg" {
		cfg.Audio.Backend = "portaudio"
	}
	if cfg.Audio.InputSampleRate <= 0 {
		cfg.Audio.InputSampleRate = 16000
	}
	if cfg.Audio.OutputSampleRate <= 0 {
		cfg.Audio.OutputSampleRate = 24000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.BlockSize < 256 {
		cfg.Audio.BlockSize = 4096
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		cfg.Audio.FramesPerBuffer = 1024
	}
	if cfg.Playback.MaxQueuedFragments < 0 {
		cfg.Playback.MaxQueuedFragments = 0
	}
	if cfg.Session.PublishQueueSize <= 0 {
		cfg.Session.PublishQueueSize = 256
	}
	if cfg.Session.PublishTimeout <= 0 {
		cfg.Session.PublishTimeout = 5 * time.Second
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envOrDefaultList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
