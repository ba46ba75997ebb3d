// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	Recognizer    RecognizerConfig
	Conversation  ConversationConfig
	Synthesis     SynthesisConfig
	Bus           BusConfig
	Session       SessionConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal       string
	HTTPPort        string
	GRPCPort        string
	MetricsPort     string
	StaticDir       string
	GRPCHealth      bool
	ShutdownTimeout time.Duration
}

// RecognizerConfig selects and configures the speech recognizer.
type RecognizerConfig struct {
	Provider      string // mock, google, whisper
	LanguageCode  string
	SampleRateHz  int
	AudioEncoding string
	Endpoint      string // optional Google API endpoint override
	WhisperURL    string
	WhisperModel  string
	Timeout       time.Duration
	MaxConcurrent int64
}

// ConversationConfig selects and configures the language model.
type ConversationConfig struct {
	Provider string // mock, ollama, gemini
	URL      string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// SynthesisConfig selects and configures the speech synthesizer.
type SynthesisConfig struct {
	Provider string // mock, remote
	URL      string
	Timeout  time.Duration
}

// BusConfig configures the telemetry event bus.
type BusConfig struct {
	Backend      string // none, kafka, redis
	Brokers      []string
	RedisURL     string
	TopicPrefix  string
	Principal    string
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// SessionConfig holds per-connection limits and defaults.
type SessionConfig struct {
	DefaultTemperature   float64
	DefaultContextLength int
	MaxAudioBytes        int64
	MaxMessageBytes      int64
	PendingUtterances    int
	RelayQueueSize       int
	WriteTimeout         time.Duration
	PingInterval         time.Duration
	DrainTimeout         time.Duration
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment, falling back to
// defaults for unset or unparseable values.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-relay")

	return &Config{
		Service: ServiceConfig{
			Principal:       principal,
			HTTPPort:        envOrDefault("HTTP_PORT", "8000"),
			GRPCPort:        envOrDefault("GRPC_PORT", "50051"),
			MetricsPort:     envOrDefault("METRICS_PORT", "9090"),
			StaticDir:       envOrDefault("STATIC_DIR", ""),
			GRPCHealth:      envOrDefaultBool("GRPC_HEALTH_ENABLED", true),
			ShutdownTimeout: envOrDefaultDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Recognizer: RecognizerConfig{
			Provider:      envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:  envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:  envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			AudioEncoding: envOrDefault("STT_AUDIO_ENCODING", "OGG_OPUS"),
			Endpoint:      envOrDefault("STT_ENDPOINT", ""),
			WhisperURL:    envOrDefault("WHISPER_URL", "http://whisper:8000/v1/audio/transcriptions"),
			WhisperModel:  envOrDefault("WHISPER_MODEL_SIZE", "base.en"),
			Timeout:       envOrDefaultDuration("STT_TIMEOUT", 30*time.Second),
			MaxConcurrent: envOrDefaultInt64("STT_MAX_CONCURRENT", 2),
		},
		Conversation: ConversationConfig{
			Provider: envOrDefault("LLM_PROVIDER", "mock"),
			URL:      envOrDefault("LLM_URL", "http://llm-brain:11434/api/chat"),
			Model:    envOrDefault("LLM_MODEL", "mistral"),
			APIKey:   envOrDefault("LLM_API_KEY", ""),
			Timeout:  envOrDefaultDuration("LLM_TIMEOUT", 120*time.Second),
		},
		Synthesis: SynthesisConfig{
			Provider: envOrDefault("TTS_PROVIDER", "mock"),
			URL:      envOrDefault("TTS_URL", ""),
			Timeout:  envOrDefaultDuration("TTS_TIMEOUT", 60*time.Second),
		},
		Bus: BusConfig{
			Backend:      envOrDefault("BUS_BACKEND", "none"),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			RedisURL:     envOrDefault("ORION_BUS_URL", "redis://localhost:6379"),
			TopicPrefix:  envOrDefault("BUS_TOPIC_PREFIX", "orion.voice"),
			Principal:    envOrDefault("BUS_PRINCIPAL", principal),
			QueueSize:    envOrDefaultInt("BUS_QUEUE_SIZE", 1024),
			Workers:      envOrDefaultInt("BUS_WORKERS", 4),
			WriteTimeout: envOrDefaultDuration("BUS_WRITE_TIMEOUT", 5*time.Second),
		},
		Session: SessionConfig{
			DefaultTemperature:   envOrDefaultFloat("SESSION_DEFAULT_TEMPERATURE", 0.7),
			DefaultContextLength: envOrDefaultInt("SESSION_DEFAULT_CONTEXT_LENGTH", 10),
			MaxAudioBytes:        envOrDefaultInt64("SESSION_MAX_AUDIO_BYTES", 10*1024*1024),
			MaxMessageBytes:      envOrDefaultInt64("SESSION_MAX_MESSAGE_BYTES", 16*1024*1024),
			PendingUtterances:    envOrDefaultInt("SESSION_PENDING_UTTERANCES", 32),
			RelayQueueSize:       envOrDefaultInt("SESSION_RELAY_QUEUE_SIZE", 64),
			WriteTimeout:         envOrDefaultDuration("SESSION_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:         envOrDefaultDuration("SESSION_PING_INTERVAL", 20*time.Second),
			DrainTimeout:         envOrDefaultDuration("SESSION_DRAIN_TIMEOUT", 5*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
