// Package config provides configuration for the Luna relay. Settings are read
// from environment variables with the LUNA_ prefix, with sensible defaults for
// every option. An optional YAML config file can override the environment via
// LoadFile; explicit environment variables still win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the relay.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Speech     SpeechConfig     `yaml:"speech"`
	Session    SessionConfig    `yaml:"session"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains the event-feed listener settings.
type ServerConfig struct {
	Host string `yaml:"host"` // Listener host (default: 127.0.0.1)
	Port int    `yaml:"port"` // Listener port (default: 7373)
}

// StorageConfig selects and configures the document store backend.
type StorageConfig struct {
	Backend  string `yaml:"backend"`   // sqlite or postgres (default: sqlite)
	DataPath string `yaml:"data_path"` // SQLite data directory (default: ./data)
	Postgres string `yaml:"postgres"`  // Postgres connection string (lib/pq DSN)
}

// LLMConfig configures the completion providers.
type LLMConfig struct {
	Provider        string        `yaml:"provider"`         // openai, gemini, or grok (default: openai)
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	OpenAIModel     string        `yaml:"openai_model"`     // default: gpt-4o
	ExtractionModel string        `yaml:"extraction_model"` // default: gpt-4o-mini
	GeminiAPIKey    string        `yaml:"gemini_api_key"`
	GeminiModel     string        `yaml:"gemini_model"` // default: gemini-1.5-flash
	GrokAPIKey      string        `yaml:"grok_api_key"`
	GrokModel       string        `yaml:"grok_model"` // default: grok-2-latest
	Timeout         time.Duration `yaml:"timeout"`    // Per-call timeout (default: 30s)
}

// SpeechConfig configures the STT/TTS providers.
type SpeechConfig struct {
	WhisperAPIKey     string `yaml:"whisper_api_key"` // Falls back to the OpenAI key
	TTSProvider       string `yaml:"tts_provider"`    // elevenlabs or speechify (default: elevenlabs)
	ElevenLabsAPIKey  string `yaml:"elevenlabs_api_key"`
	ElevenLabsVoiceID string `yaml:"elevenlabs_voice_id"`
	SpeechifyAPIKey   string `yaml:"speechify_api_key"`
	SpeechifyVoiceID  string `yaml:"speechify_voice_id"`
}

// SessionConfig controls conversation session lifecycle.
type SessionConfig struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"` // Session expiry (default: 120s)
	HistoryWindow     int           `yaml:"history_window"`     // Messages of history sent to the LLM (default: 6)
}

// ExtractionConfig controls the background extraction scheduler.
type ExtractionConfig struct {
	Workers    int     `yaml:"workers"`      // Worker goroutines (default: 2)
	QueueSize  int     `yaml:"queue_size"`   // Buffered job slots (default: 64)
	RatePerMin float64 `yaml:"rate_per_min"` // Extraction runs per minute (default: 30)
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text or json (default: text)
}

// Load builds a Config from environment variables and defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("LUNA_HOST", "127.0.0.1"),
			Port: getEnvInt("LUNA_PORT", 7373),
		},
		Storage: StorageConfig{
			Backend:  getEnv("LUNA_STORAGE_BACKEND", "sqlite"),
			DataPath: getEnv("LUNA_DATA_PATH", "./data"),
			Postgres: getEnv("LUNA_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			Provider:        getEnv("LUNA_LLM_PROVIDER", "openai"),
			OpenAIAPIKey:    getEnv("LUNA_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY")),
			OpenAIModel:     getEnv("LUNA_OPENAI_MODEL", "gpt-4o"),
			ExtractionModel: getEnv("LUNA_EXTRACTION_MODEL", "gpt-4o-mini"),
			GeminiAPIKey:    getEnv("LUNA_GEMINI_API_KEY", ""),
			GeminiModel:     getEnv("LUNA_GEMINI_MODEL", "gemini-1.5-flash"),
			GrokAPIKey:      getEnv("LUNA_GROK_API_KEY", ""),
			GrokModel:       getEnv("LUNA_GROK_MODEL", "grok-2-latest"),
			Timeout:         getEnvDuration("LUNA_LLM_TIMEOUT", 30*time.Second),
		},
		Speech: SpeechConfig{
			WhisperAPIKey:     getEnv("LUNA_WHISPER_API_KEY", ""),
			TTSProvider:       getEnv("LUNA_TTS_PROVIDER", "elevenlabs"),
			ElevenLabsAPIKey:  getEnv("LUNA_ELEVENLABS_API_KEY", ""),
			ElevenLabsVoiceID: getEnv("LUNA_ELEVENLABS_VOICE_ID", ""),
			SpeechifyAPIKey:   getEnv("LUNA_SPEECHIFY_API_KEY", ""),
			SpeechifyVoiceID:  getEnv("LUNA_SPEECHIFY_VOICE_ID", ""),
		},
		Session: SessionConfig{
			InactivityTimeout: getEnvDuration("LUNA_SESSION_INACTIVITY_TIMEOUT", 120*time.Second),
			HistoryWindow:     getEnvInt("LUNA_SESSION_HISTORY_WINDOW", 6),
		},
		Extraction: ExtractionConfig{
			Workers:    getEnvInt("LUNA_EXTRACTION_WORKERS", 2),
			QueueSize:  getEnvInt("LUNA_EXTRACTION_QUEUE_SIZE", 64),
			RatePerMin: getEnvFloat("LUNA_EXTRACTION_RATE_PER_MIN", 30),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LUNA_LOG_LEVEL", "info"),
			Format: getEnv("LUNA_LOG_FORMAT", "text"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML config file over the environment-derived base. Values
// present in the file replace the base; env vars set explicitly still apply
// because Load reads them first and the file only overrides non-zero fields.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.Postgres == "" {
		return fmt.Errorf("config: postgres backend selected but LUNA_POSTGRES_DSN is empty")
	}
	switch c.LLM.Provider {
	case "openai", "gemini", "grok":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.Extraction.Workers < 1 {
		return fmt.Errorf("config: extraction workers must be >= 1, got %d", c.Extraction.Workers)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value, also used when the variable cannot be parsed.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration syntax,
// or a bare number of seconds) or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
