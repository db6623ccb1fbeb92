package config

import (
	"fmt"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the speech bridge
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"`

	// Transcription backend
	ServerURL  string `envconfig:"SERVER_URL" default:"ws://127.0.0.1:2700"`
	ReturnJSON bool   `envconfig:"RETURN_JSON" default:"true"` // Deliver results as JSON objects instead of plain text

	// Transport timings (milliseconds)
	ConnectTimeoutMs  int `envconfig:"CONNECT_TIMEOUT_MS" default:"30000"`  // Websocket handshake bound
	PollTimeoutMs     int `envconfig:"POLL_TIMEOUT_MS" default:"5"`         // Inbound poll after each audio write
	FinalizeTimeoutMs int `envconfig:"FINALIZE_TIMEOUT_MS" default:"60000"` // Wait for the final transcript

	// Audio processing configuration
	AudioBlockSize int `envconfig:"AUDIO_BLOCK_SIZE" default:"3200"` // Bytes per outbound binary frame

	// Session defaults, all tunable per session via parameters
	NoInputTimeoutMs int  `envconfig:"NO_INPUT_TIMEOUT_MS" default:"5000"` // Negative disables
	SpeechTimeoutMs  int  `envconfig:"SPEECH_TIMEOUT_MS" default:"10000"`  // Zero disables
	StartInputTimers bool `envconfig:"START_INPUT_TIMERS" default:"true"`
	VADThresh        int  `envconfig:"VAD_THRESH" default:"400"`
	VADSilenceMs     int  `envconfig:"VAD_SILENCE_MS" default:"700"`
	VADVoiceMs       int  `envconfig:"VAD_VOICE_MS" default:"60"`
	VADMode          int  `envconfig:"VAD_MODE" default:"-1"`
	PartialResults   int  `envconfig:"PARTIAL_RESULTS" default:"3"` // Partial pulls armed by the "partial" parameter

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failed handshakes before failing fast
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Reload configuration on SIGHUP
	AutoReload bool `envconfig:"AUTO_RELOAD" default:"true"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// ConnectTimeout returns the handshake bound
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// PollTimeout returns the bound of the inbound poll on the audio path
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}

// FinalizeTimeout returns the bound of the end-of-stream handshake
func (c *Config) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutMs) * time.Millisecond
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration with every default applied
func Default() *Config {
	return &Config{
		Port:                       "8080",
		GRPCPort:                   "9090",
		ServerURL:                  "ws://127.0.0.1:2700",
		ReturnJSON:                 true,
		ConnectTimeoutMs:           30000,
		PollTimeoutMs:              5,
		FinalizeTimeoutMs:          60000,
		AudioBlockSize:             3200,
		NoInputTimeoutMs:           5000,
		SpeechTimeoutMs:            10000,
		StartInputTimers:           true,
		VADThresh:                  400,
		VADSilenceMs:               700,
		VADVoiceMs:                 60,
		VADMode:                    -1,
		PartialResults:             3,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		AutoReload:                 true,
		LogLevel:                   "info",
		MetricsEnabled:             true,
	}
}

// Validate checks field ranges
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("SERVER_URL is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("SERVER_URL must use ws or wss, got %q", u.Scheme)
	}
	if c.AudioBlockSize <= 0 {
		return fmt.Errorf("AUDIO_BLOCK_SIZE must be positive, got %d", c.AudioBlockSize)
	}
	if c.PollTimeoutMs < 0 {
		return fmt.Errorf("POLL_TIMEOUT_MS must not be negative, got %d", c.PollTimeoutMs)
	}
	if c.FinalizeTimeoutMs <= 0 {
		return fmt.Errorf("FINALIZE_TIMEOUT_MS must be positive, got %d", c.FinalizeTimeoutMs)
	}
	if c.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT_MS must be positive, got %d", c.ConnectTimeoutMs)
	}
	if c.PartialResults < 0 {
		return fmt.Errorf("PARTIAL_RESULTS must not be negative, got %d", c.PartialResults)
	}
	return nil
}

// Store is the process-wide configuration holder. Sessions take a
// snapshot with Current when they open; Reload swaps in a new value.
type Store struct {
	current atomic.Pointer[Config]
	loader  func() (*Config, error)
}

// NewStore creates a store seeded with cfg that reloads through loader
func NewStore(cfg *Config, loader func() (*Config, error)) *Store {
	if loader == nil {
		loader = Load
	}
	s := &Store{loader: loader}
	s.current.Store(cfg)
	return s
}

// Current returns the active configuration
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Reload re-reads configuration. The previous value is kept on error.
func (s *Store) Reload() (*Config, error) {
	cfg, err := s.loader()
	if err != nil {
		return s.Current(), fmt.Errorf("reload config: %w", err)
	}
	s.current.Store(cfg)
	return cfg, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
