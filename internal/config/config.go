package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the journal gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Soniox realtime speech-to-text configuration
	SonioxAPIKey   string `envconfig:"SONIOX_API_KEY" required:"true"`
	SonioxURL      string `envconfig:"SONIOX_URL" default:"wss://stt-rt.soniox.com/transcribe-websocket"`
	SonioxModel    string `envconfig:"SONIOX_MODEL" default:"stt-rt-preview"`
	LanguageHints  string `envconfig:"LANGUAGE_HINTS" default:"en"` // Comma-separated language codes
	SampleRate     int    `envconfig:"SAMPLE_RATE" default:"16000"`
	NumChannels    int    `envconfig:"NUM_CHANNELS" default:"1"`
	AudioFormat    string `envconfig:"AUDIO_FORMAT" default:"pcm_f32le"`

	// Upstream connection liveness
	HandshakeTimeout     int `envconfig:"HANDSHAKE_TIMEOUT" default:"12"`      // Seconds to wait for the config handshake
	HeartbeatInterval    int `envconfig:"HEARTBEAT_INTERVAL" default:"10"`     // Seconds between liveness checks
	SilenceThreshold     int `envconfig:"SILENCE_THRESHOLD" default:"30"`      // Seconds of upstream silence before reconnecting
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`  // Maximum reconnection attempts
	ReconnectDelay       int `envconfig:"RECONNECT_DELAY" default:"1000"`      // Delay between reconnects in milliseconds

	// Gemini analysis configuration
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModel     string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	AnalysisTimeout int    `envconfig:"ANALYSIS_TIMEOUT" default:"30"` // Seconds before an analysis call is abandoned

	// Session limits
	MaxFrameBytes      int `envconfig:"MAX_FRAME_BYTES" default:"1048576"`      // Per-frame audio ceiling (1 MiB)
	MaxTranscriptChars int `envconfig:"MAX_TRANSCRIPT_CHARS" default:"50000"`   // Transcript length ceiling for analysis

	// Persistence (optional; empty disables durable session storage)
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SonioxAPIKey == "" {
		return nil, fmt.Errorf("SONIOX_API_KEY is required")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if !strings.HasPrefix(cfg.SonioxURL, "wss://") {
		return nil, fmt.Errorf("SONIOX_URL must use the wss scheme, got %q", cfg.SonioxURL)
	}

	return &cfg, nil
}

// LanguageHintList splits the configured comma-separated language hints.
func (c *Config) LanguageHintList() []string {
	parts := strings.Split(c.LanguageHints, ",")
	hints := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hints = append(hints, p)
		}
	}
	return hints
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
