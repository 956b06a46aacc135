package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/lexiqai/speech-coach/internal/resilience"
)

// Config holds all configuration for the speech coach service
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"52428800"` // 50 MiB

	// Gemini API configuration
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiLiveURL string `envconfig:"GEMINI_LIVE_URL" default:"wss://generativelanguage.googleapis.com/ws"`

	// Batch analysis configuration
	AnalysisModel               string  `envconfig:"ANALYSIS_MODEL" default:"gemini-2.5-flash"`
	ComparisonModel             string  `envconfig:"COMPARISON_MODEL" default:"gemini-2.5-flash"`
	AnalysisPasses              int     `envconfig:"ANALYSIS_PASSES" default:"3"`                // Independent passes per analysis (1-3)
	AnalysisMinSuccessfulPasses int     `envconfig:"ANALYSIS_MIN_SUCCESSFUL_PASSES" default:"0"` // 0 = every pass must succeed
	AnalysisTemperature         float32 `envconfig:"ANALYSIS_TEMPERATURE" default:"0.2"`

	// Live session configuration
	LiveModel           string `envconfig:"LIVE_MODEL" default:"gemini-2.5-flash-native-audio-preview-09-2025"`
	LiveVoice           string `envconfig:"LIVE_VOICE" default:""`
	LiveDefaultLanguage string `envconfig:"LIVE_DEFAULT_LANGUAGE" default:"English"`
	InputSampleRate     int    `envconfig:"INPUT_SAMPLE_RATE" default:"16000"`
	OutputSampleRate    int    `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"`
	CaptureFrameSamples int    `envconfig:"CAPTURE_FRAME_SAMPLES" default:"4096"`
	OutboundQueueDepth  int    `envconfig:"OUTBOUND_QUEUE_DEPTH" default:"32"` // Frames buffered toward the live session

	// Resilience configuration
	RetryMaxAttempts           int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        time.Duration `envconfig:"RETRY_INITIAL_BACKOFF" default:"1s"`
	RetryMaxBackoff            time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"4s"`
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"true"`
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

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.AnalysisPasses < 1 || c.AnalysisPasses > 3 {
		return fmt.Errorf("ANALYSIS_PASSES must be between 1 and 3, got %d", c.AnalysisPasses)
	}
	if c.AnalysisMinSuccessfulPasses < 0 || c.AnalysisMinSuccessfulPasses > c.AnalysisPasses {
		return fmt.Errorf("ANALYSIS_MIN_SUCCESSFUL_PASSES must be between 0 and %d, got %d",
			c.AnalysisPasses, c.AnalysisMinSuccessfulPasses)
	}
	if c.InputSampleRate <= 0 || c.OutputSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.CaptureFrameSamples <= 0 {
		return fmt.Errorf("CAPTURE_FRAME_SAMPLES must be positive, got %d", c.CaptureFrameSamples)
	}
	if c.OutboundQueueDepth <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE_DEPTH must be positive, got %d", c.OutboundQueueDepth)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// RetryConfig returns the inference retry policy
func (c *Config) RetryConfig() *resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	rc.MaxAttempts = c.RetryMaxAttempts
	rc.InitialBackoff = c.RetryInitialBackoff
	rc.MaxBackoff = c.RetryMaxBackoff
	return rc
}
