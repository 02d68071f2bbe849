package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime settings for the receptionist call service.
type Config struct {
	BindAddr                 string        `mapstructure:"APP_BIND_ADDR"`
	ShutdownTimeout          time.Duration `mapstructure:"APP_SHUTDOWN_TIMEOUT"`
	SessionInactivityTimeout time.Duration `mapstructure:"APP_SESSION_INACTIVITY_TIMEOUT"`
	MetricsNamespace         string        `mapstructure:"APP_METRICS_NAMESPACE"`
	AllowAnyOrigin           bool          `mapstructure:"APP_ALLOW_ANY_ORIGIN"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	MaxConcurrentCalls int `mapstructure:"MAX_CONCURRENT_CALLS"`

	STTPrimaryURL string        `mapstructure:"STT_PRIMARY_URL"`
	STTFallback   string        `mapstructure:"STT_FALLBACK"`
	STTTimeout    time.Duration `mapstructure:"STT_TIMEOUT"`

	TTSProvider string        `mapstructure:"TTS_PROVIDER"`
	TTSHTTPURL  string        `mapstructure:"TTS_HTTP_URL"`
	TTSVoiceEN  string        `mapstructure:"TTS_VOICE_EN"`
	TTSVoiceES  string        `mapstructure:"TTS_VOICE_ES"`
	TTSTimeout  time.Duration `mapstructure:"TTS_TIMEOUT"`
	PollyRegion string        `mapstructure:"POLLY_REGION"`
	PollyEngine string        `mapstructure:"POLLY_ENGINE"`

	StreamSynthesis bool `mapstructure:"STREAM_SYNTHESIS"`

	HealthRetryBase  time.Duration `mapstructure:"HEALTH_RETRY_BASE"`
	HealthMaxRetries int           `mapstructure:"HEALTH_MAX_RETRIES"`

	LLMProvider     string        `mapstructure:"LLM_PROVIDER"`
	LLMHTTPURL      string        `mapstructure:"LLM_HTTP_URL"`
	LLMAPIKey       string        `mapstructure:"LLM_API_KEY"`
	LLMFastModel    string        `mapstructure:"LLM_FAST_MODEL"`
	LLMCapableModel string        `mapstructure:"LLM_CAPABLE_MODEL"`
	LLMTimeout      time.Duration `mapstructure:"LLM_TIMEOUT"`
	VertexProject   string        `mapstructure:"VERTEX_PROJECT"`
	VertexLocation  string        `mapstructure:"VERTEX_LOCATION"`

	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	MetricsPushInterval time.Duration `mapstructure:"METRICS_PUSH_INTERVAL"`
	PerfBufferSize      int           `mapstructure:"PERF_BUFFER_SIZE"`
}

var defaults = map[string]any{
	"APP_BIND_ADDR":                  ":8080",
	"APP_SHUTDOWN_TIMEOUT":           "15s",
	"APP_SESSION_INACTIVITY_TIMEOUT": "2m",
	"APP_METRICS_NAMESPACE":          "receptionist",
	"APP_ALLOW_ANY_ORIGIN":           false,
	"LOG_LEVEL":                      "info",
	"LOG_FORMAT":                     "json",
	"MAX_CONCURRENT_CALLS":           20,
	"STT_PRIMARY_URL":                "",
	"STT_FALLBACK":                   "none",
	"STT_TIMEOUT":                    "4s",
	"TTS_PROVIDER":                   "mock",
	"TTS_HTTP_URL":                   "",
	"TTS_VOICE_EN":                   "Joanna",
	"TTS_VOICE_ES":                   "Lupe",
	"TTS_TIMEOUT":                    "5s",
	"POLLY_REGION":                   "us-east-1",
	"POLLY_ENGINE":                   "neural",
	"STREAM_SYNTHESIS":               false,
	"HEALTH_RETRY_BASE":              "30s",
	"HEALTH_MAX_RETRIES":             5,
	"LLM_PROVIDER":                   "mock",
	"LLM_HTTP_URL":                   "",
	"LLM_API_KEY":                    "",
	"LLM_FAST_MODEL":                 "gpt-4o-mini",
	"LLM_CAPABLE_MODEL":              "gpt-4o",
	"LLM_TIMEOUT":                    "8s",
	"VERTEX_PROJECT":                 "",
	"VERTEX_LOCATION":                "us-central1",
	"DATABASE_URL":                   "",
	"REDIS_URL":                      "",
	"METRICS_PUSH_INTERVAL":          "15s",
	"PERF_BUFFER_SIZE":               10000,
}

// Load reads the environment, an optional .env file in the working directory,
// and applies defaults.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an
// error; environment variables always win over file values.
func LoadFile(envFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	if strings.TrimSpace(envFile) != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.STTPrimaryURL = strings.TrimRight(strings.TrimSpace(c.STTPrimaryURL), "/")
	c.TTSHTTPURL = strings.TrimRight(strings.TrimSpace(c.TTSHTTPURL), "/")
	c.LLMHTTPURL = strings.TrimSpace(c.LLMHTTPURL)
	c.STTFallback = strings.ToLower(strings.TrimSpace(c.STTFallback))
	c.TTSProvider = strings.ToLower(strings.TrimSpace(c.TTSProvider))
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_CALLS must be positive")
	}
	if c.STTTimeout <= 0 || c.TTSTimeout <= 0 || c.LLMTimeout <= 0 {
		return fmt.Errorf("STT_TIMEOUT, TTS_TIMEOUT and LLM_TIMEOUT must be positive")
	}
	if c.HealthRetryBase <= 0 {
		return fmt.Errorf("HEALTH_RETRY_BASE must be positive")
	}
	if c.HealthMaxRetries < 0 {
		return fmt.Errorf("HEALTH_MAX_RETRIES must be >= 0")
	}
	if c.PerfBufferSize <= 0 {
		return fmt.Errorf("PERF_BUFFER_SIZE must be positive")
	}

	switch c.STTFallback {
	case "google", "none":
	default:
		return fmt.Errorf("STT_FALLBACK must be \"google\" or \"none\", got %q", c.STTFallback)
	}

	switch c.TTSProvider {
	case "mock", "polly":
	case "http":
		if c.TTSHTTPURL == "" {
			return fmt.Errorf("TTS_HTTP_URL is required when TTS_PROVIDER is \"http\"")
		}
	default:
		return fmt.Errorf("TTS_PROVIDER must be \"http\", \"polly\" or \"mock\", got %q", c.TTSProvider)
	}

	switch c.LLMProvider {
	case "mock":
	case "http":
		if c.LLMHTTPURL == "" {
			return fmt.Errorf("LLM_HTTP_URL is required when LLM_PROVIDER is \"http\"")
		}
	case "vertex":
		if strings.TrimSpace(c.VertexProject) == "" {
			return fmt.Errorf("VERTEX_PROJECT is required when LLM_PROVIDER is \"vertex\"")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be \"http\", \"vertex\" or \"mock\", got %q", c.LLMProvider)
	}
	return nil
}

// TTSVoice picks the configured voice for a normalized language code.
func (c Config) TTSVoice(language string) string {
	if language == "es" {
		return c.TTSVoiceES
	}
	return c.TTSVoiceEN
}
