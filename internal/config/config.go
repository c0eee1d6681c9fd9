// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Network    NetworkConfig    `mapstructure:"network" yaml:"network"`
	Perception PerceptionConfig `mapstructure:"perception" yaml:"perception"`
	Detector   DetectorConfig   `mapstructure:"detector" yaml:"detector"`
	Vision     VisionConfig     `mapstructure:"vision" yaml:"vision"`
	Backend    BackendConfig    `mapstructure:"backend" yaml:"backend"`
	Relay      RelayConfig      `mapstructure:"relay" yaml:"relay"`
	Journal    JournalConfig    `mapstructure:"journal" yaml:"journal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// NetworkConfig tunes the shared outbound HTTP client.
type NetworkConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ForceHTTP2      bool          `mapstructure:"force_http2" yaml:"force_http2"`
}

// PerceptionConfig drives the orchestrator loop.
type PerceptionConfig struct {
	// TickInterval is the loop period; the OCR detector runs every tick.
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	// VisionEveryN triggers a vision analyze on every Nth tick.
	VisionEveryN int `mapstructure:"vision_every_n" yaml:"vision_every_n"`
	// VisionTimeout bounds a single analyze call; a call still running when
	// the timeout fires is skipped for that cycle.
	VisionTimeout time.Duration `mapstructure:"vision_timeout" yaml:"vision_timeout"`
	// CaptureTimeout bounds the screen capture per tick.
	CaptureTimeout time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
}

// DetectorConfig tunes the OCR element detector.
type DetectorConfig struct {
	// TesseractPath locates the OCR binary; resolved on PATH when empty.
	TesseractPath string `mapstructure:"tesseract_path" yaml:"tesseract_path"`
	// MinConfidence drops raw observations below this value (0..1).
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	// DedupeOverlap is the bounding-box overlap ratio beyond which two
	// near-identical text regions are merged.
	DedupeOverlap float64 `mapstructure:"dedupe_overlap" yaml:"dedupe_overlap"`
	// MaxDisplayChars truncates element text in rendered context.
	MaxDisplayChars int `mapstructure:"max_display_chars" yaml:"max_display_chars"`
	// MaxItemsPerGroup caps each element-type section in rendered context.
	MaxItemsPerGroup int `mapstructure:"max_items_per_group" yaml:"max_items_per_group"`
}

// VisionConfig configures the remote vision session client.
type VisionConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// BaseURL is the API root, e.g. https://backend.example.com/api.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// ClientSignature feeds the session fingerprint.
	ClientSignature string `mapstructure:"client_signature" yaml:"client_signature"`
	// SessionTTL is the server-side session window absent heartbeats.
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	// HeartbeatInterval must be strictly less than SessionTTL.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	// RateLimitCalls / RateLimitWindow bound analyze calls client-side.
	RateLimitCalls  int           `mapstructure:"rate_limit_calls" yaml:"rate_limit_calls"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
	// DefaultPrompt is attached to analyze calls with no explicit prompt.
	DefaultPrompt string `mapstructure:"default_prompt" yaml:"default_prompt"`
}

// BackendConfig locates the OS-level execution backend.
type BackendConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// AuthToken authenticates against the backend's message channel.
	AuthToken      string        `mapstructure:"auth_token" yaml:"-"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// RelayConfig locates the agent integration endpoint.
type RelayConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// JournalConfig configures the optional snapshot journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	// MaxEntries caps the journal; the oldest rows are pruned past it.
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "neurodesk")
	v.SetDefault("logger.log_file", "neurodesk.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Network --
	v.SetDefault("network.request_timeout", "30s")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.force_http2", true)

	// -- Perception --
	v.SetDefault("perception.tick_interval", "2s")
	v.SetDefault("perception.vision_every_n", 10)
	v.SetDefault("perception.vision_timeout", "30s")
	v.SetDefault("perception.capture_timeout", "5s")

	// -- Detector --
	v.SetDefault("detector.tesseract_path", "")
	v.SetDefault("detector.min_confidence", 0.30)
	v.SetDefault("detector.dedupe_overlap", 0.60)
	v.SetDefault("detector.max_display_chars", 50)
	v.SetDefault("detector.max_items_per_group", 10)

	// -- Vision --
	v.SetDefault("vision.enabled", false)
	v.SetDefault("vision.base_url", "")
	v.SetDefault("vision.client_signature", "neurodesk-client")
	v.SetDefault("vision.session_ttl", "5m")
	v.SetDefault("vision.heartbeat_interval", "60s")
	v.SetDefault("vision.rate_limit_calls", 10)
	v.SetDefault("vision.rate_limit_window", "60s")
	v.SetDefault("vision.default_prompt",
		"Describe the visible application state and any interactive elements.")

	// -- Backend --
	v.SetDefault("backend.url", "ws://127.0.0.1:8766")
	v.SetDefault("backend.request_timeout", "15s")

	// -- Relay --
	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.url", "ws://127.0.0.1:8000")

	// -- Journal --
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "neurodesk.db")
	v.SetDefault("journal.max_entries", 1000)
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper
// object that has already read its sources.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("backend.auth_token", "NEURODESK_BACKEND_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Perception.TickInterval <= 0 {
		return fmt.Errorf("perception.tick_interval must be a positive duration")
	}
	if c.Perception.VisionEveryN <= 0 {
		return fmt.Errorf("perception.vision_every_n must be a positive integer")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.min_confidence must be between 0.0 and 1.0")
	}
	if c.Detector.DedupeOverlap < 0 || c.Detector.DedupeOverlap > 1 {
		return fmt.Errorf("detector.dedupe_overlap must be between 0.0 and 1.0")
	}
	if err := c.Vision.Validate(); err != nil {
		return fmt.Errorf("vision configuration invalid: %w", err)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is a required configuration field")
	}
	return nil
}

// Validate checks the vision session settings.
func (v *VisionConfig) Validate() error {
	if !v.Enabled {
		return nil
	}
	if v.BaseURL == "" {
		return fmt.Errorf("base_url is required when vision is enabled")
	}
	if v.HeartbeatInterval >= v.SessionTTL {
		return fmt.Errorf("heartbeat_interval (%s) must be strictly less than session_ttl (%s)",
			v.HeartbeatInterval, v.SessionTTL)
	}
	if v.RateLimitCalls <= 0 || v.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_calls and rate_limit_window must be positive")
	}
	return nil
}
