// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// UpstreamBaseURL is the base URL of the portal REST API (e.g. https://api.portal.example). Required.
	UpstreamBaseURL string `mapstructure:"UPSTREAM_BASE_URL"`
	// UpstreamTimeout is the per-request timeout for upstream calls (e.g. "10s").
	UpstreamTimeout string `mapstructure:"UPSTREAM_TIMEOUT"`
	// CaptchaEnabled gates the human-verification challenge on phone submit. Default true.
	CaptchaEnabled bool `mapstructure:"CAPTCHA_ENABLED"`
	// CaptchaRetryDelay is the delay before the single silent retry after a captcha fetch timeout (e.g. "3s").
	CaptchaRetryDelay string `mapstructure:"CAPTCHA_RETRY_DELAY"`
	// CodeDebounce is how long to wait after the 4th code digit before auto-verifying (e.g. "500ms").
	CodeDebounce string `mapstructure:"CODE_DEBOUNCE"`
	// ResendCooldownSeconds is the countdown before resend becomes available (default 300).
	ResendCooldownSeconds int `mapstructure:"RESEND_COOLDOWN_SECONDS"`
	// MaxCodeAttempts is the wrong-code count that locks the flow (default 5).
	MaxCodeAttempts int `mapstructure:"MAX_CODE_ATTEMPTS"`
	// FlowTTL is how long an idle login flow is kept before eviction (e.g. "15m").
	FlowTTL string `mapstructure:"FLOW_TTL"`
	// DevExposeOTP when true surfaces the upstream development-mode code in flow state; for local
	// testing without SMS delivery. Must not be true when Env is production (refused at startup).
	DevExposeOTP bool `mapstructure:"DEV_EXPOSE_OTP"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Telemetry (optional). When Kafka brokers are set, login events are emitted to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for login telemetry events (default portal-login-telemetry).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints (standard OTEL_EXPORTER_OTLP_INSECURE behavior).
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("UPSTREAM_BASE_URL", "")
	v.SetDefault("UPSTREAM_TIMEOUT", "10s")
	v.SetDefault("CAPTCHA_ENABLED", true)
	v.SetDefault("CAPTCHA_RETRY_DELAY", "3s")
	v.SetDefault("CODE_DEBOUNCE", "500ms")
	v.SetDefault("RESEND_COOLDOWN_SECONDS", 300)
	v.SetDefault("MAX_CODE_ATTEMPTS", 5)
	v.SetDefault("FLOW_TTL", "15m")
	v.SetDefault("DEV_EXPOSE_OTP", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "portal-login-telemetry")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.UpstreamBaseURL == "" {
		return nil, errors.New("config: UPSTREAM_BASE_URL must be set")
	}
	if cfg.DevExposeOTP && cfg.Env == "production" {
		return nil, errors.New("config: DEV_EXPOSE_OTP must not be true when APP_ENV=production")
	}
	if cfg.ResendCooldownSeconds <= 0 {
		return nil, errors.New("config: RESEND_COOLDOWN_SECONDS must be positive")
	}
	if cfg.MaxCodeAttempts <= 0 {
		return nil, errors.New("config: MAX_CODE_ATTEMPTS must be positive")
	}

	return &cfg, nil
}

// UpstreamTimeoutDuration parses UpstreamTimeout as a time.Duration. Returns 10s if unset or invalid.
func (c *Config) UpstreamTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.UpstreamTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// CaptchaRetryDelayDuration parses CaptchaRetryDelay as a time.Duration. Returns 3s if unset or invalid.
func (c *Config) CaptchaRetryDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.CaptchaRetryDelay)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}

// CodeDebounceDuration parses CodeDebounce as a time.Duration. Returns 500ms if unset or invalid.
func (c *Config) CodeDebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.CodeDebounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// FlowTTLDuration parses FlowTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) FlowTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.FlowTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
