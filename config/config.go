package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gowa-bridge/internal/helper"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            string `yaml:"port"`
	DeviceName      string `yaml:"device_name"`
	PrintQRTerminal bool   `yaml:"print_qr_terminal"`
	EnableWebsocket bool   `yaml:"enable_websocket"`

	// DatabaseURL is the whatsmeow session store.
	DatabaseURL string `yaml:"database_url"`
	// AppDatabaseURL holds the transition history. Empty disables it.
	AppDatabaseURL string `yaml:"app_database_url"`

	ReauthURL            string   `yaml:"reauth_url"`
	DefaultCountryCode   string   `yaml:"default_country_code"`
	FatalErrorSignatures []string `yaml:"fatal_error_signatures"`
	CORSAllowOrigins     []string `yaml:"cors_allow_origins"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

type HeartbeatConfig struct {
	Interval   time.Duration `yaml:"-"`
	StaleAfter time.Duration `yaml:"-"`
	Timeout    time.Duration `yaml:"-"`

	IntervalRaw   string `yaml:"interval"`
	StaleAfterRaw string `yaml:"stale_after"`
	TimeoutRaw    string `yaml:"timeout"`
}

type RateLimitConfig struct {
	PerSecond     float64 `yaml:"per_second"`
	Burst         int     `yaml:"burst"`
	WindowMinutes int     `yaml:"window_minutes"`
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	APIKeyHash string `yaml:"api_key_hash"`
}

type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:             "3000",
		DeviceName:       "gowa-bridge",
		EnableWebsocket:  true,
		DatabaseURL:      "file:whatsmeow.db?_foreign_keys=on",
		ReauthURL:        "/reauth",
		CORSAllowOrigins: []string{"*"},
		Heartbeat: HeartbeatConfig{
			Interval:   30 * time.Second,
			StaleAfter: 60 * time.Second,
			Timeout:    10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerSecond:     10,
			Burst:         10,
			WindowMinutes: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment, in that order of precedence (env wins).
// ${VAR} references in the file are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}

		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the environment value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"heartbeat.interval", cfg.Heartbeat.IntervalRaw, &cfg.Heartbeat.Interval},
		{"heartbeat.stale_after", cfg.Heartbeat.StaleAfterRaw, &cfg.Heartbeat.StaleAfter},
		{"heartbeat.timeout", cfg.Heartbeat.TimeoutRaw, &cfg.Heartbeat.Timeout},
		{"shutdown_timeout", cfg.ShutdownTimeoutRaw, &cfg.ShutdownTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = helper.GetEnv("PORT", cfg.Port)
	cfg.DeviceName = helper.GetEnv("DEVICE_NAME", cfg.DeviceName)
	cfg.PrintQRTerminal = helper.GetEnvAsBool("PRINT_QR_TERMINAL", cfg.PrintQRTerminal)
	cfg.EnableWebsocket = helper.GetEnvAsBool("ENABLE_WEBSOCKET", cfg.EnableWebsocket)

	cfg.DatabaseURL = helper.GetEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.AppDatabaseURL = helper.GetEnv("APP_DATABASE_URL", cfg.AppDatabaseURL)

	cfg.ReauthURL = helper.GetEnv("REAUTH_URL", cfg.ReauthURL)
	cfg.DefaultCountryCode = helper.GetEnv("DEFAULT_COUNTRY_CODE", cfg.DefaultCountryCode)
	cfg.FatalErrorSignatures = helper.GetEnvAsList("FATAL_ERROR_SIGNATURES", cfg.FatalErrorSignatures)
	cfg.CORSAllowOrigins = helper.GetEnvAsList("CORS_ALLOW_ORIGINS", cfg.CORSAllowOrigins)

	cfg.Heartbeat.Interval = helper.GetEnvAsDuration("HEARTBEAT_INTERVAL", cfg.Heartbeat.Interval)
	cfg.Heartbeat.StaleAfter = helper.GetEnvAsDuration("HEARTBEAT_STALE_AFTER", cfg.Heartbeat.StaleAfter)
	cfg.Heartbeat.Timeout = helper.GetEnvAsDuration("HEARTBEAT_TIMEOUT", cfg.Heartbeat.Timeout)

	if v := os.Getenv("RATE_LIMIT_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.PerSecond = f
		}
	}
	cfg.RateLimit.Burst = helper.GetEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.RateLimit.WindowMinutes = helper.GetEnvAsInt("RATE_LIMIT_WINDOW_MINUTES", cfg.RateLimit.WindowMinutes)

	cfg.Auth.JWTSecret = helper.GetEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.APIKeyHash = helper.GetEnv("API_KEY_HASH", cfg.Auth.APIKeyHash)

	cfg.Webhook.URL = helper.GetEnv("WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Secret = helper.GetEnv("WEBHOOK_SECRET", cfg.Webhook.Secret)

	cfg.Logging.Level = helper.GetEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = helper.GetEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.ShutdownTimeout = helper.GetEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
}

// Validate returns the first invalid setting it finds.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port %q is not a valid TCP port", c.Port)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if c.Heartbeat.Timeout <= 0 {
		return fmt.Errorf("heartbeat.timeout must be positive")
	}
	if c.Heartbeat.StaleAfter <= c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.stale_after (%s) must be greater than heartbeat.interval (%s)", c.Heartbeat.StaleAfter, c.Heartbeat.Interval)
	}

	if !strings.HasPrefix(c.ReauthURL, "/") && !strings.HasPrefix(c.ReauthURL, "http://") && !strings.HasPrefix(c.ReauthURL, "https://") {
		return fmt.Errorf("reauth_url %q must be a path or an absolute URL", c.ReauthURL)
	}

	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 || c.RateLimit.WindowMinutes < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}

	if c.Webhook.URL != "" {
		u, err := url.Parse(c.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook.url %q must be an absolute http(s) URL", c.Webhook.URL)
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level %q: %w", c.Logging.Level, err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "console" && f != "json" {
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}
