// Package config loads HelpHub's server configuration from environment
// variables (optionally via a .env file), validates it, and logs it —
// grounded directly on the teacher's own config.go, which uses the same
// caarlos0/env + godotenv + zerolog stack for the same purpose.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every port, directory path, timeout, and secret HelpHub
// needs at startup.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listener addresses
	FramedAddr string `env:"FRAMED_ADDR" envDefault:":5000"`
	WebAddr    string `env:"WEB_ADDR" envDefault:":8080"`
	AdminAddr  string `env:"ADMIN_ADDR" envDefault:":5001"`

	// On-disk layout
	DataDir      string `env:"DATA_DIR" envDefault:"data"`
	KeystorePath string `env:"KEYSTORE_PATH" envDefault:"helphub.keystore"`
	WebappDir    string `env:"WEBAPP_DIR" envDefault:"webapp"`
	LogPath      string `env:"LOG_PATH" envDefault:"logs/messages.log"`

	// Secrets (§6: required, no sensible defaults)
	KeystorePassword string `env:"KEYSTORE_PASSWORD"`
	AdminPassword    string `env:"ADMIN_PASSWORD"`

	// Reliability loop
	ConnectionTimeout time.Duration `env:"CONNECTION_TIMEOUT" envDefault:"90s"`

	// Capacity
	MaxPushConnections int `env:"MAX_PUSH_CONNECTIONS" envDefault:"2000"`

	// Inbound rate limiting (per session, §4.14)
	InboundRateBurst int     `env:"INBOUND_RATE_BURST" envDefault:"50"`
	InboundRate      float64 `env:"INBOUND_RATE" envDefault:"20"`

	// Discovery
	ServiceName string `env:"SERVICE_NAME" envDefault:"helphub"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (if present) and the process
// environment. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for startup-fatal errors (§7: missing
// keystore password is a configuration failure, not a runtime one).
func (c *Config) Validate() error {
	if c.KeystorePassword == "" {
		return fmt.Errorf("KEYSTORE_PASSWORD is required")
	}
	if c.MaxPushConnections < 1 {
		return fmt.Errorf("MAX_PUSH_CONNECTIONS must be > 0, got %d", c.MaxPushConnections)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("CONNECTION_TIMEOUT must be > 0, got %s", c.ConnectionTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the loaded configuration via structured logging. The
// two secrets are deliberately omitted.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("framed_addr", c.FramedAddr).
		Str("web_addr", c.WebAddr).
		Str("admin_addr", c.AdminAddr).
		Str("data_dir", c.DataDir).
		Str("keystore_path", c.KeystorePath).
		Str("webapp_dir", c.WebappDir).
		Dur("connection_timeout", c.ConnectionTimeout).
		Int("max_push_connections", c.MaxPushConnections).
		Float64("inbound_rate", c.InboundRate).
		Int("inbound_rate_burst", c.InboundRateBurst).
		Str("service_name", c.ServiceName).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Bool("admin_password_set", c.AdminPassword != "").
		Msg("configuration loaded")
}
