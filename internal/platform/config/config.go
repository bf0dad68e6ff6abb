package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	AppURL    string `env:"APP_URL" default:"http://localhost:3000"`
	Port      string `env:"PORT" default:"8080"`
	NodeID    string `env:"NODE_ID"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// AuthSecret verifies socket handshake tokens. Shared with the token issuer.
	AuthSecret       string `env:"AUTH_SECRET"`
	DatabaseURL      string `env:"DATABASE_URL"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" default:"10"`
	// RedisURL enables the cross-instance relay bridge when set.
	RedisURL string `env:"REDIS_URL"`

	RelayEventsPerSecond float64       `env:"RELAY_EVENTS_PER_SECOND" default:"20"`
	RelayEventBurst      int           `env:"RELAY_EVENT_BURST" default:"40"`
	RelaySendBuffer      int           `env:"RELAY_SEND_BUFFER" default:"64"`
	APIRateLimit         float64       `env:"API_RATE_LIMIT" default:"10"`
	AuditTimeout         time.Duration `env:"AUDIT_TIMEOUT" default:"3s"`

	// Socket handshake limits. Zero disables a limit.
	MaxConnections      int64   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" default:"5"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	// Checked in a fixed order so the first missing key is reported deterministically.
	required := []struct{ name, value string }{
		{"AUTH_SECRET", cfg.AuthSecret},
		{"DATABASE_URL", cfg.DatabaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.AuthSecret) < 16 {
		return errors.New("AUTH_SECRET must be at least 16 characters")
	}

	if u, err := url.Parse(cfg.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("APP_URL must be an absolute URL, got %q", cfg.AppURL)
	}

	if cfg.RelayEventsPerSecond <= 0 {
		return errors.New("RELAY_EVENTS_PER_SECOND must be positive")
	}
	if cfg.RelayEventBurst < 1 {
		return errors.New("RELAY_EVENT_BURST must be at least 1")
	}
	if cfg.RelaySendBuffer < 1 {
		return errors.New("RELAY_SEND_BUFFER must be at least 1")
	}
	if cfg.DatabaseMaxConns < 1 {
		return errors.New("DATABASE_MAX_CONNS must be at least 1")
	}
	if cfg.MaxConnections < 0 || cfg.MaxConnectionsPerIP < 0 || cfg.ConnectionRate < 0 {
		return errors.New("connection limits must not be negative")
	}

	return nil
}
