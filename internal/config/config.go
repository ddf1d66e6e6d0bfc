// Package config loads process configuration from environment variables.
//
// Configuration is read once at startup. A missing or weak JWT_SECRET is a
// fatal error: the server must never start with a guessable signing key.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sakif/matcha/internal/auth"
)

// Environment is the deployment flavour. It selects defaults for logging and
// cookie security.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

func (e *Environment) UnmarshalText(text []byte) error {
	switch v := Environment(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case Development, Production, Test:
		*e = v
		return nil
	case "dev":
		*e = Development
		return nil
	case "prod":
		*e = Production
		return nil
	default:
		return fmt.Errorf("unknown environment %q", string(text))
	}
}

// Storage backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Environment Environment `env:"ENVIRONMENT" envDefault:"development"`
	Port        int         `env:"PORT"        envDefault:"8080"`

	DBDriver    string        `env:"DB_DRIVER"    envDefault:"sqlite"`
	DBPath      string        `env:"DB_PATH"      envDefault:"data/matcha.db"`
	DatabaseURL string        `env:"DATABASE_URL"`
	DBTimeout   time.Duration `env:"DB_TIMEOUT"   envDefault:"5s"`

	JWTSecret    string        `env:"JWT_SECRET"`
	TokenTTL     time.Duration `env:"TOKEN_TTL"     envDefault:"720h"`
	CookieSecure *bool         `env:"COOKIE_SECURE"`

	LogLevel        string        `env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads the configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < auth.MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", auth.MinSecretLength))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.DBTimeout < 0 {
		errs = append(errs, errors.New("DB_TIMEOUT must not be negative"))
	}

	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not one of sqlite, postgres", c.DBDriver))
	}

	if c.LogLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SecureCookies reports whether the session cookie carries the Secure flag.
// Defaults to true in production.
func (c *Config) SecureCookies() bool {
	if c.CookieSecure != nil {
		return *c.CookieSecure
	}
	return c.Environment == Production
}

// Level returns the slog level: LOG_LEVEL when set, otherwise debug in
// development, info in production and error in test.
func (c *Config) Level() slog.Level {
	if c.LogLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err == nil {
			return lvl
		}
	}
	switch c.Environment {
	case Production:
		return slog.LevelInfo
	case Test:
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// NewLogger builds the process logger: JSON in production, text elsewhere.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.Environment == Production {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
