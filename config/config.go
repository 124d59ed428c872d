// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name: PORT is read from LEAVE_PORT.
const Prefix = "LEAVE"

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// LogFormat forces "json" or "text"; empty picks by Env.
	LogFormat string `envconfig:"LOG_FORMAT"`

	Store       string `envconfig:"STORE" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"leave.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// RedisAddr enables the cross-instance locker when set.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	// KafkaBrokers enables event publishing when set (comma separated).
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"leave-events"`

	DefaultEntitlement int `envconfig:"DEFAULT_ENTITLEMENT" default:"14"`
	MaxRetries         int `envconfig:"MAX_RETRIES" default:"3"`

	RateLimit      float64  `envconfig:"RATE_LIMIT" default:"20"`
	RateBurst      int      `envconfig:"RATE_BURST" default:"40"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Store {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres store requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.DefaultEntitlement < 0 {
		errs = append(errs, errors.New("default entitlement must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New("rate limit and burst must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
