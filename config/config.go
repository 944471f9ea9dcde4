/*
Package config loads server settings from the environment.

PURPOSE:
  All settings come from environment variables, optionally seeded from a
  .env file by cmd/server. Every variable has a default so the server
  starts with no configuration at all (in-memory store, log notifications,
  local rate limiting).

SEE ALSO:
  - cmd/server/main.go: Consumes Config
*/
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the server.
type Config struct {
	HTTPPort string `mapstructure:"HTTP_PORT"`

	StoreDriver string `mapstructure:"STORE_DRIVER"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	AMQPURL        string `mapstructure:"AMQP_URL"`
	NotifyExchange string `mapstructure:"NOTIFY_EXCHANGE"`
	NotifyBuffer   int    `mapstructure:"NOTIFY_BUFFER"`

	RedisAddr      string  `mapstructure:"REDIS_ADDR"`
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`

	LateCancelWindow     time.Duration `mapstructure:"LATE_CANCEL_WINDOW"`
	MaxPromotionAttempts int           `mapstructure:"MAX_PROMOTION_ATTEMPTS"`

	CreditSweepSchedule   string `mapstructure:"CREDIT_SWEEP_SCHEDULE"`
	WaitlistPurgeSchedule string `mapstructure:"WAITLIST_PURGE_SCHEDULE"`

	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	LogFormat   string   `mapstructure:"LOG_FORMAT"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var defaults = map[string]any{
	"HTTP_PORT":               "8080",
	"STORE_DRIVER":            DriverMemory,
	"SQLITE_PATH":             "./data/booking.db",
	"DATABASE_URL":            "",
	"AMQP_URL":                "",
	"NOTIFY_EXCHANGE":         "booking.events",
	"NOTIFY_BUFFER":           256,
	"REDIS_ADDR":              "",
	"RATE_LIMIT_RPS":          10.0,
	"RATE_LIMIT_BURST":        20,
	"AUTH_JWT_SECRET":         "",
	"LATE_CANCEL_WINDOW":      "0s",
	"MAX_PROMOTION_ATTEMPTS":  50,
	"CREDIT_SWEEP_SCHEDULE":   "*/5 * * * *",
	"WAITLIST_PURGE_SCHEDULE": "*/10 * * * *",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "json",
	"CORS_ORIGINS":            "*",
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for key := range defaults {
		_ = viper.BindEnv(key)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=%s", DriverSQLite)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, sqlite, postgres (got %q)", c.StoreDriver)
	}
	if c.LateCancelWindow < 0 {
		return fmt.Errorf("LATE_CANCEL_WINDOW must not be negative")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.MaxPromotionAttempts <= 0 {
		return fmt.Errorf("MAX_PROMOTION_ATTEMPTS must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.HTTPPort
}
