// Package config parses and validates the process configuration of the
// bullmq command from environment variables using caarlos0/env/v11 and
// go-playground/validator/v10.
//
// Call [Load] once at startup and pass the resulting [Config] to
// subcommands.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	bullmq "github.com/ozandndar/reddis-bullmq"
)

// Store backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all process configuration sourced from environment variables.
type Config struct {
	// ── Store ────────────────────────────────────────────────────────────
	Backend     string `env:"BULLMQ_BACKEND"      envDefault:"redis" validate:"oneof=memory redis postgres"`
	RedisAddr   string `env:"REDIS_ADDR"          envDefault:"localhost:6379" validate:"required_if=Backend redis"`
	RedisDB     int    `env:"REDIS_DB"            envDefault:"0" validate:"gte=0"`
	RedisPrefix string `env:"BULLMQ_REDIS_PREFIX" envDefault:"bull"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=Backend postgres"`

	StoreRetryAttempts int `env:"BULLMQ_STORE_RETRY_ATTEMPTS" envDefault:"5" validate:"gte=1"`

	// ── Processing ───────────────────────────────────────────────────────
	Concurrency       int           `env:"BULLMQ_CONCURRENCY"        envDefault:"5"   validate:"gte=1"`
	PollInterval      time.Duration `env:"BULLMQ_POLL_INTERVAL"      envDefault:"1s"  validate:"gt=0"`
	LeaseDuration     time.Duration `env:"BULLMQ_LEASE_DURATION"     envDefault:"30s" validate:"gt=0"`
	HeartbeatInterval time.Duration `env:"BULLMQ_HEARTBEAT_INTERVAL" envDefault:"10s" validate:"gt=0,ltfield=LeaseDuration"`
	JobTimeout        time.Duration `env:"BULLMQ_JOB_TIMEOUT"        envDefault:"5m"  validate:"gte=0"`
	StalledInterval   time.Duration `env:"BULLMQ_STALLED_INTERVAL"   envDefault:"30s" validate:"gt=0"`
	MaxStalledCount   int           `env:"BULLMQ_MAX_STALLED_COUNT"  envDefault:"1"   validate:"gte=0"`
	ShutdownTimeout   time.Duration `env:"BULLMQ_SHUTDOWN_TIMEOUT"   envDefault:"30s" validate:"gte=0"`
	RateLimit         float64       `env:"BULLMQ_RATE_LIMIT"         envDefault:"0"   validate:"gte=0"`
	RateBurst         int           `env:"BULLMQ_RATE_BURST"         envDefault:"1"   validate:"gte=0"`

	// ── Admin API ────────────────────────────────────────────────────────
	// Empty disables the admin HTTP server.
	AdminAddr string `env:"BULLMQ_ADMIN_ADDR" envDefault:":3000"`

	// ── Logging ──────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=json text"`

	// Audit logs one structured record per job lifecycle event.
	Audit bool `env:"BULLMQ_AUDIT" envDefault:"false"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load parses Config from the process environment and validates it.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses Config from the given variables instead of the process
// environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Queue returns the queue processing configuration.
func (c *Config) Queue() bullmq.Config {
	return bullmq.DefaultConfig().Apply(
		bullmq.WithConcurrency(c.Concurrency),
		bullmq.WithPollInterval(c.PollInterval),
		bullmq.WithLease(c.LeaseDuration, c.HeartbeatInterval),
		bullmq.WithJobTimeout(c.JobTimeout),
		bullmq.WithStalledCheck(c.StalledInterval, c.MaxStalledCount),
		bullmq.WithShutdownTimeout(c.ShutdownTimeout),
		bullmq.WithRateLimit(c.RateLimit, c.RateBurst),
	)
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
