package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	audithook "github.com/ozandndar/reddis-bullmq/audit_hook"
	"github.com/ozandndar/reddis-bullmq/engine"
	"github.com/ozandndar/reddis-bullmq/internal/config"
	"github.com/ozandndar/reddis-bullmq/store"
	"github.com/ozandndar/reddis-bullmq/store/memory"
	"github.com/ozandndar/reddis-bullmq/store/postgres"
	"github.com/ozandndar/reddis-bullmq/store/redis"
)

// openStore connects the configured backend. The returned close function
// releases the connection and must be called once the engine is closed.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory store, jobs do not survive a restart")
		return memory.New(), func() {}, nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		s := redis.New(client,
			redis.WithPrefix(cfg.RedisPrefix),
			redis.WithLogger(logger),
		)
		return s, func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis client", slog.String("error", err.Error()))
			}
		}, nil

	case config.BackendPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close postgres pool", slog.String("error", err.Error()))
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// newEngine builds an engine over st with the process configuration.
func newEngine(st store.Store, cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithConfig(cfg.Queue()),
		engine.WithStoreRetry(store.WithRetryAttempts(cfg.StoreRetryAttempts)),
	}
	if cfg.Audit {
		recorder := audithook.NewSlogRecorder(logger.With(slog.String("component", "audit")))
		opts = append(opts, engine.WithExtension(audithook.New(recorder, audithook.WithLogger(logger))))
	}
	return engine.New(st, opts...)
}
