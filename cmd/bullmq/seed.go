package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ozandndar/reddis-bullmq/internal/config"
	"github.com/ozandndar/reddis-bullmq/internal/demo"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Enqueue the demo jobs and exit",
		RunE:  runSeed,
	}
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx := cmd.Context()
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	eng, err := newEngine(st, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(ctx); err != nil {
			logger.Warn("close engine", slog.String("error", err.Error()))
		}
	}()

	seeded, err := demo.Seed(ctx, eng, logger)
	if err != nil {
		return err
	}
	logger.Info("demo jobs enqueued", slog.Int("count", len(seeded)))
	return nil
}
