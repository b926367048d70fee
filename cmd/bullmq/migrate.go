package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ozandndar/reddis-bullmq/internal/config"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	st, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	if err := st.Migrate(cmd.Context()); err != nil {
		return err
	}
	logger.Info("store migrated", slog.String("backend", cfg.Backend))
	return nil
}
