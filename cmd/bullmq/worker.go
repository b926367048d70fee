package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ozandndar/reddis-bullmq/api"
	"github.com/ozandndar/reddis-bullmq/internal/config"
	"github.com/ozandndar/reddis-bullmq/internal/demo"
)

func workerCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the demo queues and the admin API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "enqueue the demo jobs after startup")
	return cmd
}

func runWorker(cmd *cobra.Command, seed bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	eng, err := newEngine(st, cfg, logger)
	if err != nil {
		return err
	}
	if err := demo.NewHandlers().Register(eng); err != nil {
		return err
	}
	unsubscribe := demo.Monitor(eng, os.Stdout)
	defer unsubscribe()

	if seed {
		if _, err := demo.Seed(ctx, eng, logger); err != nil {
			logger.Error("seed demo jobs", slog.String("error", err.Error()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           api.New(eng, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		g.Go(func() error {
			logger.Info("admin api listening", slog.String("addr", cfg.AdminAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("all queues are running, press Ctrl+C to exit",
		slog.Any("queues", eng.Queues()),
		slog.String("backend", cfg.Backend),
	)

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("worker stopped", slog.String("error", runErr.Error()))
	}

	logger.Info("shutting down")
	if err := eng.Close(context.Background()); err != nil {
		return errors.Join(runErr, err)
	}
	logger.Info("all queues closed")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
