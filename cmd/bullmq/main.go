// Command bullmq runs the notification demo on the job queue engine.
//
// Subcommands:
//
//	worker   run the email, SMS and purchase queues plus the admin API
//	seed     enqueue the demo job set and exit
//	migrate  create or upgrade the store schema and exit
//
// All configuration comes from the environment; see internal/config.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "bullmq",
		Short:         "Durable priority job queues with retries and stalled-job recovery",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		workerCmd(),
		seedCmd(),
		migrateCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
