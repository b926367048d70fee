// Package store defines the aggregate persistence interface and the retry
// layer that shields callers from transient backend outages.
package store

import (
	"context"

	"github.com/ozandndar/reddis-bullmq/job"
)

// Store is the aggregate persistence interface implemented by every
// backend.
type Store interface {
	job.Store

	// Migrate prepares the backend schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close() error
}
