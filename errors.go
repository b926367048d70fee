package bullmq

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("bullmq: no store configured")
	ErrStoreUnavailable = errors.New("bullmq: store unavailable")
	ErrMigrationFailed  = errors.New("bullmq: migration failed")

	// Not found errors.
	ErrJobNotFound   = errors.New("bullmq: job not found")
	ErrQueueNotFound = errors.New("bullmq: queue not found")

	// Lease errors.
	ErrLockLost = errors.New("bullmq: lock lost")

	// Configuration errors.
	ErrHandlerConflict = errors.New("bullmq: handler already registered")
	ErrNoHandler       = errors.New("bullmq: no handler registered")
	ErrInvalidOptions  = errors.New("bullmq: invalid job options")
	ErrInvalidConfig   = errors.New("bullmq: invalid config")

	// Execution errors.
	ErrTimeout            = errors.New("bullmq: job timed out")
	ErrMaxStalledExceeded = errors.New("bullmq: job stalled more than allowable limit")

	// Lifecycle errors.
	ErrQueueClosed = errors.New("bullmq: queue closed")
)
