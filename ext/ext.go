package ext

import (
	"context"
	"time"

	"github.com/ozandndar/reddis-bullmq/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobWaiting is called after a job is accepted into a queue, either
// waiting or delayed.
type JobWaiting interface {
	OnJobWaiting(ctx context.Context, j *job.Job) error
}

// JobActive is called when a worker claims a job and begins executing it.
type JobActive interface {
	OnJobActive(ctx context.Context, j *job.Job) error
}

// JobProgress is called when a handler reports progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, progress int) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, err error, nextRunAt time.Time) error
}

// JobFailed is called when a job fails permanently.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobStalled is called for every job reclaimed by the stalled monitor.
// j is in its post-reclaim state: waiting, or failed when it stalled too
// often.
type JobStalled interface {
	OnJobStalled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
