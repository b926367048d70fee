package job

import (
	"context"
	"time"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for jobs. Every state transition
// of a job is atomic with respect to every other transition of that job,
// across processes sharing the same backend.
type Store interface {
	// Enqueue assigns the job an ID, sets it waiting or delayed and
	// persists it.
	Enqueue(ctx context.Context, j *Job) (ID, error)

	// ClaimNext atomically selects the most urgent eligible job of the
	// queue (waiting, or delayed with an elapsed DelayUntil), marks it
	// active under workerID's lease and returns it. It returns nil, nil
	// when no job is eligible.
	ClaimNext(ctx context.Context, queue, workerID string, lease time.Duration) (*Job, error)

	// RenewLease extends the lease. It returns bullmq.ErrLockLost when
	// workerID no longer owns the job.
	RenewLease(ctx context.Context, jobID ID, workerID string, lease time.Duration) error

	// Complete marks the job completed with result.
	Complete(ctx context.Context, jobID ID, workerID string, result []byte) (*Job, error)

	// Fail records a failed attempt. Terminal failures skip retries.
	Fail(ctx context.Context, jobID ID, workerID, cause string, terminal bool) (*Job, error)

	// ReclaimStalled reverts active jobs whose lease expired before now
	// and returns them in their new state.
	ReclaimStalled(ctx context.Context, queue string, now time.Time, maxStalled int) ([]*Job, error)

	// AppendLog adds a line to the job's log.
	AppendLog(ctx context.Context, jobID ID, line string) error

	// SetProgress records progress, clamped to 0..100.
	SetProgress(ctx context.Context, jobID ID, value int) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, jobID ID) (*Job, error)

	// List returns the queue's jobs in the given state. Waiting and delayed
	// jobs are listed in dispatch order, the others by ID.
	List(ctx context.Context, queue string, state State, opts ListOpts) ([]*Job, error)

	// Counts returns the number of jobs of the queue per state.
	Counts(ctx context.Context, queue string) (map[State]int64, error)
}
