package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/backoff"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Compile-time interface check.
var _ Store = (*Retrying)(nil)

// RetryOption configures a Retrying store.
type RetryOption func(*Retrying)

// WithRetryAttempts sets the total number of tries per operation.
func WithRetryAttempts(n int) RetryOption {
	return func(r *Retrying) { r.attempts = max(n, 1) }
}

// WithRetryBackoff sets the delay strategy between tries.
func WithRetryBackoff(s backoff.Strategy) RetryOption {
	return func(r *Retrying) { r.backoff = s }
}

// WithRetryLogger sets the logger used to report retries.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *Retrying) { r.logger = l }
}

// Retrying decorates a Store, retrying operations that fail with
// bullmq.ErrStoreUnavailable. Any other error is returned immediately.
type Retrying struct {
	next     Store
	attempts int
	backoff  backoff.Strategy
	logger   *slog.Logger
}

// NewRetrying wraps s. Defaults: 5 tries, jittered exponential backoff from
// 50ms capped at 2s.
func NewRetrying(s Store, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:     s,
		attempts: 5,
		backoff:  backoff.NewExponentialWithJitter(50*time.Millisecond, 2*time.Second),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Unwrap returns the decorated store.
func (r *Retrying) Unwrap() Store { return r.next }

func retry[T any](ctx context.Context, r *Retrying, op string, fn func() (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil || !errors.Is(err, bullmq.ErrStoreUnavailable) || attempt >= r.attempts {
			return v, err
		}

		delay := r.backoff.Delay(attempt)
		r.logger.Warn("store unavailable, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, err
		case <-timer.C:
		}
	}
}

func retryErr(ctx context.Context, r *Retrying, op string, fn func() error) error {
	_, err := retry(ctx, r, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Enqueue implements job.Store.
func (r *Retrying) Enqueue(ctx context.Context, j *job.Job) (job.ID, error) {
	return retry(ctx, r, "enqueue", func() (job.ID, error) { return r.next.Enqueue(ctx, j) })
}

// ClaimNext implements job.Store.
func (r *Retrying) ClaimNext(ctx context.Context, queue, workerID string, lease time.Duration) (*job.Job, error) {
	return retry(ctx, r, "claim", func() (*job.Job, error) {
		return r.next.ClaimNext(ctx, queue, workerID, lease)
	})
}

// RenewLease implements job.Store.
func (r *Retrying) RenewLease(ctx context.Context, jobID job.ID, workerID string, lease time.Duration) error {
	return retryErr(ctx, r, "renew_lease", func() error {
		return r.next.RenewLease(ctx, jobID, workerID, lease)
	})
}

// Complete implements job.Store.
func (r *Retrying) Complete(ctx context.Context, jobID job.ID, workerID string, result []byte) (*job.Job, error) {
	return retry(ctx, r, "complete", func() (*job.Job, error) {
		return r.next.Complete(ctx, jobID, workerID, result)
	})
}

// Fail implements job.Store.
func (r *Retrying) Fail(ctx context.Context, jobID job.ID, workerID, cause string, terminal bool) (*job.Job, error) {
	return retry(ctx, r, "fail", func() (*job.Job, error) {
		return r.next.Fail(ctx, jobID, workerID, cause, terminal)
	})
}

// ReclaimStalled implements job.Store.
func (r *Retrying) ReclaimStalled(ctx context.Context, queue string, now time.Time, maxStalled int) ([]*job.Job, error) {
	return retry(ctx, r, "reclaim_stalled", func() ([]*job.Job, error) {
		return r.next.ReclaimStalled(ctx, queue, now, maxStalled)
	})
}

// AppendLog implements job.Store.
func (r *Retrying) AppendLog(ctx context.Context, jobID job.ID, line string) error {
	return retryErr(ctx, r, "append_log", func() error { return r.next.AppendLog(ctx, jobID, line) })
}

// SetProgress implements job.Store.
func (r *Retrying) SetProgress(ctx context.Context, jobID job.ID, value int) error {
	return retryErr(ctx, r, "set_progress", func() error { return r.next.SetProgress(ctx, jobID, value) })
}

// Get implements job.Store.
func (r *Retrying) Get(ctx context.Context, jobID job.ID) (*job.Job, error) {
	return retry(ctx, r, "get", func() (*job.Job, error) { return r.next.Get(ctx, jobID) })
}

// List implements job.Store.
func (r *Retrying) List(ctx context.Context, queue string, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	return retry(ctx, r, "list", func() ([]*job.Job, error) { return r.next.List(ctx, queue, state, opts) })
}

// Counts implements job.Store.
func (r *Retrying) Counts(ctx context.Context, queue string) (map[job.State]int64, error) {
	return retry(ctx, r, "counts", func() (map[job.State]int64, error) { return r.next.Counts(ctx, queue) })
}

// Migrate implements Store.
func (r *Retrying) Migrate(ctx context.Context) error {
	return retryErr(ctx, r, "migrate", func() error { return r.next.Migrate(ctx) })
}

// Ping implements Store.
func (r *Retrying) Ping(ctx context.Context) error {
	return retryErr(ctx, r, "ping", func() error { return r.next.Ping(ctx) })
}

// Close implements Store.
func (r *Retrying) Close() error { return r.next.Close() }
