// Package worker provides the job execution engine: an Executor that runs
// a claimed job through middleware and its handler under a renewed lease,
// a Dispatcher that manages the concurrent slots claiming jobs from one
// queue, and a Monitor that reclaims jobs whose lease expired.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/ext"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/middleware"
)

// Executor runs a single claimed job through middleware and the registered
// handler, keeps its lease alive, records the outcome in the store and
// emits lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	mw         middleware.Middleware
	logger     *slog.Logger

	lease     time.Duration
	heartbeat time.Duration
	timeout   time.Duration
	grace     time.Duration
}

// NewExecutor creates an Executor. Lease, heartbeat, job timeout and
// timeout grace are taken from cfg.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	cfg bullmq.Config,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		mw:         middleware.Chain(mws...),
		logger:     logger,
		lease:      cfg.LeaseDuration,
		heartbeat:  cfg.HeartbeatInterval,
		timeout:    cfg.JobTimeout,
		grace:      cfg.TimeoutGrace,
	}
}

type outcome struct {
	result any
	err    error
}

// Execute runs j, which owner has just claimed. ctx cancellation (queue
// shutdown) is forwarded to the handler; store writes that record the
// outcome are not cancelled with it.
//
// On success the job is completed and JobCompleted is emitted. On failure
// the store decides between a delayed retry (JobRetrying) and a permanent
// failure (JobFailed). A lost lease discards the outcome. A handler that
// ignores cancellation for longer than the grace period is abandoned and
// its lease left to expire.
func (e *Executor) Execute(ctx context.Context, j *job.Job, owner string) error {
	sctx := context.WithoutCancel(ctx)

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		cause := fmt.Errorf("%w: %q", bullmq.ErrNoHandler, j.Type)
		e.logger.Error("no handler registered for job type",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("queue", j.Queue),
		)
		return e.fail(sctx, j, owner, cause, true)
	}

	e.extensions.EmitJobActive(sctx, j)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if timeout := e.timeoutFor(j); timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	stopHeartbeat := e.startHeartbeat(sctx, j, owner, cancel)
	defer stopHeartbeat()

	reporter := &storeReporter{store: e.store, extensions: e.extensions, logger: e.logger}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic in job %s: %v", j.Type, r)}
			}
		}()
		res, err := e.mw(runCtx, j, func(ctx context.Context) (any, error) {
			return handler(job.NewContext(ctx, j, reporter), j)
		})
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		grace := time.NewTimer(e.grace)
		select {
		case out = <-done:
			grace.Stop()
		case <-grace.C:
			stopHeartbeat()
			cause := context.Cause(runCtx)
			e.logger.Warn("handler ignored cancellation, abandoning job",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("queue", j.Queue),
				slog.String("cause", cause.Error()),
			)
			return fmt.Errorf("job %s abandoned: %w", j.ID, cause)
		}
	}
	stopHeartbeat()
	elapsed := time.Since(start)

	cause := context.Cause(runCtx)
	if errors.Is(cause, bullmq.ErrLockLost) {
		e.logger.Warn("lease lost during execution, discarding outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("queue", j.Queue),
		)
		return cause
	}

	if out.err == nil {
		return e.complete(sctx, j, owner, out.result, elapsed)
	}

	err := out.err
	switch {
	case errors.Is(cause, context.DeadlineExceeded) && !errors.Is(err, bullmq.ErrTimeout):
		err = fmt.Errorf("%w: %w", bullmq.ErrTimeout, err)
	case errors.Is(cause, bullmq.ErrQueueClosed) && !errors.Is(err, bullmq.ErrQueueClosed):
		err = fmt.Errorf("%w: %w", bullmq.ErrQueueClosed, err)
	}
	return e.fail(sctx, j, owner, err, false)
}

func (e *Executor) timeoutFor(j *job.Job) time.Duration {
	if j.Timeout > 0 {
		return j.Timeout
	}
	return e.timeout
}

// startHeartbeat renews the lease every heartbeat interval until the
// returned stop function is called. A lost lease cancels the handler.
func (e *Executor) startHeartbeat(ctx context.Context, j *job.Job, owner string, cancel context.CancelCauseFunc) (stop func()) {
	if e.heartbeat <= 0 {
		return func() {}
	}

	quit := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(e.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
			}

			err := e.store.RenewLease(ctx, j.ID, owner, e.lease)
			switch {
			case err == nil:
			case errors.Is(err, bullmq.ErrLockLost), errors.Is(err, bullmq.ErrJobNotFound):
				cancel(bullmq.ErrLockLost)
				return
			default:
				e.logger.Warn("lease renewal failed",
					slog.String("job_id", j.ID.String()),
					slog.String("owner", owner),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(quit)
		<-finished
	}
}

// complete records the result and emits the lifecycle event.
func (e *Executor) complete(ctx context.Context, j *job.Job, owner string, result any, elapsed time.Duration) error {
	var data []byte
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return e.fail(ctx, j, owner, fmt.Errorf("marshal result of job %q: %w", j.Type, err), false)
		}
		data = encoded
	}

	done, err := e.store.Complete(ctx, j.ID, owner, data)
	if err != nil {
		e.logger.Error("failed to complete job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, done, elapsed)
	return nil
}

// fail records a failed attempt. The store decides whether the job is
// retried; the emitted event follows its decision.
func (e *Executor) fail(ctx context.Context, j *job.Job, owner string, cause error, terminal bool) error {
	failed, err := e.store.Fail(ctx, j.ID, owner, cause.Error(), terminal)
	if err != nil {
		e.logger.Error("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if failed.State == job.StateDelayed && failed.DelayUntil != nil {
		e.extensions.EmitJobRetrying(ctx, failed, cause, *failed.DelayUntil)
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", failed.ID.String()),
			slog.String("job_type", failed.Type),
			slog.Int("attempts_made", failed.AttemptsMade),
			slog.Int("max_attempts", failed.MaxAttempts),
			slog.Time("next_run_at", *failed.DelayUntil),
		)
		return cause
	}

	e.extensions.EmitJobFailed(ctx, failed, cause)
	e.logger.Warn("job failed permanently",
		slog.String("job_id", failed.ID.String()),
		slog.String("job_type", failed.Type),
		slog.Int("attempts_made", failed.AttemptsMade),
		slog.String("error", cause.Error()),
	)
	return cause
}

// storeReporter persists handler log lines and progress. Failures are
// logged and never fail the job.
type storeReporter struct {
	store      job.Store
	extensions *ext.Registry
	logger     *slog.Logger
}

func (r *storeReporter) Log(ctx context.Context, j *job.Job, line string) {
	if err := r.store.AppendLog(context.WithoutCancel(ctx), j.ID, line); err != nil {
		r.logger.Warn("failed to append job log",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (r *storeReporter) Progress(ctx context.Context, j *job.Job, value int) {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.SetProgress(ctx, j.ID, value); err != nil {
		r.logger.Warn("failed to record job progress",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	r.extensions.EmitJobProgress(ctx, j, value)
}
