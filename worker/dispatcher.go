package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/id"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Dispatcher runs a fixed number of slot goroutines for one queue. Each
// slot claims the most urgent eligible job, executes it and claims again,
// sleeping for the poll interval when the queue is empty.
type Dispatcher struct {
	queue        string
	store        job.Store
	executor     *Executor
	concurrency  int
	pollInterval time.Duration
	lease        time.Duration
	limiter      *rate.Limiter
	workerID     id.WorkerID
	logger       *slog.Logger

	seq    atomic.Uint64
	active atomic.Int64

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  bool
	err      error
	done     chan struct{}
	doneOnce sync.Once
}

// NewDispatcher creates a dispatcher for queue. Concurrency, poll interval,
// lease and rate limit are taken from cfg.
func NewDispatcher(
	queue string,
	store job.Store,
	executor *Executor,
	cfg bullmq.Config,
	logger *slog.Logger,
) *Dispatcher {
	d := &Dispatcher{
		queue:        queue,
		store:        store,
		executor:     executor,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		lease:        cfg.LeaseDuration,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		done:         make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return d
}

// WorkerID returns the dispatcher's unique identifier. Lock owners are
// derived from it.
func (d *Dispatcher) WorkerID() id.WorkerID { return d.workerID }

// Active returns the number of jobs currently executing.
func (d *Dispatcher) Active() int { return int(d.active.Load()) }

// Done is closed when dispatch has stopped, either through Stop or
// because of a fatal store error.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Err returns the fatal error that stopped dispatch, or nil.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Start launches the slot goroutines. It returns immediately.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	select {
	case <-d.done:
		return fmt.Errorf("dispatcher for queue %q already stopped", d.queue)
	default:
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancelCause(context.Background())

	d.logger.Info("dispatcher starting",
		slog.String("queue", d.queue),
		slog.String("worker_id", d.workerID.String()),
		slog.Int("concurrency", d.concurrency),
	)

	for range d.concurrency {
		d.wg.Add(1)
		go d.slot()
	}
	return nil
}

// Stop stops claiming, cancels in-flight handlers and waits for the slots
// to return or for ctx to expire. Jobs still running afterwards keep their
// lease until it expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		d.closeDone()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info("dispatcher stopping",
		slog.String("queue", d.queue),
		slog.String("worker_id", d.workerID.String()),
	)
	d.cancel(bullmq.ErrQueueClosed)

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		d.logger.Info("dispatcher stopped gracefully", slog.String("queue", d.queue))
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out, abandoning in-flight jobs",
			slog.String("queue", d.queue),
			slog.Int("active", d.Active()),
		)
	}
	d.closeDone()
	return nil
}

func (d *Dispatcher) slot() {
	defer d.wg.Done()

	for {
		if d.ctx.Err() != nil {
			return
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(d.ctx); err != nil {
				return
			}
		}

		owner := d.nextOwner()
		j, err := d.store.ClaimNext(d.ctx, d.queue, owner, d.lease)
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			if errors.Is(err, bullmq.ErrStoreUnavailable) {
				d.fatal(err)
				return
			}
			d.logger.Error("claim error",
				slog.String("queue", d.queue),
				slog.String("error", err.Error()),
			)
			d.sleep()
			continue
		}
		if j == nil {
			d.sleep()
			continue
		}

		d.active.Add(1)
		if execErr := d.executor.Execute(d.ctx, j, owner); execErr != nil {
			d.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("error", execErr.Error()),
			)
		}
		d.active.Add(-1)
	}
}

// fatal stops dispatch after the store became unreachable beyond the
// retry budget.
func (d *Dispatcher) fatal(err error) {
	d.mu.Lock()
	if d.err == nil {
		d.err = fmt.Errorf("queue %q: %w", d.queue, err)
		d.logger.Error("store unavailable, dispatch stopped",
			slog.String("queue", d.queue),
			slog.String("worker_id", d.workerID.String()),
			slog.String("error", err.Error()),
		)
	}
	d.running = false
	d.mu.Unlock()

	d.cancel(err)
	d.closeDone()
}

func (d *Dispatcher) closeDone() {
	d.doneOnce.Do(func() { close(d.done) })
}

func (d *Dispatcher) nextOwner() string {
	return fmt.Sprintf("%s-%d", d.workerID, d.seq.Add(1))
}

func (d *Dispatcher) sleep() {
	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-d.ctx.Done():
	}
}
