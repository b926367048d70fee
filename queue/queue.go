package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/event"
	"github.com/ozandndar/reddis-bullmq/ext"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/middleware"
	"github.com/ozandndar/reddis-bullmq/worker"
)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithExtensions sets a shared extension registry. Without it the queue
// creates a private one.
func WithExtensions(r *ext.Registry) Option {
	return func(q *Queue) { q.extensions = r }
}

// WithBus sets a shared event bus. The bus must already be registered with
// the queue's extension registry; a shared bus is not closed by the queue.
func WithBus(b *event.Bus) Option {
	return func(q *Queue) { q.bus = b }
}

// WithMiddleware sets the middleware chain handlers run through.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(q *Queue) { q.mws = append(q.mws, mws...) }
}

// WithClock sets the clock used for delays and stalled-job detection.
func WithClock(c bullmq.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// Queue is a named job queue: producers enqueue into it, handlers are
// registered on it, and once started it dispatches its jobs to them.
type Queue struct {
	name       string
	cfg        bullmq.Config
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	bus        *event.Bus
	ownsBus    bool
	mws        []middleware.Middleware
	clock      bullmq.Clock
	logger     *slog.Logger

	dispatcher *worker.Dispatcher
	monitor    *worker.Monitor

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a queue named name backed by s. cfg must be valid.
func New(name string, s job.Store, cfg bullmq.Config, opts ...Option) (*Queue, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty queue name", bullmq.ErrInvalidConfig)
	}
	if s == nil {
		return nil, bullmq.ErrNoStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("queue %q: %w", name, err)
	}

	q := &Queue{
		name:     name,
		cfg:      cfg,
		store:    s,
		registry: job.NewRegistry(),
		clock:    bullmq.SystemClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.extensions == nil {
		q.extensions = ext.NewRegistry(q.logger)
	}
	if q.bus == nil {
		q.bus = event.NewBus(event.WithBufferSize(cfg.EventBuffer), event.WithLogger(q.logger))
		q.extensions.Register(q.bus)
		q.ownsBus = true
	}

	executor := worker.NewExecutor(q.registry, q.extensions, s, cfg, q.logger, q.mws...)
	q.dispatcher = worker.NewDispatcher(name, s, executor, cfg, q.logger)
	q.monitor = worker.NewMonitor(name, s, q.extensions, cfg, q.clock, q.logger)
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Config returns the queue's processing configuration.
func (q *Queue) Config() bullmq.Config { return q.cfg }

// Registry returns the queue's handler registry.
func (q *Queue) Registry() *job.Registry { return q.registry }

// Enqueue JSON-encodes payload and adds a job of type typ to the queue.
func (q *Queue) Enqueue(ctx context.Context, typ string, payload any, opts ...job.Option) (job.ID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload for job %q: %w", typ, err)
	}
	return q.EnqueueRaw(ctx, typ, data, opts...)
}

// EnqueueRaw adds a job with a pre-serialized payload. Backoff durations
// left at zero are filled from the queue configuration.
func (q *Queue) EnqueueRaw(ctx context.Context, typ string, payload []byte, opts ...job.Option) (job.ID, error) {
	if q.isClosed() {
		return 0, bullmq.ErrQueueClosed
	}
	if typ == "" {
		return 0, fmt.Errorf("%w: empty job type", bullmq.ErrInvalidOptions)
	}

	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Backoff.Delay == 0 {
		o.Backoff.Delay = q.cfg.BackoffDelay
	}
	if o.Backoff.Max == 0 {
		o.Backoff.Max = q.cfg.BackoffMax
	}
	if err := o.Validate(); err != nil {
		return 0, err
	}

	j := &job.Job{
		Queue:       q.name,
		Type:        typ,
		Payload:     payload,
		Priority:    o.Priority,
		MaxAttempts: o.MaxAttempts,
		Backoff:     o.Backoff,
		Timeout:     o.Timeout,
	}
	now := q.clock.Now()
	if o.Delay > 0 {
		until := now.Add(o.Delay)
		j.DelayUntil = &until
	}

	jid, err := q.store.Enqueue(ctx, j)
	if err != nil {
		return 0, fmt.Errorf("enqueue %q into %q: %w", typ, q.name, err)
	}

	job.Prepare(j, now)
	j.ID = jid
	q.extensions.EmitJobWaiting(ctx, j)

	q.logger.Debug("job enqueued",
		slog.String("job_id", jid.String()),
		slog.String("job_type", typ),
		slog.String("queue", q.name),
		slog.Int("priority", o.Priority),
		slog.String("state", string(j.State)),
	)
	return jid, nil
}

// RegisterHandler associates a handler with a job type. A second handler
// for the same type returns bullmq.ErrHandlerConflict.
func (q *Queue) RegisterHandler(typ string, h job.HandlerFunc) error {
	return q.registry.Register(typ, h)
}

// Register registers a typed job definition on q.
func Register[T any](q *Queue, def *job.Definition[T]) error {
	return job.RegisterDefinition(q.registry, def)
}

// Subscribe calls fn for every event of kind emitted for this queue. fn
// runs on a dedicated goroutine and must not block for long; events that
// overflow its buffer are dropped.
func (q *Queue) Subscribe(kind event.Kind, fn func(event.Event)) (unsubscribe func()) {
	return q.bus.Subscribe(q.name, kind, fn)
}

// Start begins dispatching and stalled-job monitoring.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return bullmq.ErrQueueClosed
	}
	if q.started {
		return nil
	}
	if err := q.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start stalled monitor for %q: %w", q.name, err)
	}
	if err := q.dispatcher.Start(ctx); err != nil {
		_ = q.monitor.Stop(ctx)
		return fmt.Errorf("start dispatcher for %q: %w", q.name, err)
	}
	q.started = true
	return nil
}

// Close stops dispatch, signals in-flight handlers to stop and waits for
// them up to the shutdown timeout or ctx, whichever comes first. Jobs
// still running after that are abandoned and later reclaimed as stalled.
// Close is idempotent.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	if q.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if err := q.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
	}
	if err := q.monitor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop stalled monitor: %w", err))
	}
	if q.ownsBus {
		if err := q.bus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	q.logger.Info("queue closed", slog.String("queue", q.name))
	return errors.Join(errs...)
}

// Done is closed when the queue stops dispatching, after Close or a fatal
// store error.
func (q *Queue) Done() <-chan struct{} { return q.dispatcher.Done() }

// Err returns the fatal error that stopped dispatch, or nil.
func (q *Queue) Err() error { return q.dispatcher.Err() }

// Get returns a job of this queue by ID.
func (q *Queue) Get(ctx context.Context, jid job.ID) (*job.Job, error) {
	j, err := q.store.Get(ctx, jid)
	if err != nil {
		return nil, err
	}
	if j.Queue != q.name {
		return nil, bullmq.ErrJobNotFound
	}
	return j, nil
}

// List returns the queue's jobs in state.
func (q *Queue) List(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	return q.store.List(ctx, q.name, state, opts)
}

// Counts returns the number of the queue's jobs per state.
func (q *Queue) Counts(ctx context.Context) (map[job.State]int64, error) {
	return q.store.Counts(ctx, q.name)
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
