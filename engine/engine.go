// Package engine wires the subsystems together: the retrying store, the
// extension registry, the event bus, the default middleware chain and one
// queue per name. It is the application-level entry point for producers
// and workers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/event"
	"github.com/ozandndar/reddis-bullmq/ext"
	"github.com/ozandndar/reddis-bullmq/job"
	mw "github.com/ozandndar/reddis-bullmq/middleware"
	"github.com/ozandndar/reddis-bullmq/observability"
	"github.com/ozandndar/reddis-bullmq/queue"
	"github.com/ozandndar/reddis-bullmq/store"
)

const instrumentationName = "github.com/ozandndar/reddis-bullmq"

// Engine owns the queues of a process and the infrastructure they share.
type Engine struct {
	store      store.Store
	cfg        bullmq.Config
	extensions *ext.Registry
	bus        *event.Bus
	mws        []mw.Middleware
	clock      bullmq.Clock
	logger     *slog.Logger

	userExts  []ext.Extension
	userMws   []mw.Middleware
	retryOpts []store.RetryOption
	noRetry   bool

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu        sync.Mutex
	queues    map[string]*queue.Queue
	consumers map[string]bool
	started   bool
	closed    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithConfig sets the base configuration every queue starts from.
func WithConfig(cfg bullmq.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.userExts = append(eng.userExts, e) }
}

// WithMiddleware adds middleware to the engine's chain. It runs inside the
// default middleware, closest to the handler.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.userMws = append(eng.userMws, m) }
}

// WithClock sets the clock used for delays and stalled-job detection.
func WithClock(c bullmq.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithStoreRetry configures the retry layer placed in front of the store.
func WithStoreRetry(opts ...store.RetryOption) Option {
	return func(eng *Engine) { eng.retryOpts = append(eng.retryOpts, opts...) }
}

// WithoutStoreRetry uses the store as given, without the retry layer.
func WithoutStoreRetry() Option {
	return func(eng *Engine) { eng.noRetry = true }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine. Both
// the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, bullmq.ErrNoStore
	}

	eng := &Engine{
		cfg:       bullmq.DefaultConfig(),
		clock:     bullmq.SystemClock(),
		logger:    slog.Default(),
		queues:    make(map[string]*queue.Queue),
		consumers: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if err := eng.cfg.Validate(); err != nil {
		return nil, err
	}

	eng.store = s
	if !eng.noRetry {
		retryOpts := append([]store.RetryOption{store.WithRetryLogger(eng.logger)}, eng.retryOpts...)
		eng.store = store.NewRetrying(s, retryOpts...)
	}

	eng.extensions = ext.NewRegistry(eng.logger)

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	for _, e := range eng.userExts {
		eng.extensions.Register(e)
	}

	// The bus goes last so subscribers observe the effects of every other
	// extension.
	eng.bus = event.NewBus(
		event.WithBufferSize(eng.cfg.EventBuffer),
		event.WithLogger(eng.logger),
	)
	eng.extensions.Register(eng.bus)

	var tracingMw, metricsMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	eng.mws = append([]mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}, eng.userMws...)

	return eng, nil
}

// Queue returns the consuming queue called name, creating it with the
// engine configuration overridden by opts on first use. Options are
// ignored for a queue that already exists. A queue created after Start is
// started immediately.
func (eng *Engine) Queue(name string, opts ...bullmq.Option) (*queue.Queue, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	q, err := eng.lookupOrCreate(name, opts...)
	if err != nil {
		return nil, err
	}
	if !eng.consumers[name] {
		eng.consumers[name] = true
		if eng.started {
			if err := q.Start(context.Background()); err != nil {
				return nil, err
			}
		}
	}
	return q, nil
}

// lookupOrCreate must be called with eng.mu held.
func (eng *Engine) lookupOrCreate(name string, opts ...bullmq.Option) (*queue.Queue, error) {
	if eng.closed {
		return nil, bullmq.ErrQueueClosed
	}
	if q, ok := eng.queues[name]; ok {
		return q, nil
	}

	q, err := queue.New(name, eng.store, eng.cfg.Apply(opts...),
		queue.WithLogger(eng.logger),
		queue.WithExtensions(eng.extensions),
		queue.WithBus(eng.bus),
		queue.WithMiddleware(eng.mws...),
		queue.WithClock(eng.clock),
	)
	if err != nil {
		return nil, err
	}
	eng.queues[name] = q
	return q, nil
}

// Lookup returns the queue called name if the engine knows it.
func (eng *Engine) Lookup(name string) (*queue.Queue, bool) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	q, ok := eng.queues[name]
	return q, ok
}

// Queues returns the names of every known queue in sorted order.
func (eng *Engine) Queues() []string {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return slices.Sorted(maps.Keys(eng.queues))
}

// Register registers a typed job definition on the queue called
// queueName.
func Register[T any](eng *Engine, queueName string, def *job.Definition[T]) error {
	q, err := eng.Queue(queueName)
	if err != nil {
		return err
	}
	return queue.Register(q, def)
}

// Enqueue adds a job to the queue called queueName. Enqueueing into a
// queue the engine does not consume creates a producer-only queue that is
// never dispatched by this engine.
func (eng *Engine) Enqueue(ctx context.Context, queueName, typ string, payload any, opts ...job.Option) (job.ID, error) {
	eng.mu.Lock()
	q, err := eng.lookupOrCreate(queueName)
	eng.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return q.Enqueue(ctx, typ, payload, opts...)
}

// Subscribe calls fn for events of kind on the queue called queueName, or
// on every queue when queueName is empty.
func (eng *Engine) Subscribe(queueName string, kind event.Kind, fn func(event.Event)) (unsubscribe func()) {
	return eng.bus.Subscribe(queueName, kind, fn)
}

// Start checks store connectivity and starts every consuming queue.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.closed {
		return bullmq.ErrQueueClosed
	}
	if eng.started {
		return nil
	}
	for name := range eng.consumers {
		if err := eng.queues[name].Start(ctx); err != nil {
			return err
		}
	}
	eng.started = true

	eng.logger.Info("engine started", slog.Int("queues", len(eng.consumers)))
	return nil
}

// Run starts the engine and blocks until ctx is done or a queue stops on
// a fatal error, which is returned. Run does not close the engine.
func (eng *Engine) Run(ctx context.Context) error {
	if err := eng.Start(ctx); err != nil {
		return err
	}

	eng.mu.Lock()
	consuming := make([]*queue.Queue, 0, len(eng.consumers))
	for name := range eng.consumers {
		consuming = append(consuming, eng.queues[name])
	}
	eng.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range consuming {
		g.Go(func() error {
			select {
			case <-q.Done():
				return q.Err()
			case <-gctx.Done():
				return nil
			}
		})
	}
	err := g.Wait()
	if err != nil {
		eng.logger.Error("engine stopped on fatal error", slog.String("error", err.Error()))
	}
	return err
}

// Close closes every queue concurrently, notifies Shutdown extensions and
// drains the event bus. The store is left open for its owner to close.
func (eng *Engine) Close(ctx context.Context) error {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return nil
	}
	eng.closed = true
	all := slices.Collect(maps.Values(eng.queues))
	eng.mu.Unlock()

	var g errgroup.Group
	for _, q := range all {
		g.Go(func() error {
			if err := q.Close(ctx); err != nil {
				return fmt.Errorf("close queue %q: %w", q.Name(), err)
			}
			return nil
		})
	}
	errs := []error{g.Wait()}

	eng.extensions.EmitShutdown(ctx)
	if err := eng.bus.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close event bus: %w", err))
	}

	eng.logger.Info("engine closed")
	return errors.Join(errs...)
}

// Store returns the store the engine uses, including its retry layer.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Bus returns the event bus.
func (eng *Engine) Bus() *event.Bus { return eng.bus }

// Config returns the base queue configuration.
func (eng *Engine) Config() bullmq.Config { return eng.cfg }
