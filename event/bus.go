// Package event provides the job lifecycle event bus.
//
// The Bus is an ext extension: the worker and queue emit lifecycle hooks
// through the extension registry and the Bus turns them into Events for
// local subscribers. Delivery is asynchronous and bounded. Publishing
// never blocks; when a subscriber's buffer is full the event is dropped
// for that subscriber, counted and logged.
package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ozandndar/reddis-bullmq/ext"
	"github.com/ozandndar/reddis-bullmq/id"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Bus)(nil)
	_ ext.JobWaiting   = (*Bus)(nil)
	_ ext.JobActive    = (*Bus)(nil)
	_ ext.JobProgress  = (*Bus)(nil)
	_ ext.JobCompleted = (*Bus)(nil)
	_ ext.JobRetrying  = (*Bus)(nil)
	_ ext.JobFailed    = (*Bus)(nil)
	_ ext.JobStalled   = (*Bus)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Stats contains bus counters.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithLogger sets the logger used for drop warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// Bus fans lifecycle events out to subscribers.
type Bus struct {
	logger     *slog.Logger
	bufferSize int

	mu     sync.RWMutex
	subs   map[id.SubscriptionID]*subscriber
	closed bool
	wg     sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		logger:     slog.Default(),
		bufferSize: DefaultBufferSize,
		subs:       make(map[id.SubscriptionID]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Bus) Name() string { return "event-bus" }

// Subscribe registers fn for events of kind on queue. An empty queue
// matches every queue. The returned function removes the subscription;
// events already buffered are still delivered.
func (b *Bus) Subscribe(queue string, kind Kind, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	sub := newSubscriber(queue, kind, fn, b.bufferSize)
	b.subs[sub.id] = sub
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.run(b.logger)
	}()

	return func() {
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()
		sub.close()
	}
}

// Publish delivers evt to every matching subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.matches(evt) {
			continue
		}
		if sub.send(evt) {
			b.published.Add(1)
			continue
		}
		b.dropped.Add(1)
		b.logger.Warn("event dropped, subscriber buffer full",
			slog.String("subscription_id", sub.id.String()),
			slog.String("kind", string(evt.Kind)),
			slog.String("queue", evt.Queue),
			slog.String("job_id", evt.JobID.String()),
		)
	}
}

// Stats returns bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// Close stops accepting events and waits until every subscriber has
// drained its buffer, or until ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for sid, sub := range b.subs {
			sub.close()
			delete(b.subs, sid)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Lifecycle hooks ─────────────────────────────

// OnJobWaiting implements ext.JobWaiting.
func (b *Bus) OnJobWaiting(_ context.Context, j *job.Job) error {
	b.Publish(newEvent(KindWaiting, j))
	return nil
}

// OnJobActive implements ext.JobActive.
func (b *Bus) OnJobActive(_ context.Context, j *job.Job) error {
	b.Publish(newEvent(KindActive, j))
	return nil
}

// OnJobProgress implements ext.JobProgress.
func (b *Bus) OnJobProgress(_ context.Context, j *job.Job, progress int) error {
	evt := newEvent(KindProgress, j)
	evt.Progress = progress
	b.Publish(evt)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (b *Bus) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	evt := newEvent(KindCompleted, j)
	evt.Result = evt.Job.Result
	evt.Elapsed = elapsed
	b.Publish(evt)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (b *Bus) OnJobRetrying(_ context.Context, j *job.Job, err error, nextRunAt time.Time) error {
	evt := newEvent(KindFailed, j)
	evt.Err = err
	evt.WillRetry = true
	evt.NextRunAt = &nextRunAt
	b.Publish(evt)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (b *Bus) OnJobFailed(_ context.Context, j *job.Job, err error) error {
	evt := newEvent(KindFailed, j)
	evt.Err = err
	b.Publish(evt)
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (b *Bus) OnJobStalled(_ context.Context, j *job.Job) error {
	b.Publish(newEvent(KindStalled, j))
	return nil
}
