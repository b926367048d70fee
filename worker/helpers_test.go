package worker_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/backoff"
	"github.com/ozandndar/reddis-bullmq/ext"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/middleware"
	"github.com/ozandndar/reddis-bullmq/store/memory"
	"github.com/ozandndar/reddis-bullmq/worker"
)

// hookCall is one recorded lifecycle hook invocation.
type hookCall struct {
	hook string
	job  *job.Job
	err  error
}

// recorder is an extension that records every lifecycle hook.
type recorder struct {
	mu    sync.Mutex
	calls []hookCall
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(hook string, j *job.Job, err error) error {
	r.mu.Lock()
	r.calls = append(r.calls, hookCall{hook: hook, job: j.Clone(), err: err})
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnJobActive(_ context.Context, j *job.Job) error { return r.add("active", j, nil) }

func (r *recorder) OnJobProgress(_ context.Context, j *job.Job, _ int) error {
	return r.add("progress", j, nil)
}

func (r *recorder) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	return r.add("completed", j, nil)
}

func (r *recorder) OnJobRetrying(_ context.Context, j *job.Job, err error, _ time.Time) error {
	return r.add("retrying", j, err)
}

func (r *recorder) OnJobFailed(_ context.Context, j *job.Job, err error) error {
	return r.add("failed", j, err)
}

func (r *recorder) OnJobStalled(_ context.Context, j *job.Job) error { return r.add("stalled", j, nil) }

func (r *recorder) hooks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.hook
	}
	return out
}

func (r *recorder) find(hook string) (hookCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.hook == hook {
			return c, true
		}
	}
	return hookCall{}, false
}

func (r *recorder) count(hook string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.hook == hook {
			n++
		}
	}
	return n
}

type fixture struct {
	store      *memory.Store
	registry   *job.Registry
	extensions *ext.Registry
	rec        *recorder
	cfg        bullmq.Config
	logger     *slog.Logger
}

func newFixture(t *testing.T, opts ...bullmq.Option) *fixture {
	t.Helper()
	logger := slog.Default()
	extensions := ext.NewRegistry(logger)
	rec := &recorder{}
	extensions.Register(rec)

	cfg := bullmq.DefaultConfig().Apply(
		bullmq.WithConcurrency(1),
		bullmq.WithPollInterval(5*time.Millisecond),
		bullmq.WithLease(time.Second, 200*time.Millisecond),
		bullmq.WithJobTimeout(0),
		bullmq.WithTimeoutGrace(100*time.Millisecond),
	).Apply(opts...)

	return &fixture{
		store:      memory.New(),
		registry:   job.NewRegistry(),
		extensions: extensions,
		rec:        rec,
		cfg:        cfg,
		logger:     logger,
	}
}

func (f *fixture) executor(mws ...middleware.Middleware) *worker.Executor {
	return worker.NewExecutor(f.registry, f.extensions, f.store, f.cfg, f.logger, mws...)
}

func (f *fixture) dispatcher(mws ...middleware.Middleware) *worker.Dispatcher {
	return worker.NewDispatcher("default", f.store, f.executor(mws...), f.cfg, f.logger)
}

// claim claims the next job of the default queue as owner.
func (f *fixture) claim(t *testing.T, owner string) *job.Job {
	t.Helper()
	j, err := f.store.ClaimNext(context.Background(), "default", owner, f.cfg.LeaseDuration)
	if err != nil || j == nil {
		t.Fatalf("claim: job=%v err=%v", j, err)
	}
	return j
}

func (f *fixture) enqueue(t *testing.T, typ string, priority, attempts int) job.ID {
	t.Helper()
	jid, err := f.store.Enqueue(context.Background(), &job.Job{
		Queue:       "default",
		Type:        typ,
		Priority:    priority,
		MaxAttempts: attempts,
		Backoff:     backoff.Policy{Kind: backoff.KindFixed, Delay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return jid
}

func (f *fixture) get(t *testing.T, jid job.ID) *job.Job {
	t.Helper()
	j, err := f.store.Get(context.Background(), jid)
	if err != nil {
		t.Fatalf("get %s: %v", jid, err)
	}
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
