package worker_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/store/memory"
	"github.com/ozandndar/reddis-bullmq/worker"
)

func stopDispatcher(t *testing.T, d *worker.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	f := newFixture(t, bullmq.WithConcurrency(2))
	d := f.dispatcher()

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopDispatcher(t, d)
	// Double stop should be no-op.
	stopDispatcher(t, d)

	select {
	case <-d.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
	if d.Err() != nil {
		t.Errorf("Err = %v, want nil after graceful stop", d.Err())
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("restarting a stopped dispatcher should fail")
	}
}

func TestDispatcher_PriorityThenFIFO(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var order []job.ID
	_ = f.registry.Register("work", func(_ *job.Context, j *job.Job) (any, error) {
		mu.Lock()
		order = append(order, j.ID)
		mu.Unlock()
		return nil, nil
	})

	bulk := f.enqueue(t, "work", job.PriorityBulk, 1)
	medium1 := f.enqueue(t, "work", job.PriorityMedium, 1)
	critical := f.enqueue(t, "work", job.PriorityCritical, 1)
	medium2 := f.enqueue(t, "work", job.PriorityMedium, 1)

	d := f.dispatcher()
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopDispatcher(t, d)

	waitFor(t, "all jobs", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	})

	want := []job.ID{critical, medium1, medium2, bulk}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestDispatcher_ScenarioAThenB(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var order []string
	for _, typ := range []string{"A", "B"} {
		_ = f.registry.Register(typ, func(_ *job.Context, j *job.Job) (any, error) {
			mu.Lock()
			order = append(order, j.Type)
			mu.Unlock()
			return nil, nil
		})
	}
	f.enqueue(t, "A", 1, 1)
	f.enqueue(t, "B", 5, 1)

	d := f.dispatcher()
	_ = d.Start(context.Background())
	defer stopDispatcher(t, d)

	waitFor(t, "both jobs", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(order, []string{"A", "B"}) {
		t.Errorf("order = %v, want [A B]", order)
	}
}

func TestDispatcher_ExactlyMaxAttempts(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	_ = f.registry.Register("broken", func(*job.Context, *job.Job) (any, error) {
		calls.Add(1)
		return nil, errors.New("x")
	})
	jid := f.enqueue(t, "broken", job.PriorityMedium, 3)

	d := f.dispatcher()
	_ = d.Start(context.Background())

	waitFor(t, "job to fail", func() bool { return f.get(t, jid).State == job.StateFailed })
	// Give a wrongly scheduled fourth attempt the chance to happen.
	time.Sleep(50 * time.Millisecond)
	stopDispatcher(t, d)

	got := f.get(t, jid)
	if calls.Load() != 3 || got.AttemptsMade != 3 {
		t.Errorf("calls = %d attempts = %d, want 3", calls.Load(), got.AttemptsMade)
	}
	if got.LastError != "x" {
		t.Errorf("last error = %q, want x", got.LastError)
	}
	if f.rec.count("retrying") != 2 || f.rec.count("failed") != 1 {
		t.Errorf("hooks = %v", f.rec.hooks())
	}
}

func TestDispatcher_RespectsConcurrency(t *testing.T) {
	f := newFixture(t, bullmq.WithConcurrency(3))

	var running, peak atomic.Int32
	release := make(chan struct{})
	_ = f.registry.Register("block", func(*job.Context, *job.Job) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil, nil
	})
	for range 6 {
		f.enqueue(t, "block", job.PriorityMedium, 1)
	}

	d := f.dispatcher()
	_ = d.Start(context.Background())

	waitFor(t, "three running", func() bool { return running.Load() == 3 })
	time.Sleep(30 * time.Millisecond)
	if d.Active() != 3 {
		t.Errorf("Active = %d, want 3", d.Active())
	}
	close(release)

	waitFor(t, "all completed", func() bool {
		counts, _ := f.store.Counts(context.Background(), "default")
		return counts[job.StateCompleted] == 6
	})
	stopDispatcher(t, d)

	if peak.Load() != 3 {
		t.Errorf("peak concurrency = %d, want 3", peak.Load())
	}
}

func TestDispatcher_DelayedJob(t *testing.T) {
	f := newFixture(t)

	var ranAt atomic.Int64
	_ = f.registry.Register("later", func(*job.Context, *job.Job) (any, error) {
		ranAt.Store(time.Now().UnixNano())
		return nil, nil
	})

	start := time.Now()
	until := start.Add(100 * time.Millisecond)
	if _, err := f.store.Enqueue(context.Background(), &job.Job{
		Queue: "default", Type: "later", Priority: 5, MaxAttempts: 1, DelayUntil: &until,
	}); err != nil {
		t.Fatal(err)
	}

	d := f.dispatcher()
	_ = d.Start(context.Background())
	defer stopDispatcher(t, d)

	waitFor(t, "delayed job", func() bool { return ranAt.Load() != 0 })
	if time.Unix(0, ranAt.Load()).Before(until) {
		t.Error("delayed job ran before its delay elapsed")
	}
}

func TestDispatcher_RateLimit(t *testing.T) {
	f := newFixture(t, bullmq.WithConcurrency(4), bullmq.WithRateLimit(20, 1))

	var done atomic.Int32
	_ = f.registry.Register("tick", func(*job.Context, *job.Job) (any, error) {
		done.Add(1)
		return nil, nil
	})
	for range 5 {
		f.enqueue(t, "tick", job.PriorityMedium, 1)
	}

	start := time.Now()
	d := f.dispatcher()
	_ = d.Start(context.Background())
	defer stopDispatcher(t, d)

	waitFor(t, "five jobs", func() bool { return done.Load() == 5 })
	// Burst 1 at 20/s spaces the five claims by 50ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("elapsed = %s, rate limit not applied", elapsed)
	}
}

func TestDispatcher_StopCancelsInFlight(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	_ = f.registry.Register("long", func(ctx *job.Context, _ *job.Job) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	jid := f.enqueue(t, "long", job.PriorityMedium, 3)

	d := f.dispatcher()
	_ = d.Start(context.Background())
	<-started
	stopDispatcher(t, d)

	got := f.get(t, jid)
	if got.State != job.StateDelayed {
		t.Errorf("state = %s, want delayed", got.State)
	}
	call, ok := f.rec.find("retrying")
	if !ok || !errors.Is(call.err, bullmq.ErrQueueClosed) {
		t.Errorf("retrying hook = %+v, want ErrQueueClosed", call)
	}
}

// unavailableStore fails every claim as if the backend were down.
type unavailableStore struct {
	*memory.Store
}

func (unavailableStore) ClaimNext(context.Context, string, string, time.Duration) (*job.Job, error) {
	return nil, bullmq.ErrStoreUnavailable
}

func TestDispatcher_StoreUnavailableIsFatal(t *testing.T) {
	f := newFixture(t, bullmq.WithConcurrency(2))
	s := unavailableStore{Store: f.store}
	ex := worker.NewExecutor(f.registry, f.extensions, s, f.cfg, f.logger)
	d := worker.NewDispatcher("default", s, ex, f.cfg, f.logger)

	_ = d.Start(context.Background())

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not stop on a fatal store error")
	}
	if !errors.Is(d.Err(), bullmq.ErrStoreUnavailable) {
		t.Errorf("Err = %v, want ErrStoreUnavailable", d.Err())
	}
	stopDispatcher(t, d)
}

func TestDispatcher_LockOwnersAreUnique(t *testing.T) {
	f := newFixture(t, bullmq.WithConcurrency(2))

	var mu sync.Mutex
	owners := map[string]bool{}
	_ = f.registry.Register("work", func(ctx *job.Context, j *job.Job) (any, error) {
		mu.Lock()
		owners[j.LockOwner] = true
		mu.Unlock()
		return nil, nil
	})
	for range 4 {
		f.enqueue(t, "work", job.PriorityMedium, 1)
	}

	d := f.dispatcher()
	_ = d.Start(context.Background())
	defer stopDispatcher(t, d)

	waitFor(t, "four owners", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(owners) == 4
	})
}
