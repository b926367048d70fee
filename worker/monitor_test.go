package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/store/memory"
	"github.com/ozandndar/reddis-bullmq/store/storetest"
	"github.com/ozandndar/reddis-bullmq/worker"
)

func newMonitorFixture(t *testing.T, maxStalled int) (*fixture, *storetest.ManualClock, *worker.Monitor) {
	t.Helper()
	f := newFixture(t, bullmq.WithStalledCheck(time.Hour, maxStalled))
	clk := storetest.NewManualClock(storetest.Epoch)
	f.store = memory.New(memory.WithClock(clk))
	m := worker.NewMonitor("default", f.store, f.extensions, f.cfg, clk, f.logger)
	return f, clk, m
}

func TestMonitor_ReclaimsStalledJob(t *testing.T) {
	f, clk, m := newMonitorFixture(t, 1)
	ctx := context.Background()

	jid := f.enqueue(t, "work", job.PriorityMedium, 3)
	f.claim(t, "dead-worker")

	// Lease not yet expired.
	if got, err := m.Sweep(ctx); err != nil || len(got) != 0 {
		t.Fatalf("early sweep = %v, %v", got, err)
	}

	clk.Advance(f.cfg.LeaseDuration + time.Second)
	got, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(got) != 1 || got[0].ID != jid {
		t.Fatalf("reclaimed = %v, want job %s", got, jid)
	}

	j := f.get(t, jid)
	if j.State != job.StateWaiting || j.DelayUntil != nil {
		t.Errorf("state = %s delay = %v, want waiting without delay", j.State, j.DelayUntil)
	}
	if j.StalledCount != 1 || j.AttemptsMade != 1 {
		t.Errorf("stalled = %d attempts = %d, want 1 and 1", j.StalledCount, j.AttemptsMade)
	}
	if f.rec.count("stalled") != 1 || f.rec.count("failed") != 0 {
		t.Errorf("hooks = %v", f.rec.hooks())
	}

	// A second sweep must not count the same stall again.
	if again, _ := m.Sweep(ctx); len(again) != 0 {
		t.Errorf("second sweep reclaimed %d jobs", len(again))
	}
	if j := f.get(t, jid); j.AttemptsMade != 1 {
		t.Errorf("attempts = %d after second sweep, want 1", j.AttemptsMade)
	}
}

func TestMonitor_MaxStalledExceeded(t *testing.T) {
	f, clk, m := newMonitorFixture(t, 1)
	ctx := context.Background()

	jid := f.enqueue(t, "work", job.PriorityMedium, 5)
	for range 2 {
		f.claim(t, "dead-worker")
		clk.Advance(f.cfg.LeaseDuration + time.Second)
		if _, err := m.Sweep(ctx); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}

	j := f.get(t, jid)
	if j.State != job.StateFailed {
		t.Fatalf("state = %s, want failed", j.State)
	}
	if j.LastError != bullmq.ErrMaxStalledExceeded.Error() {
		t.Errorf("last error = %q", j.LastError)
	}
	if f.rec.count("stalled") != 2 {
		t.Errorf("stalled hooks = %d, want 2", f.rec.count("stalled"))
	}
	call, ok := f.rec.find("failed")
	if !ok || !errors.Is(call.err, bullmq.ErrMaxStalledExceeded) {
		t.Errorf("failed hook = %+v, want ErrMaxStalledExceeded", call)
	}
}

func TestMonitor_StallWithoutAttemptsLeftFails(t *testing.T) {
	f, clk, m := newMonitorFixture(t, 5)

	jid := f.enqueue(t, "work", job.PriorityMedium, 1)
	f.claim(t, "dead-worker")
	clk.Advance(f.cfg.LeaseDuration + time.Second)

	if _, err := m.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if j := f.get(t, jid); j.State != job.StateFailed {
		t.Errorf("state = %s, want failed", j.State)
	}
}

func TestMonitor_StartSweepsImmediately(t *testing.T) {
	f, clk, m := newMonitorFixture(t, 1)

	jid := f.enqueue(t, "work", job.PriorityMedium, 3)
	f.claim(t, "dead-worker")
	clk.Advance(f.cfg.LeaseDuration + time.Second)

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "stalled job reclaimed", func() bool {
		return f.get(t, jid).State == job.StateWaiting
	})
	if err := m.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Double stop should be no-op.
	if err := m.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestMonitor_ReclaimedJobIsRedispatched(t *testing.T) {
	f, clk, m := newMonitorFixture(t, 1)

	var ran bool
	_ = f.registry.Register("work", func(*job.Context, *job.Job) (any, error) {
		ran = true
		return "ok", nil
	})

	jid := f.enqueue(t, "work", job.PriorityMedium, 3)
	f.claim(t, "dead-worker")
	clk.Advance(f.cfg.LeaseDuration + time.Second)
	if _, err := m.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	j := f.claim(t, "w-2")
	if err := f.executor().Execute(context.Background(), j, "w-2"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ran {
		t.Error("handler did not run")
	}
	got := f.get(t, jid)
	if got.State != job.StateCompleted || got.AttemptsMade != 1 {
		t.Errorf("state = %s attempts = %d", got.State, got.AttemptsMade)
	}
}
