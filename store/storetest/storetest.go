// Package storetest is a conformance suite for job.Store implementations.
// Every backend runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T, clk bullmq.Clock) job.Store {
//	        return memory.New(memory.WithClock(clk))
//	    })
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/backoff"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Factory returns a fresh, empty store driven by clk.
type Factory func(t *testing.T, clk bullmq.Clock) job.Store

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock stopped at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements bullmq.Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Epoch is the start time of every suite clock. It has no sub-millisecond
// part so backends storing millisecond timestamps compare exactly.
var Epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const lease = 10 * time.Second

type env struct {
	t     *testing.T
	ctx   context.Context
	s     job.Store
	clock *ManualClock
	queue string
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(e *env)
	}{
		{"EnqueueAssignsIncreasingIDs", testEnqueueIDs},
		{"EnqueueDelayed", testEnqueueDelayed},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimPriorityOrder", testClaimPriorityOrder},
		{"ClaimFIFOWithinPriority", testClaimFIFO},
		{"ClaimQueueIsolation", testClaimQueueIsolation},
		{"ClaimRespectsDelay", testClaimRespectsDelay},
		{"ClaimConcurrentExclusive", testClaimConcurrent},
		{"RenewLease", testRenewLease},
		{"Complete", testComplete},
		{"FailSchedulesRetry", testFailRetry},
		{"FailExhaustsAttempts", testFailExhausts},
		{"FailTerminal", testFailTerminal},
		{"ReclaimStalled", testReclaimStalled},
		{"ReclaimStalledMaxCount", testReclaimMaxStalled},
		{"ReclaimedJobLockLost", testReclaimedLockLost},
		{"LogsAndProgress", testLogsAndProgress},
		{"NotFound", testNotFound},
		{"ListAndCounts", testListAndCounts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := NewManualClock(Epoch)
			e := &env{
				t:     t,
				ctx:   context.Background(),
				s:     newStore(t, clk),
				clock: clk,
				queue: "conformance",
			}
			tt.fn(e)
		})
	}
}

func (e *env) enqueue(typ string, priority int, opts ...func(*job.Job)) job.ID {
	e.t.Helper()
	j := &job.Job{
		Queue:       e.queue,
		Type:        typ,
		Payload:     []byte(`{"n":1}`),
		Priority:    priority,
		MaxAttempts: 3,
		Backoff:     backoff.Policy{Kind: backoff.KindExponential, Delay: time.Second, Max: time.Minute},
	}
	for _, opt := range opts {
		opt(j)
	}
	jid, err := e.s.Enqueue(e.ctx, j)
	if err != nil {
		e.t.Fatalf("enqueue %s: %v", typ, err)
	}
	return jid
}

func (e *env) claim(worker string) *job.Job {
	e.t.Helper()
	j, err := e.s.ClaimNext(e.ctx, e.queue, worker, lease)
	if err != nil {
		e.t.Fatalf("claim: %v", err)
	}
	return j
}

func (e *env) get(jid job.ID) *job.Job {
	e.t.Helper()
	j, err := e.s.Get(e.ctx, jid)
	if err != nil {
		e.t.Fatalf("get %d: %v", jid, err)
	}
	return j
}

func withDelay(d time.Duration) func(*job.Job) {
	return func(j *job.Job) {
		until := Epoch.Add(d)
		j.DelayUntil = &until
	}
}

func withAttempts(n int) func(*job.Job) {
	return func(j *job.Job) { j.MaxAttempts = n }
}

// ──────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────

func testEnqueueIDs(e *env) {
	a := e.enqueue("a", 5)
	b := e.enqueue("b", 5)
	if a <= 0 || b <= a {
		e.t.Fatalf("ids not increasing: %d then %d", a, b)
	}
	j := e.get(a)
	if j.State != job.StateWaiting || j.Queue != e.queue || j.Type != "a" {
		e.t.Errorf("unexpected job: %+v", j)
	}
	if string(j.Payload) != `{"n":1}` {
		e.t.Errorf("payload = %s", j.Payload)
	}
	if j.MaxAttempts != 3 || j.Backoff.Kind != backoff.KindExponential || j.Backoff.Delay != time.Second {
		e.t.Errorf("options not persisted: %+v", j)
	}
	if j.Progress != 0 || len(j.Logs) != 0 || j.AttemptsMade != 0 {
		e.t.Errorf("unexpected metadata: progress=%d logs=%v attempts=%d", j.Progress, j.Logs, j.AttemptsMade)
	}
}

func testEnqueueDelayed(e *env) {
	jid := e.enqueue("d", 5, withDelay(5*time.Second))
	j := e.get(jid)
	if j.State != job.StateDelayed {
		e.t.Fatalf("state = %s, want delayed", j.State)
	}
	if j.DelayUntil == nil || !j.DelayUntil.Equal(Epoch.Add(5*time.Second)) {
		e.t.Errorf("delayUntil = %v", j.DelayUntil)
	}
}

// ──────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────

func testClaimEmpty(e *env) {
	if j := e.claim("w1"); j != nil {
		e.t.Fatalf("expected no job, got %d", j.ID)
	}
}

func testClaimPriorityOrder(e *env) {
	prios := []int{7, 1, 10, 3, 5}
	for i, p := range prios {
		e.enqueue(fmt.Sprintf("p%d-%d", p, i), p)
	}
	want := []int{1, 3, 5, 7, 10}
	for _, p := range want {
		j := e.claim("w1")
		if j == nil {
			e.t.Fatalf("expected job with priority %d, got none", p)
		}
		if j.Priority != p {
			e.t.Fatalf("claimed priority %d, want %d", j.Priority, p)
		}
		if j.State != job.StateActive || j.LockOwner != "w1" || j.LockExpiresAt == nil {
			e.t.Errorf("claimed job not leased: %+v", j)
		}
		if !j.LockExpiresAt.Equal(Epoch.Add(lease)) {
			e.t.Errorf("lockExpiresAt = %v, want %v", j.LockExpiresAt, Epoch.Add(lease))
		}
	}
	if j := e.claim("w1"); j != nil {
		e.t.Fatalf("expected queue drained, got %d", j.ID)
	}
}

func testClaimFIFO(e *env) {
	var ids []job.ID
	for i := range 5 {
		ids = append(ids, e.enqueue(fmt.Sprintf("f%d", i), job.PriorityMedium))
	}
	for _, want := range ids {
		j := e.claim("w1")
		if j == nil || j.ID != want {
			e.t.Fatalf("claimed %v, want %d", j, want)
		}
	}
}

func testClaimQueueIsolation(e *env) {
	_, err := e.s.Enqueue(e.ctx, &job.Job{Queue: "other", Type: "x", Priority: 1, MaxAttempts: 1,
		Backoff: backoff.Policy{Kind: backoff.KindFixed}})
	if err != nil {
		e.t.Fatalf("enqueue other: %v", err)
	}
	if j := e.claim("w1"); j != nil {
		e.t.Fatalf("claimed job %d from another queue", j.ID)
	}
}

func testClaimRespectsDelay(e *env) {
	delayed := e.enqueue("delayed", job.PriorityCritical, withDelay(5*time.Second))

	if j := e.claim("w1"); j != nil {
		e.t.Fatalf("claimed delayed job %d before its delay", j.ID)
	}
	e.clock.Advance(4999 * time.Millisecond)
	if j := e.claim("w1"); j != nil {
		e.t.Fatalf("claimed delayed job %d 1ms early", j.ID)
	}
	e.clock.Advance(time.Millisecond)
	j := e.claim("w1")
	if j == nil || j.ID != delayed {
		e.t.Fatalf("expected delayed job %d at its due time, got %v", delayed, j)
	}
}

func testClaimConcurrent(e *env) {
	const total = 40
	for i := range total {
		e.enqueue(fmt.Sprintf("c%d", i), i%3)
	}

	var (
		mu   sync.Mutex
		seen = make(map[job.ID]string)
		wg   sync.WaitGroup
		errs = make(chan error, 8)
	)
	for w := range 8 {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				j, err := e.s.ClaimNext(e.ctx, e.queue, worker, lease)
				if err != nil {
					errs <- err
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				if prev, dup := seen[j.ID]; dup {
					errs <- fmt.Errorf("job %d claimed by %s and %s", j.ID, prev, worker)
				}
				seen[j.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		e.t.Error(err)
	}
	if len(seen) != total {
		e.t.Errorf("claimed %d distinct jobs, want %d", len(seen), total)
	}
}

// ──────────────────────────────────────────────────
// Lease, complete, fail
// ──────────────────────────────────────────────────

func testRenewLease(e *env) {
	jid := e.enqueue("r", 5)
	e.claim("w1")

	e.clock.Advance(5 * time.Second)
	if err := e.s.RenewLease(e.ctx, jid, "w1", lease); err != nil {
		e.t.Fatalf("renew: %v", err)
	}
	j := e.get(jid)
	if !j.LockExpiresAt.Equal(Epoch.Add(5*time.Second + lease)) {
		e.t.Errorf("lockExpiresAt = %v, want %v", j.LockExpiresAt, Epoch.Add(5*time.Second+lease))
	}
	if err := e.s.RenewLease(e.ctx, jid, "w2", lease); !errors.Is(err, bullmq.ErrLockLost) {
		e.t.Errorf("renew by other worker: expected ErrLockLost, got %v", err)
	}
}

func testComplete(e *env) {
	jid := e.enqueue("c", 5)
	e.claim("w1")

	if _, err := e.s.Complete(e.ctx, jid, "w2", []byte(`"nope"`)); !errors.Is(err, bullmq.ErrLockLost) {
		e.t.Fatalf("complete by other worker: expected ErrLockLost, got %v", err)
	}
	done, err := e.s.Complete(e.ctx, jid, "w1", []byte(`{"status":"delivered"}`))
	if err != nil {
		e.t.Fatalf("complete: %v", err)
	}
	if done.State != job.StateCompleted || string(done.Result) != `{"status":"delivered"}` {
		e.t.Errorf("unexpected completed job: state=%s result=%s", done.State, done.Result)
	}
	if done.LockOwner != "" || done.LockExpiresAt != nil || done.FinishedAt == nil {
		e.t.Errorf("lock not released or finishedAt missing: %+v", done)
	}
	if err := e.s.RenewLease(e.ctx, jid, "w1", lease); !errors.Is(err, bullmq.ErrLockLost) {
		e.t.Errorf("renew after complete: expected ErrLockLost, got %v", err)
	}
}

func testFailRetry(e *env) {
	jid := e.enqueue("f", 5)
	e.claim("w1")
	e.clock.Advance(time.Second)

	failed, err := e.s.Fail(e.ctx, jid, "w1", "boom", false)
	if err != nil {
		e.t.Fatalf("fail: %v", err)
	}
	if failed.State != job.StateDelayed || failed.AttemptsMade != 1 || failed.LastError != "boom" {
		e.t.Fatalf("unexpected state after fail: %+v", failed)
	}
	wantUntil := Epoch.Add(time.Second + time.Second)
	if failed.DelayUntil == nil || !failed.DelayUntil.Equal(wantUntil) {
		e.t.Errorf("delayUntil = %v, want %v", failed.DelayUntil, wantUntil)
	}
	if failed.LockOwner != "" {
		e.t.Error("lock not cleared")
	}
	if j := e.claim("w1"); j != nil {
		e.t.Fatalf("claimed job %d during backoff", j.ID)
	}
	e.clock.Advance(time.Second)
	j := e.claim("w1")
	if j == nil || j.ID != jid || j.AttemptsMade != 1 {
		e.t.Fatalf("expected retry of %d, got %+v", jid, j)
	}
}

func testFailExhausts(e *env) {
	jid := e.enqueue("x", 5)
	for attempt := 1; attempt <= 3; attempt++ {
		e.clock.Advance(time.Hour)
		if j := e.claim("w1"); j == nil {
			e.t.Fatalf("attempt %d: nothing to claim", attempt)
		}
		if _, err := e.s.Fail(e.ctx, jid, "w1", "x", false); err != nil {
			e.t.Fatalf("attempt %d: fail: %v", attempt, err)
		}
	}
	j := e.get(jid)
	if j.State != job.StateFailed || j.AttemptsMade != 3 || j.LastError != "x" {
		e.t.Fatalf("state=%s attempts=%d lastError=%q, want failed/3/x", j.State, j.AttemptsMade, j.LastError)
	}
	e.clock.Advance(time.Hour)
	if c := e.claim("w1"); c != nil {
		e.t.Fatalf("claimed permanently failed job %d", c.ID)
	}
}

func testFailTerminal(e *env) {
	jid := e.enqueue("t", 5, withAttempts(5))
	e.claim("w1")
	j, err := e.s.Fail(e.ctx, jid, "w1", bullmq.ErrNoHandler.Error(), true)
	if err != nil {
		e.t.Fatalf("fail: %v", err)
	}
	if j.State != job.StateFailed || j.AttemptsMade != 1 {
		e.t.Fatalf("state=%s attempts=%d, want failed/1", j.State, j.AttemptsMade)
	}
}

// ──────────────────────────────────────────────────
// Stalled jobs
// ──────────────────────────────────────────────────

func testReclaimStalled(e *env) {
	stalled := e.enqueue("s", 5)
	healthy := e.enqueue("h", 5)
	e.claim("w1")
	e.claim("w2")

	e.clock.Advance(lease)
	if got, err := e.s.ReclaimStalled(e.ctx, e.queue, e.clock.Now(), 1); err != nil || len(got) != 0 {
		e.t.Fatalf("reclaim at expiry = %v, %v; want none", got, err)
	}

	if err := e.s.RenewLease(e.ctx, healthy, "w2", lease); err != nil {
		e.t.Fatalf("renew: %v", err)
	}
	e.clock.Advance(time.Millisecond)

	got, err := e.s.ReclaimStalled(e.ctx, e.queue, e.clock.Now(), 1)
	if err != nil {
		e.t.Fatalf("reclaim: %v", err)
	}
	if len(got) != 1 || got[0].ID != stalled {
		e.t.Fatalf("reclaimed %v, want only %d", got, stalled)
	}
	r := got[0]
	if r.State != job.StateWaiting || r.AttemptsMade != 1 || r.StalledCount != 1 || r.LockOwner != "" {
		e.t.Errorf("unexpected reclaimed job: %+v", r)
	}

	again, err := e.s.ReclaimStalled(e.ctx, e.queue, e.clock.Now(), 1)
	if err != nil || len(again) != 0 {
		e.t.Fatalf("second reclaim = %v, %v; want none", again, err)
	}

	j := e.claim("w3")
	if j == nil || j.ID != stalled {
		e.t.Fatalf("reclaimed job not dispatchable: %v", j)
	}
}

func testReclaimMaxStalled(e *env) {
	jid := e.enqueue("m", 5, withAttempts(10))
	for range 2 {
		if j := e.claim("w1"); j == nil {
			e.t.Fatal("nothing to claim")
		}
		e.clock.Advance(lease + time.Millisecond)
		if _, err := e.s.ReclaimStalled(e.ctx, e.queue, e.clock.Now(), 1); err != nil {
			e.t.Fatalf("reclaim: %v", err)
		}
	}
	j := e.get(jid)
	if j.State != job.StateFailed || j.StalledCount != 2 || j.AttemptsMade != 2 {
		e.t.Fatalf("state=%s stalled=%d attempts=%d, want failed/2/2", j.State, j.StalledCount, j.AttemptsMade)
	}
	if j.LastError != bullmq.ErrMaxStalledExceeded.Error() {
		e.t.Errorf("lastError = %q", j.LastError)
	}
}

func testReclaimedLockLost(e *env) {
	jid := e.enqueue("l", 5)
	e.claim("w1")
	e.clock.Advance(lease + time.Millisecond)
	if _, err := e.s.ReclaimStalled(e.ctx, e.queue, e.clock.Now(), 1); err != nil {
		e.t.Fatalf("reclaim: %v", err)
	}
	if _, err := e.s.Complete(e.ctx, jid, "w1", nil); !errors.Is(err, bullmq.ErrLockLost) {
		e.t.Errorf("complete after reclaim: expected ErrLockLost, got %v", err)
	}
	if _, err := e.s.Fail(e.ctx, jid, "w1", "late", false); !errors.Is(err, bullmq.ErrLockLost) {
		e.t.Errorf("fail after reclaim: expected ErrLockLost, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Metadata and reads
// ──────────────────────────────────────────────────

func testLogsAndProgress(e *env) {
	jid := e.enqueue("meta", 5)
	e.claim("w1")

	for _, line := range []string{"rendering", "sending"} {
		if err := e.s.AppendLog(e.ctx, jid, line); err != nil {
			e.t.Fatalf("append log: %v", err)
		}
	}
	if err := e.s.SetProgress(e.ctx, jid, 30); err != nil {
		e.t.Fatalf("set progress: %v", err)
	}
	if err := e.s.SetProgress(e.ctx, jid, 130); err != nil {
		e.t.Fatalf("set progress: %v", err)
	}

	j := e.get(jid)
	if len(j.Logs) != 2 || j.Logs[0] != "rendering" || j.Logs[1] != "sending" {
		e.t.Errorf("logs = %v", j.Logs)
	}
	if j.Progress != 100 {
		e.t.Errorf("progress = %d, want 100", j.Progress)
	}
	if j.State != job.StateActive || j.LockOwner != "w1" {
		e.t.Error("metadata updates must not change scheduling state")
	}
}

func testNotFound(e *env) {
	const missing job.ID = 999999
	if _, err := e.s.Get(e.ctx, missing); !errors.Is(err, bullmq.ErrJobNotFound) {
		e.t.Errorf("get: expected ErrJobNotFound, got %v", err)
	}
	if err := e.s.AppendLog(e.ctx, missing, "x"); !errors.Is(err, bullmq.ErrJobNotFound) {
		e.t.Errorf("append log: expected ErrJobNotFound, got %v", err)
	}
	if err := e.s.SetProgress(e.ctx, missing, 1); !errors.Is(err, bullmq.ErrJobNotFound) {
		e.t.Errorf("set progress: expected ErrJobNotFound, got %v", err)
	}
	if err := e.s.RenewLease(e.ctx, missing, "w1", lease); !errors.Is(err, bullmq.ErrJobNotFound) {
		e.t.Errorf("renew: expected ErrJobNotFound, got %v", err)
	}
}

func testListAndCounts(e *env) {
	low := e.enqueue("low", 7)
	high := e.enqueue("high", 1)
	e.enqueue("later", 5, withDelay(time.Minute))
	done := e.enqueue("done", 0)

	if j := e.claim("w1"); j == nil || j.ID != done {
		e.t.Fatalf("expected to claim %d first", done)
	}
	if _, err := e.s.Complete(e.ctx, done, "w1", nil); err != nil {
		e.t.Fatalf("complete: %v", err)
	}

	waiting, err := e.s.List(e.ctx, e.queue, job.StateWaiting, job.ListOpts{})
	if err != nil {
		e.t.Fatalf("list: %v", err)
	}
	if len(waiting) != 2 || waiting[0].ID != high || waiting[1].ID != low {
		e.t.Fatalf("waiting list order wrong: %v", ids(waiting))
	}

	paged, err := e.s.List(e.ctx, e.queue, job.StateWaiting, job.ListOpts{Offset: 1, Limit: 5})
	if err != nil || len(paged) != 1 || paged[0].ID != low {
		e.t.Fatalf("paged list = %v, %v", ids(paged), err)
	}

	counts, err := e.s.Counts(e.ctx, e.queue)
	if err != nil {
		e.t.Fatalf("counts: %v", err)
	}
	want := map[job.State]int64{
		job.StateWaiting:   2,
		job.StateDelayed:   1,
		job.StateActive:    0,
		job.StateCompleted: 1,
		job.StateFailed:    0,
	}
	for state, n := range want {
		if counts[state] != n {
			e.t.Errorf("counts[%s] = %d, want %d", state, counts[state], n)
		}
	}
}

func ids(jobs []*job.Job) []job.ID {
	out := make([]job.ID, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
