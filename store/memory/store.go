// Package memory implements store.Store in process memory. It is safe for
// concurrent use and intended for tests, development and single-process
// deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Ensure Store implements job.Store at compile time.
// The store package imports nothing from here, but store/storetest imports
// memory, so the aggregate check lives in the tests.
var _ job.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithClock sets the time source used for leases and delays.
func WithClock(c bullmq.Clock) Option {
	return func(m *Store) { m.clock = c }
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	clock  bullmq.Clock
	nextID job.ID
	jobs   map[job.ID]*job.Job
	queues map[string][]job.ID // queue → IDs in enqueue order
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		clock:  bullmq.SystemClock(),
		jobs:   make(map[job.ID]*job.Job),
		queues: make(map[string][]job.ID),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// Enqueue assigns an ID and persists a copy of j.
func (m *Store) Enqueue(_ context.Context, j *job.Job) (job.ID, error) {
	if j.Queue == "" {
		return 0, fmt.Errorf("bullmq/memory: enqueue: empty queue name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	cp := j.Clone()
	cp.ID = m.nextID
	job.Prepare(cp, m.clock.Now())

	m.jobs[cp.ID] = cp
	m.queues[cp.Queue] = append(m.queues[cp.Queue], cp.ID)
	return cp.ID, nil
}

// ClaimNext claims the most urgent eligible job of the queue.
func (m *Store) ClaimNext(_ context.Context, queue, workerID string, lease time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var best *job.Job
	for _, jid := range m.queues[queue] {
		j := m.jobs[jid]
		if !j.Eligible(now) {
			continue
		}
		if best == nil || j.Before(best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	job.Claim(best, workerID, lease, now)
	return best.Clone(), nil
}

// RenewLease extends the lease held by workerID.
func (m *Store) RenewLease(_ context.Context, jobID job.ID, workerID string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(jobID, workerID)
	if err != nil {
		return err
	}
	job.Renew(j, lease, m.clock.Now())
	return nil
}

// Complete marks the job completed.
func (m *Store) Complete(_ context.Context, jobID job.ID, workerID string, result []byte) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(jobID, workerID)
	if err != nil {
		return nil, err
	}
	job.ApplyCompletion(j, append([]byte(nil), result...), m.clock.Now())
	return j.Clone(), nil
}

// Fail records a failed attempt.
func (m *Store) Fail(_ context.Context, jobID job.ID, workerID, cause string, terminal bool) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(jobID, workerID)
	if err != nil {
		return nil, err
	}
	job.ApplyFailure(j, cause, terminal, m.clock.Now())
	return j.Clone(), nil
}

// ReclaimStalled reverts active jobs whose lease expired before now.
func (m *Store) ReclaimStalled(_ context.Context, queue string, now time.Time, maxStalled int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*job.Job
	for _, jid := range m.queues[queue] {
		j := m.jobs[jid]
		if !job.Stalled(j, now) {
			continue
		}
		job.ApplyStall(j, maxStalled, now)
		out = append(out, j.Clone())
	}
	return out, nil
}

// AppendLog adds a line to the job's log.
func (m *Store) AppendLog(_ context.Context, jobID job.ID, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return bullmq.ErrJobNotFound
	}
	j.Logs = append(j.Logs, line)
	return nil
}

// SetProgress records progress.
func (m *Store) SetProgress(_ context.Context, jobID job.ID, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return bullmq.ErrJobNotFound
	}
	j.Progress = job.ClampProgress(value)
	return nil
}

func (m *Store) owned(jobID job.ID, workerID string) (*job.Job, error) {
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, bullmq.ErrJobNotFound
	}
	if err := job.CheckLock(j, workerID); err != nil {
		return nil, err
	}
	return j, nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Get retrieves a job by ID.
func (m *Store) Get(_ context.Context, jobID job.ID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, bullmq.ErrJobNotFound
	}
	return j.Clone(), nil
}

// List returns the queue's jobs in the given state.
func (m *Store) List(_ context.Context, queue string, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []*job.Job
	for _, jid := range m.queues[queue] {
		if j := m.jobs[jid]; j.State == state {
			jobs = append(jobs, j.Clone())
		}
	}
	switch state {
	case job.StateWaiting:
		sort.Slice(jobs, func(i, k int) bool { return jobs[i].Before(jobs[k]) })
	case job.StateDelayed:
		sort.Slice(jobs, func(i, k int) bool {
			a, b := jobs[i].DelayUntil, jobs[k].DelayUntil
			if a != nil && b != nil && !a.Equal(*b) {
				return a.Before(*b)
			}
			return jobs[i].ID < jobs[k].ID
		})
	}
	return page(jobs, opts), nil
}

// Counts returns the number of jobs per state for the queue.
func (m *Store) Counts(_ context.Context, queue string) (map[job.State]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[job.State]int64, len(job.States))
	for _, s := range job.States {
		counts[s] = 0
	}
	for _, jid := range m.queues[queue] {
		counts[m.jobs[jid].State]++
	}
	return counts, nil
}

func page(jobs []*job.Job, opts job.ListOpts) []*job.Job {
	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs
}
