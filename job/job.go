package job

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/ozandndar/reddis-bullmq/backoff"
)

// ID identifies a job. IDs are assigned by the store from a monotonic
// sequence, so a smaller ID was enqueued earlier.
type ID int64

// String returns the decimal form of the ID.
func (i ID) String() string { return strconv.FormatInt(int64(i), 10) }

// ParseID parses the decimal form of an ID.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("job: invalid id %q", s)
	}
	return ID(n), nil
}

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is eligible for dispatch.
	StateWaiting State = "waiting"
	// StateDelayed means the job becomes eligible once DelayUntil passes.
	StateDelayed State = "delayed"
	// StateActive means a worker holds a lease on the job.
	StateActive State = "active"
	// StateCompleted means the handler returned successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
)

// States lists every state in lifecycle order.
var States = []State{StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed}

// ParseState converts a string to a State.
func ParseState(s string) (State, error) {
	if slices.Contains(States, State(s)) {
		return State(s), nil
	}
	return "", fmt.Errorf("job: unknown state %q", s)
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Named priority levels. Lower values are dispatched first.
const (
	PriorityCritical = 1
	PriorityHigh     = 3
	PriorityMedium   = 5
	PriorityLow      = 7
	PriorityBulk     = 10
)

// Job represents a unit of work to be processed by a worker.
type Job struct {
	ID            ID              `json:"id"`
	Queue         string          `json:"queue"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      int             `json:"priority"`
	AttemptsMade  int             `json:"attempts_made"`
	MaxAttempts   int             `json:"max_attempts"`
	Backoff       backoff.Policy  `json:"backoff"`
	Timeout       time.Duration   `json:"timeout,omitempty"`
	DelayUntil    *time.Time      `json:"delay_until,omitempty"`
	State         State           `json:"state"`
	Progress      int             `json:"progress"`
	Logs          []string        `json:"logs"`
	Result        json.RawMessage `json:"result,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	StalledCount  int             `json:"stalled_count"`
	LockOwner     string          `json:"lock_owner,omitempty"`
	LockExpiresAt *time.Time      `json:"lock_expires_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Payload = slices.Clone(j.Payload)
	cp.Result = slices.Clone(j.Result)
	cp.Logs = slices.Clone(j.Logs)
	cp.DelayUntil = cloneTime(j.DelayUntil)
	cp.LockExpiresAt = cloneTime(j.LockExpiresAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.FinishedAt = cloneTime(j.FinishedAt)
	return &cp
}

// Eligible reports whether the job may be claimed at now.
func (j *Job) Eligible(now time.Time) bool {
	switch j.State {
	case StateWaiting:
		return true
	case StateDelayed:
		return j.DelayUntil == nil || !j.DelayUntil.After(now)
	default:
		return false
	}
}

// Before reports whether j is dispatched ahead of other: lower priority
// first, then lower ID.
func (j *Job) Before(other *Job) bool {
	if j.Priority != other.Priority {
		return j.Priority < other.Priority
	}
	return j.ID < other.ID
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
