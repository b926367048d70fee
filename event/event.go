package event

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/ozandndar/reddis-bullmq/job"
)

// Kind names a job lifecycle event.
type Kind string

const (
	// KindWaiting fires when a job is accepted into a queue.
	KindWaiting Kind = "waiting"
	// KindActive fires when a worker claims a job.
	KindActive Kind = "active"
	// KindProgress fires when a handler reports progress.
	KindProgress Kind = "progress"
	// KindCompleted fires when a handler returns successfully.
	KindCompleted Kind = "completed"
	// KindFailed fires on every failed attempt. WillRetry tells whether
	// the job was scheduled for another attempt.
	KindFailed Kind = "failed"
	// KindStalled fires when the stalled monitor reclaims a job.
	KindStalled Kind = "stalled"
)

// Kinds lists every event kind.
var Kinds = []Kind{KindWaiting, KindActive, KindProgress, KindCompleted, KindFailed, KindStalled}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	if slices.Contains(Kinds, Kind(s)) {
		return Kind(s), nil
	}
	return "", fmt.Errorf("event: unknown kind %q", s)
}

// Event is a job lifecycle notification. Job is a snapshot shared by all
// subscribers and must not be modified.
type Event struct {
	Kind      Kind
	Queue     string
	JobID     job.ID
	Type      string
	Job       *job.Job
	Progress  int
	Result    json.RawMessage
	Err       error
	WillRetry bool
	NextRunAt *time.Time
	Elapsed   time.Duration
	Timestamp time.Time
}

func newEvent(kind Kind, j *job.Job) Event {
	snap := j.Clone()
	return Event{
		Kind:      kind,
		Queue:     snap.Queue,
		JobID:     snap.ID,
		Type:      snap.Type,
		Job:       snap,
		Progress:  snap.Progress,
		Timestamp: time.Now().UTC(),
	}
}
