package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/ozandndar/reddis-bullmq/ext"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobWaiting   = (*Extension)(nil)
	_ ext.JobActive    = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobRetrying  = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobStalled   = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc adapts a plain function to a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension records job lifecycle events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that records through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnJobWaiting implements ext.JobWaiting.
func (e *Extension) OnJobWaiting(ctx context.Context, j *job.Job) error {
	meta := jobMeta(j)
	meta["priority"] = j.Priority
	if j.DelayUntil != nil {
		meta["delay_until"] = j.DelayUntil.Format(time.RFC3339)
	}
	return e.record(ctx, ActionJobWaiting, SeverityInfo, OutcomeSuccess, j, nil, meta)
}

// OnJobActive implements ext.JobActive.
func (e *Extension) OnJobActive(ctx context.Context, j *job.Job) error {
	meta := jobMeta(j)
	meta["lock_owner"] = j.LockOwner
	return e.record(ctx, ActionJobActive, SeverityInfo, OutcomeSuccess, j, nil, meta)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	meta := jobMeta(j)
	meta["elapsed_ms"] = elapsed.Milliseconds()
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j, nil, meta)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, jobErr error, nextRunAt time.Time) error {
	meta := jobMeta(j)
	meta["next_run_at"] = nextRunAt.Format(time.RFC3339)
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j, jobErr, meta)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j, jobErr, jobMeta(j))
}

// OnJobStalled implements ext.JobStalled.
func (e *Extension) OnJobStalled(ctx context.Context, j *job.Job) error {
	meta := jobMeta(j)
	meta["stalled_count"] = j.StalledCount
	meta["state"] = string(j.State)
	return e.record(ctx, ActionJobStalled, SeverityWarning, OutcomeFailure, j, nil, meta)
}

func jobMeta(j *job.Job) map[string]any {
	return map[string]any{
		"job_type":      j.Type,
		"queue":         j.Queue,
		"attempts_made": j.AttemptsMade,
		"max_attempts":  j.MaxAttempts,
	}
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged and never fail the hook.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	j *job.Job,
	err error,
	meta map[string]any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID.String(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
