package job

import (
	"context"
	"fmt"
)

// Reporter persists handler-side metadata. The worker supplies an
// implementation backed by the store.
type Reporter interface {
	Log(ctx context.Context, j *Job, line string)
	Progress(ctx context.Context, j *Job, value int)
}

// Context is passed to handlers. It carries the cancellation signal of the
// execution (timeout, lost lease or shutdown) and lets the handler append
// log lines and report progress. Both are best effort and never fail the
// job.
type Context struct {
	context.Context

	job      *Job
	reporter Reporter
}

// NewContext wraps ctx for the execution of j.
func NewContext(ctx context.Context, j *Job, r Reporter) *Context {
	return &Context{Context: ctx, job: j, reporter: r}
}

// Job returns the job being executed.
func (c *Context) Job() *Job { return c.job }

// Attempt returns the 1-indexed number of the current attempt.
func (c *Context) Attempt() int { return c.job.AttemptsMade + 1 }

// Log appends a line to the job's log.
func (c *Context) Log(line string) {
	c.job.Logs = append(c.job.Logs, line)
	if c.reporter != nil {
		c.reporter.Log(c.Context, c.job, line)
	}
}

// Logf appends a formatted line to the job's log.
func (c *Context) Logf(format string, args ...any) {
	c.Log(fmt.Sprintf(format, args...))
}

// Progress records completion progress, clamped to 0..100.
func (c *Context) Progress(value int) {
	value = ClampProgress(value)
	c.job.Progress = value
	if c.reporter != nil {
		c.reporter.Progress(c.Context, c.job, value)
	}
}
