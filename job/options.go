package job

import (
	"fmt"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/backoff"
)

// Options configures a single enqueue: priority, retry budget, backoff and
// delay.
type Options struct {
	// Priority determines dispatch order. Lower values are processed first.
	Priority int

	// MaxAttempts is the total number of executions allowed, at least 1.
	MaxAttempts int

	// Backoff is the retry policy. A zero Delay or Max is filled from the
	// queue configuration at enqueue time.
	Backoff backoff.Policy

	// Delay postpones the first execution.
	Delay time.Duration

	// Timeout overrides the queue's execution timeout for this job.
	Timeout time.Duration
}

// DefaultOptions returns medium priority, three attempts and exponential
// backoff with no delay.
func DefaultOptions() Options {
	return Options{
		Priority:    PriorityMedium,
		MaxAttempts: 3,
		Backoff:     backoff.Policy{Kind: backoff.KindExponential},
	}
}

// Validate checks the option invariants.
func (o Options) Validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", bullmq.ErrInvalidOptions, o.MaxAttempts)
	}
	if o.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", bullmq.ErrInvalidOptions)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", bullmq.ErrInvalidOptions)
	}
	if _, err := backoff.ParseKind(string(o.Backoff.Kind)); err != nil {
		return fmt.Errorf("%w: %w", bullmq.ErrInvalidOptions, err)
	}
	if o.Backoff.Delay < 0 || o.Backoff.Max < 0 {
		return fmt.Errorf("%w: backoff durations must not be negative", bullmq.ErrInvalidOptions)
	}
	return nil
}

// Option is a functional option for configuring an enqueue.
type Option func(*Options)

// WithPriority sets the job priority. Lower values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithMaxAttempts sets the total number of execution attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithBackoff sets the retry strategy and its base delay.
func WithBackoff(kind backoff.Kind, delay time.Duration) Option {
	return func(o *Options) {
		o.Backoff.Kind = kind
		o.Backoff.Delay = delay
	}
}

// WithBackoffMax caps exponential retry delays.
func WithBackoffMax(d time.Duration) Option {
	return func(o *Options) { o.Backoff.Max = d }
}

// WithDelay postpones the first execution by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}
