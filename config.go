package bullmq

import (
	"fmt"
	"time"
)

// Config holds the per-queue processing configuration. Every queue created
// by an engine starts from the engine's Config and may override fields with
// Options.
type Config struct {
	// Concurrency is the maximum number of jobs a queue executes at once.
	Concurrency int

	// PollInterval is how long an idle worker slot waits before asking the
	// store for work again.
	PollInterval time.Duration

	// LeaseDuration is how long a claim stays valid without renewal.
	LeaseDuration time.Duration

	// HeartbeatInterval is how often a running job renews its lease. It must
	// be shorter than LeaseDuration.
	HeartbeatInterval time.Duration

	// JobTimeout bounds a single execution attempt. Zero disables it. A
	// job's own timeout takes precedence.
	JobTimeout time.Duration

	// TimeoutGrace is how long a timed-out handler is given to observe
	// cancellation before its slot abandons it.
	TimeoutGrace time.Duration

	// StalledInterval is how often the stalled-job monitor sweeps.
	StalledInterval time.Duration

	// MaxStalledCount is how many times a job may be reclaimed from a dead
	// worker before it is failed.
	MaxStalledCount int

	// ShutdownTimeout is the grace period Close waits for in-flight jobs.
	ShutdownTimeout time.Duration

	// BackoffDelay and BackoffMax are the retry defaults applied to jobs
	// enqueued without explicit backoff options.
	BackoffDelay time.Duration
	BackoffMax   time.Duration

	// RateLimit caps claims per second across the queue's slots. Zero
	// disables limiting.
	RateLimit float64
	RateBurst int

	// EventBuffer is the per-subscriber event buffer size.
	EventBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		LeaseDuration:     30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		JobTimeout:        5 * time.Minute,
		TimeoutGrace:      5 * time.Second,
		StalledInterval:   30 * time.Second,
		MaxStalledCount:   1,
		ShutdownTimeout:   30 * time.Second,
		BackoffDelay:      1 * time.Second,
		BackoffMax:        1 * time.Hour,
		EventBuffer:       256,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.LeaseDuration <= 0:
		return fmt.Errorf("%w: lease duration must be positive", ErrInvalidConfig)
	case c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LeaseDuration:
		return fmt.Errorf("%w: heartbeat interval %s must be positive and shorter than lease %s",
			ErrInvalidConfig, c.HeartbeatInterval, c.LeaseDuration)
	case c.JobTimeout < 0 || c.TimeoutGrace < 0 || c.ShutdownTimeout < 0:
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	case c.StalledInterval <= 0:
		return fmt.Errorf("%w: stalled interval must be positive", ErrInvalidConfig)
	case c.MaxStalledCount < 0:
		return fmt.Errorf("%w: max stalled count must not be negative", ErrInvalidConfig)
	case c.BackoffDelay < 0 || c.BackoffMax < 0:
		return fmt.Errorf("%w: backoff durations must not be negative", ErrInvalidConfig)
	case c.RateLimit < 0:
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	case c.EventBuffer < 1:
		return fmt.Errorf("%w: event buffer must be at least 1", ErrInvalidConfig)
	}
	return nil
}
