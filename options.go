package bullmq

import "time"

// Option overrides a field of Config.
type Option func(*Config)

// Apply returns a copy of c with opts applied.
func (c Config) Apply(opts ...Option) Config {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithConcurrency sets the maximum number of concurrently active jobs.
func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

// WithPollInterval sets how often idle slots poll the store.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithLease sets the lease duration and the heartbeat interval that renews it.
func WithLease(lease, heartbeat time.Duration) Option {
	return func(c *Config) {
		c.LeaseDuration = lease
		c.HeartbeatInterval = heartbeat
	}
}

// WithJobTimeout sets the default execution timeout.
func WithJobTimeout(d time.Duration) Option {
	return func(c *Config) { c.JobTimeout = d }
}

// WithTimeoutGrace sets how long a timed-out handler may take to return.
func WithTimeoutGrace(d time.Duration) Option {
	return func(c *Config) { c.TimeoutGrace = d }
}

// WithStalledCheck configures the stalled-job monitor.
func WithStalledCheck(interval time.Duration, maxStalled int) Option {
	return func(c *Config) {
		c.StalledInterval = interval
		c.MaxStalledCount = maxStalled
	}
}

// WithShutdownTimeout sets the grace period for in-flight jobs on Close.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// WithDefaultBackoff sets the retry delay base and cap for jobs that do
// not set their own.
func WithDefaultBackoff(base, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.BackoffDelay = base
		c.BackoffMax = maxDelay
	}
}

// WithRateLimit caps how many jobs per second a queue claims.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.RateLimit = perSecond
		c.RateBurst = burst
	}
}

// WithEventBuffer sets the per-subscriber event buffer size.
func WithEventBuffer(n int) Option {
	return func(c *Config) { c.EventBuffer = n }
}
