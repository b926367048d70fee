// Package backoff computes retry delays. Job retries use the deterministic
// Policy; the store retry layer uses the jittered strategy so many callers
// hitting an unavailable backend do not retry in lockstep.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Kind names a job backoff strategy.
type Kind string

const (
	// KindFixed retries after a constant delay.
	KindFixed Kind = "fixed"
	// KindExponential doubles the delay after every failed attempt.
	KindExponential Kind = "exponential"
)

// ParseKind converts a stored or configured name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFixed, KindExponential:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("backoff: unknown kind %q", s)
	}
}

// ComputeDelay returns the delay before the next attempt of a job that has
// failed attemptsMade times. Fixed returns base. Exponential returns
// base * 2^(attemptsMade-1), capped at maxDelay when maxDelay > 0.
func ComputeDelay(attemptsMade int, kind Kind, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if kind == KindFixed {
		return base
	}
	return exponential(attemptsMade, base, maxDelay)
}

// Policy is the retry policy carried by each job.
type Policy struct {
	Kind  Kind          `json:"kind"`
	Delay time.Duration `json:"delay"`
	Max   time.Duration `json:"max,omitempty"`
}

// Delay returns the delay after the given failed attempt.
func (p Policy) Delay(attemptsMade int) time.Duration {
	return ComputeDelay(attemptsMade, p.Kind, p.Delay, p.Max)
}

func exponential(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return exponential(attempt, e.Initial, e.Max)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := exponential(attempt, e.Initial, e.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}
