// Package demo wires the notification demo onto an engine: three queues,
// five simulated job types, a seed set of jobs and console monitoring.
//
// The handlers only simulate work. Each step logs a line, sleeps and
// reports progress, and a small share of executions fails at random so
// retries and permanent failures can be observed.
package demo

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ozandndar/reddis-bullmq/engine"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Queue names.
const (
	QueueEmail    = "email-queue"
	QueueSMS      = "sms-queue"
	QueuePurchase = "purchase-queue"
)

// Queues lists every demo queue.
var Queues = []string{QueueEmail, QueueSMS, QueuePurchase}

// Job types.
const (
	TypeWelcomeEmail         = "welcome-email"
	TypeEmailVerification    = "email-verification"
	TypeNewsletter           = "newsletter"
	TypeLoginSMS             = "login-sms"
	TypePurchaseConfirmation = "purchase-confirmation"
)

// Handlers runs the simulated job types.
type Handlers struct {
	sleep func(ctx context.Context, d time.Duration) error
	roll  func() float64
	now   func() time.Time
}

// Option configures Handlers.
type Option func(*Handlers)

// WithSleep replaces the step delay, typically with a no-op in tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Handlers) { h.sleep = fn }
}

// WithFailureRoll replaces the random source for failure injection. A roll
// below a handler's failure rate fails the attempt.
func WithFailureRoll(fn func() float64) Option {
	return func(h *Handlers) { h.roll = fn }
}

// WithNow replaces the time source for result timestamps and message IDs.
func WithNow(fn func() time.Time) Option {
	return func(h *Handlers) { h.now = fn }
}

// NewHandlers creates Handlers with real delays and random failures.
func NewHandlers(opts ...Option) *Handlers {
	h := &Handlers{
		sleep: sleepCtx,
		roll:  rand.Float64,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers every demo job type on its queue.
func (h *Handlers) Register(eng *engine.Engine) error {
	regs := []func() error{
		func() error {
			return engine.Register(eng, QueueEmail, job.NewDefinition(TypeWelcomeEmail, h.welcomeEmail))
		},
		func() error {
			return engine.Register(eng, QueueEmail, job.NewDefinition(TypeEmailVerification, h.emailVerification))
		},
		func() error {
			return engine.Register(eng, QueueEmail, job.NewDefinition(TypeNewsletter, h.newsletter))
		},
		func() error {
			return engine.Register(eng, QueueSMS, job.NewDefinition(TypeLoginSMS, h.loginSMS))
		},
		func() error {
			return engine.Register(eng, QueuePurchase, job.NewDefinition(TypePurchaseConfirmation, h.purchaseConfirmation))
		},
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) timestamp() string {
	return h.now().UTC().Format(time.RFC3339Nano)
}

// step logs line, waits d and reports progress.
func (h *Handlers) step(ctx *job.Context, line string, d time.Duration, progress int) error {
	ctx.Log(line)
	if d > 0 {
		if err := h.sleep(ctx, d); err != nil {
			return err
		}
	}
	ctx.Progress(progress)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
