package demo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ozandndar/reddis-bullmq/backoff"
	"github.com/ozandndar/reddis-bullmq/engine"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Seeded is a job created by Seed.
type Seeded struct {
	Queue    string
	Type     string
	ID       job.ID
	Priority int
}

type seedJob struct {
	queue   string
	typ     string
	payload any
	opts    []job.Option
}

const retryBase = time.Second

func exponential(priority, attempts int, delay time.Duration) []job.Option {
	return []job.Option{
		job.WithPriority(priority),
		job.WithMaxAttempts(attempts),
		job.WithBackoff(backoff.KindExponential, retryBase),
		job.WithDelay(delay),
	}
}

func seedJobs(now time.Time) []seedJob {
	jobs := []seedJob{{
		queue: QueueSMS,
		typ:   TypeLoginSMS,
		payload: LoginSMS{
			PhoneNumber:      "+1-555-0123",
			VerificationCode: "789012",
			UserName:         "alice_j",
		},
		opts: exponential(job.PriorityCritical, 5, 0),
	}}

	users := []struct{ email, name, token string }{
		{"alice@example.com", "Alice Johnson", "ver_abc123"},
		{"bob@example.com", "Bob Smith", "ver_def456"},
	}
	for _, u := range users {
		jobs = append(jobs, seedJob{
			queue: QueueEmail,
			typ:   TypeEmailVerification,
			payload: EmailVerification{
				UserEmail:         u.email,
				UserName:          u.name,
				VerificationToken: u.token,
			},
			opts: exponential(job.PriorityHigh, 4, time.Second),
		})
	}

	purchases := []PurchaseConfirmation{
		{
			OrderID:       "ORD-001",
			CustomerEmail: "customer1@example.com",
			CustomerName:  "John Doe",
			OrderDetails:  OrderDetails{Total: 99.99, Items: []string{"Widget A", "Widget B"}},
		},
		{
			OrderID:       "ORD-002",
			CustomerEmail: "customer2@example.com",
			CustomerName:  "Jane Smith",
			OrderDetails:  OrderDetails{Total: 149.99, Items: []string{"Premium Widget"}},
		},
	}
	for _, p := range purchases {
		jobs = append(jobs, seedJob{
			queue:   QueuePurchase,
			typ:     TypePurchaseConfirmation,
			payload: p,
			opts:    exponential(job.PriorityMedium, 3, 2*time.Second),
		})
	}

	for _, u := range users {
		jobs = append(jobs, seedJob{
			queue: QueueEmail,
			typ:   TypeWelcomeEmail,
			payload: WelcomeEmail{
				UserEmail: u.email,
				UserName:  u.name,
				TemplateData: WelcomeTemplate{
					WelcomeMessage: fmt.Sprintf("Welcome to our platform, %s!", u.name),
					ActivationLink: fmt.Sprintf("https://app.example.com/activate?token=welcome_%d", now.UnixMilli()),
				},
			},
			opts: exponential(job.PriorityLow, 3, 3*time.Second),
		})
	}

	subscribers := make([]string, 10)
	for i := range subscribers {
		subscribers[i] = fmt.Sprintf("user%d@example.com", i+1)
	}
	jobs = append(jobs, seedJob{
		queue: QueueEmail,
		typ:   TypeNewsletter,
		payload: Newsletter{
			Subscribers: subscribers,
			Subject:     "Weekly Newsletter - New Features & Updates",
			Content:     "Check out our latest features and product updates...",
		},
		opts: []job.Option{
			job.WithPriority(job.PriorityBulk),
			job.WithMaxAttempts(2),
			job.WithDelay(5 * time.Second),
		},
	})
	return jobs
}

// Seed enqueues the demo job set across all demo queues and returns the
// created jobs in enqueue order.
func Seed(ctx context.Context, eng *engine.Engine, logger *slog.Logger) ([]Seeded, error) {
	var seeded []Seeded
	for _, sj := range seedJobs(time.Now()) {
		id, err := eng.Enqueue(ctx, sj.queue, sj.typ, sj.payload, sj.opts...)
		if err != nil {
			return seeded, fmt.Errorf("seed %s on %s: %w", sj.typ, sj.queue, err)
		}

		var o job.Options
		for _, opt := range sj.opts {
			opt(&o)
		}
		seeded = append(seeded, Seeded{Queue: sj.queue, Type: sj.typ, ID: id, Priority: o.Priority})
		logger.Info("seeded job",
			slog.String("queue", sj.queue),
			slog.String("job_type", sj.typ),
			slog.String("job_id", id.String()),
			slog.Int("priority", o.Priority),
		)
	}
	return seeded, nil
}
