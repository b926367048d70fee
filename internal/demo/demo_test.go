package demo_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/engine"
	"github.com/ozandndar/reddis-bullmq/event"
	"github.com/ozandndar/reddis-bullmq/internal/demo"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/store/memory"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := bullmq.DefaultConfig().Apply(
		bullmq.WithConcurrency(2),
		bullmq.WithPollInterval(5*time.Millisecond),
		bullmq.WithDefaultBackoff(time.Millisecond, 10*time.Millisecond),
		bullmq.WithShutdownTimeout(2*time.Second),
	)
	eng, err := engine.New(memory.New(), engine.WithConfig(cfg))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

func noSleep(context.Context, time.Duration) error { return nil }

func never() float64 { return 1 }

func always() float64 { return 0 }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitFor(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func TestRegister_AllQueues(t *testing.T) {
	eng := newEngine(t)
	if err := demo.NewHandlers().Register(eng); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := map[string][]string{
		demo.QueueEmail:    {demo.TypeEmailVerification, demo.TypeNewsletter, demo.TypeWelcomeEmail},
		demo.QueueSMS:      {demo.TypeLoginSMS},
		demo.QueuePurchase: {demo.TypePurchaseConfirmation},
	}
	for name, types := range want {
		q, ok := eng.Lookup(name)
		if !ok {
			t.Fatalf("queue %q not declared", name)
		}
		got := q.Registry().Types()
		if strings.Join(got, ",") != strings.Join(types, ",") {
			t.Errorf("%s types = %v, want %v", name, got, types)
		}
	}
}

func TestHandlers_Complete(t *testing.T) {
	eng := newEngine(t)
	h := demo.NewHandlers(demo.WithSleep(noSleep), demo.WithFailureRoll(never))
	if err := h.Register(eng); err != nil {
		t.Fatalf("Register: %v", err)
	}

	completed := make(chan event.Event, 8)
	eng.Subscribe("", event.KindCompleted, func(e event.Event) { completed <- e })

	ctx := context.Background()
	payloads := []struct {
		queue, typ string
		payload    any
	}{
		{demo.QueueSMS, demo.TypeLoginSMS, demo.LoginSMS{PhoneNumber: "+1-555-0123"}},
		{demo.QueueEmail, demo.TypeWelcomeEmail, demo.WelcomeEmail{UserEmail: "a@example.com"}},
		{demo.QueueEmail, demo.TypeEmailVerification, demo.EmailVerification{UserEmail: "b@example.com", VerificationToken: "tok"}},
		{demo.QueueEmail, demo.TypeNewsletter, demo.Newsletter{Subscribers: []string{"x@example.com", "y@example.com"}}},
		{demo.QueuePurchase, demo.TypePurchaseConfirmation, demo.PurchaseConfirmation{OrderID: "ORD-9"}},
	}
	for _, p := range payloads {
		if _, err := eng.Enqueue(ctx, p.queue, p.typ, p.payload); err != nil {
			t.Fatalf("Enqueue %s: %v", p.typ, err)
		}
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	seen := map[string]event.Event{}
	for range payloads {
		e := waitFor(t, completed)
		seen[e.Type] = e
	}
	if len(seen) != len(payloads) {
		t.Fatalf("completed types = %d, want %d", len(seen), len(payloads))
	}

	sms := seen[demo.TypeLoginSMS]
	if !strings.Contains(string(sms.Result), `"status":"sent"`) || !strings.Contains(string(sms.Result), "+1-555-0123") {
		t.Errorf("sms result = %s", sms.Result)
	}
	if !strings.Contains(string(seen[demo.TypeEmailVerification].Result), "verify?token=tok") {
		t.Errorf("verification result = %s", seen[demo.TypeEmailVerification].Result)
	}
	if !strings.Contains(string(seen[demo.TypeNewsletter].Result), `"totalSent":2`) {
		t.Errorf("newsletter result = %s", seen[demo.TypeNewsletter].Result)
	}

	q, _ := eng.Lookup(demo.QueuePurchase)
	j, err := q.Get(ctx, seen[demo.TypePurchaseConfirmation].JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Progress != 100 {
		t.Errorf("progress = %d, want 100", j.Progress)
	}
	if len(j.Logs) == 0 || j.Logs[0] != "Processing purchase confirmation for order ORD-9" {
		t.Errorf("logs = %v", j.Logs)
	}
	if last := j.Logs[len(j.Logs)-1]; last != "Purchase confirmation completed" {
		t.Errorf("last log = %q", last)
	}
}

func TestHandlers_InjectedFailure(t *testing.T) {
	eng := newEngine(t)
	h := demo.NewHandlers(demo.WithSleep(noSleep), demo.WithFailureRoll(always))
	if err := h.Register(eng); err != nil {
		t.Fatalf("Register: %v", err)
	}

	failed := make(chan event.Event, 4)
	eng.Subscribe(demo.QueueSMS, event.KindFailed, func(e event.Event) {
		if !e.WillRetry {
			failed <- e
		}
	})

	ctx := context.Background()
	id, err := eng.Enqueue(ctx, demo.QueueSMS, demo.TypeLoginSMS, demo.LoginSMS{PhoneNumber: "+1"},
		job.WithMaxAttempts(2))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	e := waitFor(t, failed)
	if e.JobID != id {
		t.Fatalf("failed job = %s, want %s", e.JobID, id)
	}

	q, _ := eng.Lookup(demo.QueueSMS)
	j, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.State != job.StateFailed || j.AttemptsMade != 2 {
		t.Errorf("state = %s attempts = %d", j.State, j.AttemptsMade)
	}
	if j.LastError != "sms gateway unavailable" {
		t.Errorf("last error = %q", j.LastError)
	}
	if last := j.Logs[len(j.Logs)-1]; last != "Failed to send login SMS: sms gateway unavailable" {
		t.Errorf("last log = %q", last)
	}
}

func TestSeed(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	seeded, err := demo.Seed(ctx, eng, discard())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(seeded) != 8 {
		t.Fatalf("seeded %d jobs, want 8", len(seeded))
	}
	if seeded[0].Type != demo.TypeLoginSMS || seeded[0].Priority != job.PriorityCritical {
		t.Errorf("first seeded = %+v", seeded[0])
	}
	if last := seeded[len(seeded)-1]; last.Type != demo.TypeNewsletter || last.Priority != job.PriorityBulk {
		t.Errorf("last seeded = %+v", last)
	}

	want := map[string]map[job.State]int64{
		demo.QueueSMS:      {job.StateWaiting: 1},
		demo.QueueEmail:    {job.StateDelayed: 5},
		demo.QueuePurchase: {job.StateDelayed: 2},
	}
	for name, states := range want {
		q, ok := eng.Lookup(name)
		if !ok {
			t.Fatalf("queue %q missing", name)
		}
		counts, err := q.Counts(ctx)
		if err != nil {
			t.Fatalf("Counts: %v", err)
		}
		for state, n := range states {
			if counts[state] != n {
				t.Errorf("%s %s = %d, want %d", name, state, counts[state], n)
			}
		}
	}

	q, _ := eng.Lookup(demo.QueueSMS)
	j, err := q.Get(ctx, seeded[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", j.MaxAttempts)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMonitor(t *testing.T) {
	eng := newEngine(t)
	h := demo.NewHandlers(demo.WithSleep(noSleep), demo.WithFailureRoll(never))
	if err := h.Register(eng); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var out syncBuffer
	stop := demo.Monitor(eng, &out)
	defer stop()

	ctx := context.Background()
	id, err := eng.Enqueue(ctx, demo.QueueSMS, demo.TypeLoginSMS, demo.LoginSMS{PhoneNumber: "+1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{
		"SMS job " + id.String() + " (login-sms) waiting",
		"Processing sms job " + id.String() + " (login-sms)",
		"SMS job " + id.String() + " (login-sms) completed successfully",
	}
	deadline := time.Now().Add(5 * time.Second)
	for _, line := range want {
		for !strings.Contains(out.String(), line) {
			if time.Now().After(deadline) {
				t.Fatalf("output %q does not contain %q", out.String(), line)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}
