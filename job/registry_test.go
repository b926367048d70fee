package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got emailPayload
	def := job.NewDefinition("send-email", func(_ *job.Context, p emailPayload) (any, error) {
		got = p
		return "sent", nil
	})

	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("register: %v", err)
	}

	h, ok := r.Get("send-email")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(emailPayload{To: "alice@example.com", Subject: "Hello"})
	j := &job.Job{Type: "send-email", Payload: payload}
	res, err := h(job.NewContext(context.Background(), j, nil), j)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "sent" {
		t.Errorf("result = %v, want %q", res, "sent")
	}
	if got.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", got.To, "alice@example.com")
	}
	if got.Subject != "Hello" {
		t.Errorf("Subject = %q, want %q", got.Subject, "Hello")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("expected no handler for unregistered job")
	}
}

func TestRegistry_DuplicateConflict(t *testing.T) {
	r := job.NewRegistry()
	noop := func(_ *job.Context, _ *job.Job) (any, error) { return nil, nil }

	if err := r.Register("job-a", noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register("job-a", noop)
	if !errors.Is(err, bullmq.ErrHandlerConflict) {
		t.Fatalf("expected ErrHandlerConflict, got %v", err)
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := job.NewRegistry()
	if err := r.Register("", func(_ *job.Context, _ *job.Job) (any, error) { return nil, nil }); err == nil {
		t.Error("expected error for empty type")
	}
	if err := r.Register("x", nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestRegistry_Types(t *testing.T) {
	r := job.NewRegistry()
	for _, typ := range []string{"job-c", "job-a", "job-b"} {
		def := job.NewDefinition(typ, func(_ *job.Context, _ struct{}) (any, error) { return nil, nil })
		if err := job.RegisterDefinition(r, def); err != nil {
			t.Fatalf("register %s: %v", typ, err)
		}
	}

	want := []string{"job-a", "job-b", "job-c"}
	if got := r.Types(); !slices.Equal(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}

func TestRegistry_BadPayload(t *testing.T) {
	r := job.NewRegistry()
	def := job.NewDefinition("typed", func(_ *job.Context, _ emailPayload) (any, error) { return nil, nil })
	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("register: %v", err)
	}
	h, _ := r.Get("typed")
	j := &job.Job{Type: "typed", Payload: []byte(`{not json`)}
	if _, err := h(job.NewContext(context.Background(), j, nil), j); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

type recordingReporter struct {
	lines    []string
	progress []int
}

func (r *recordingReporter) Log(_ context.Context, _ *job.Job, line string) {
	r.lines = append(r.lines, line)
}

func (r *recordingReporter) Progress(_ context.Context, _ *job.Job, v int) {
	r.progress = append(r.progress, v)
}

func TestContext_LogAndProgress(t *testing.T) {
	rep := &recordingReporter{}
	j := &job.Job{ID: 7, AttemptsMade: 1}
	ctx := job.NewContext(context.Background(), j, rep)

	ctx.Log("first")
	ctx.Logf("second %d", 2)
	ctx.Progress(40)
	ctx.Progress(250)
	ctx.Progress(-3)

	if !slices.Equal(rep.lines, []string{"first", "second 2"}) {
		t.Errorf("reported lines = %v", rep.lines)
	}
	if !slices.Equal(j.Logs, []string{"first", "second 2"}) {
		t.Errorf("job logs = %v", j.Logs)
	}
	if !slices.Equal(rep.progress, []int{40, 100, 0}) {
		t.Errorf("reported progress = %v", rep.progress)
	}
	if ctx.Attempt() != 2 {
		t.Errorf("Attempt() = %d, want 2", ctx.Attempt())
	}
	if ctx.Job() != j {
		t.Error("Job() returned a different job")
	}
}

func TestContext_Cancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := job.NewContext(parent, &job.Job{}, nil)
	cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled")
	}
}
