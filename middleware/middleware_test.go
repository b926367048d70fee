package middleware_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) (any, error) {
		order = append(order, "mw1-before")
		res, err := next(ctx)
		order = append(order, "mw1-after")
		return res, err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) (any, error) {
		order = append(order, "mw2-before")
		res, err := next(ctx)
		order = append(order, "mw2-after")
		return res, err
	}

	chain := middleware.Chain(mw1, mw2)
	j := &job.Job{Type: "test", ID: 1}
	handler := func(_ context.Context) (any, error) {
		order = append(order, "handler")
		return "done", nil
	}

	res, err := chain(context.Background(), j, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "done" {
		t.Errorf("result = %v, want done", res)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) (any, error) {
		called = true
		return nil, nil
	}

	if _, err := chain(context.Background(), &job.Job{ID: 1}, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) (any, error) {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	_, err := chain(context.Background(), &job.Job{ID: 1}, func(_ context.Context) (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := &job.Job{Type: "panicky", ID: 1}

	res, err := mw(context.Background(), j, func(_ context.Context) (any, error) {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if res != nil {
		t.Errorf("result = %v, want nil", res)
	}
	if got := err.Error(); got != "panic in job panicky: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := &job.Job{Type: "normal", ID: 1}

	res, err := mw(context.Background(), j, func(_ context.Context) (any, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != 7 {
		t.Fatalf("result = %v, want 7", res)
	}
}

func TestLogging_Success(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	j := &job.Job{Type: "log-test", ID: 1, Queue: "default"}

	called := false
	_, err := mw(context.Background(), j, func(_ context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	j := &job.Job{Type: "log-test", ID: 1, Queue: "default"}
	want := errors.New("fail")

	_, err := mw(context.Background(), j, func(_ context.Context) (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_MapsDeadline(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Type: "slow", ID: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mw(ctx, j, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, bullmq.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_MapsErrorAfterDeadline(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Type: "slow", ID: 1}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := mw(ctx, j, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, errors.New("smtp: i/o interrupted")
	})
	if !errors.Is(err, bullmq.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestTimeout_LeavesOtherErrors(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Type: "fast", ID: 1}
	want := fmt.Errorf("bad payload")

	_, err := mw(context.Background(), j, func(_ context.Context) (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) || errors.Is(err, bullmq.ErrTimeout) {
		t.Fatalf("expected %v unchanged, got %v", want, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mw(ctx, j, func(ctx context.Context) (any, error) {
		return nil, ctx.Err()
	})
	if errors.Is(err, bullmq.ErrTimeout) {
		t.Fatalf("cancellation must not be reported as timeout: %v", err)
	}
}
