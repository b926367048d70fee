package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/backoff"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/store/redis"
	"github.com/ozandndar/reddis-bullmq/store/storetest"
)

func newStore(t *testing.T, clk bullmq.Clock) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return redis.New(client, redis.WithClock(clk)), mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clk bullmq.Clock) job.Store {
		s, _ := newStore(t, clk)
		return s
	})
}

func testJob(queue string, priority int) *job.Job {
	return &job.Job{
		Queue:       queue,
		Type:        "t",
		Payload:     []byte(`{"n":1}`),
		Priority:    priority,
		MaxAttempts: 3,
		Backoff:     backoff.Policy{Kind: backoff.KindExponential, Delay: time.Second, Max: time.Minute},
		Timeout:     30 * time.Second,
	}
}

func TestKeyLayout(t *testing.T) {
	clk := storetest.NewManualClock(storetest.Epoch)
	s, mr := newStore(t, clk)
	ctx := context.Background()

	jid, err := s.Enqueue(ctx, testJob("emails", 3))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	member := "00000000000000000001"
	if jid != 1 {
		t.Fatalf("first id = %d", jid)
	}

	if !mr.Exists("bull:job:" + member) {
		t.Error("job hash missing")
	}
	if got := mr.HGet("bull:job:"+member, "state"); got != "waiting" {
		t.Errorf("state field = %q", got)
	}
	score, err := mr.ZScore("bull:emails:wait", member)
	if err != nil || score != 3 {
		t.Errorf("wait score = %v, %v", score, err)
	}

	if _, err := s.ClaimNext(ctx, "emails", "w", 10*time.Second); err != nil {
		t.Fatalf("claim: %v", err)
	}
	score, err = mr.ZScore("bull:emails:active", member)
	want := float64(storetest.Epoch.Add(10 * time.Second).UnixMilli())
	if err != nil || score != want {
		t.Errorf("active score = %v, %v; want %v", score, err, want)
	}
	if mr.Exists("bull:emails:wait") {
		if members, _ := mr.ZMembers("bull:emails:wait"); len(members) != 0 {
			t.Errorf("wait still holds %v", members)
		}
	}
}

func TestRoundTripFields(t *testing.T) {
	clk := storetest.NewManualClock(storetest.Epoch)
	s, _ := newStore(t, clk)
	ctx := context.Background()

	in := testJob("q", 5)
	jid, err := s.Enqueue(ctx, in)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := s.Get(ctx, jid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Queue != "q" || got.Type != "t" || string(got.Payload) != `{"n":1}` {
		t.Errorf("identity fields = %+v", got)
	}
	if got.Backoff != in.Backoff {
		t.Errorf("backoff = %+v, want %+v", got.Backoff, in.Backoff)
	}
	if got.Timeout != 30*time.Second || got.MaxAttempts != 3 {
		t.Errorf("timeout/attempts = %v/%d", got.Timeout, got.MaxAttempts)
	}
	if !got.CreatedAt.Equal(storetest.Epoch) {
		t.Errorf("createdAt = %v", got.CreatedAt)
	}
	if got.Logs == nil || len(got.Logs) != 0 {
		t.Errorf("logs = %#v", got.Logs)
	}
}

func TestCustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := redis.New(client, redis.WithPrefix("app"))

	if _, err := s.Enqueue(context.Background(), testJob("q", 1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !mr.Exists("app:id") || !mr.Exists("app:q:wait") {
		t.Errorf("keys = %v", mr.Keys())
	}
}

func TestUnavailable(t *testing.T) {
	clk := storetest.NewManualClock(storetest.Epoch)
	s, mr := newStore(t, clk)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	mr.Close()

	if err := s.Ping(ctx); !errors.Is(err, bullmq.ErrStoreUnavailable) {
		t.Errorf("ping after close = %v, want ErrStoreUnavailable", err)
	}
	if _, err := s.Enqueue(ctx, testJob("q", 1)); !errors.Is(err, bullmq.ErrStoreUnavailable) {
		t.Errorf("enqueue after close = %v, want ErrStoreUnavailable", err)
	}
	if _, err := s.ClaimNext(ctx, "q", "w", time.Second); !errors.Is(err, bullmq.ErrStoreUnavailable) {
		t.Errorf("claim after close = %v, want ErrStoreUnavailable", err)
	}
}
