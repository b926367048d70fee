package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/backoff"
	"github.com/ozandndar/reddis-bullmq/job"
)

// score returns the Sorted Set score of j within its state set.
func score(j *job.Job) float64 {
	switch j.State {
	case job.StateWaiting:
		return float64(j.Priority)
	case job.StateDelayed:
		return float64(optMillis(j.DelayUntil))
	case job.StateActive:
		return float64(optMillis(j.LockExpiresAt))
	default:
		return float64(optMillis(j.FinishedAt))
	}
}

// index moves j between the state sets of its queue. prev is the state j
// was loaded in, or empty for a new job.
func (s *Store) index(ctx context.Context, pipe goredis.Pipeliner, j *job.Job, prev job.State) {
	m := member(j.ID)
	if prev != "" && prev != j.State {
		pipe.ZRem(ctx, s.keys.state(j.Queue, prev), m)
	}
	pipe.ZAdd(ctx, s.keys.state(j.Queue, j.State), goredis.Z{Score: score(j), Member: m})
}

func jobToMap(j *job.Job) map[string]any {
	return map[string]any{
		"id":              j.ID.String(),
		"queue":           j.Queue,
		"type":            j.Type,
		"payload":         string(j.Payload),
		"priority":        strconv.Itoa(j.Priority),
		"attempts_made":   strconv.Itoa(j.AttemptsMade),
		"max_attempts":    strconv.Itoa(j.MaxAttempts),
		"backoff_kind":    string(j.Backoff.Kind),
		"backoff_delay":   strconv.FormatInt(j.Backoff.Delay.Milliseconds(), 10),
		"backoff_max":     strconv.FormatInt(j.Backoff.Max.Milliseconds(), 10),
		"timeout":         strconv.FormatInt(j.Timeout.Milliseconds(), 10),
		"delay_until":     formatOpt(j.DelayUntil),
		"state":           string(j.State),
		"progress":        strconv.Itoa(j.Progress),
		"result":          string(j.Result),
		"last_error":      j.LastError,
		"stalled_count":   strconv.Itoa(j.StalledCount),
		"lock_owner":      j.LockOwner,
		"lock_expires_at": formatOpt(j.LockExpiresAt),
		"created_at":      strconv.FormatInt(j.CreatedAt.UnixMilli(), 10),
		"updated_at":      strconv.FormatInt(j.UpdatedAt.UnixMilli(), 10),
		"started_at":      formatOpt(j.StartedAt),
		"finished_at":     formatOpt(j.FinishedAt),
	}
}

func mapToJob(m map[string]string, logs []string) (*job.Job, error) {
	jid, err := job.ParseID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: decode job: %w", err)
	}
	state, err := job.ParseState(m["state"])
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: decode job %s: %w", jid, err)
	}

	j := &job.Job{
		ID:           jid,
		Queue:        m["queue"],
		Type:         m["type"],
		Priority:     atoi(m["priority"]),
		AttemptsMade: atoi(m["attempts_made"]),
		MaxAttempts:  atoi(m["max_attempts"]),
		Backoff: backoff.Policy{
			Kind:  backoff.Kind(m["backoff_kind"]),
			Delay: millis(m["backoff_delay"]),
			Max:   millis(m["backoff_max"]),
		},
		Timeout:       millis(m["timeout"]),
		DelayUntil:    parseOpt(m["delay_until"]),
		State:         state,
		Progress:      atoi(m["progress"]),
		Logs:          logs,
		LastError:     m["last_error"],
		StalledCount:  atoi(m["stalled_count"]),
		LockOwner:     m["lock_owner"],
		LockExpiresAt: parseOpt(m["lock_expires_at"]),
		CreatedAt:     parseTime(m["created_at"]),
		UpdatedAt:     parseTime(m["updated_at"]),
		StartedAt:     parseOpt(m["started_at"]),
		FinishedAt:    parseOpt(m["finished_at"]),
	}
	if v := m["payload"]; v != "" {
		j.Payload = []byte(v)
	}
	if v := m["result"]; v != "" {
		j.Result = []byte(v)
	}
	if j.Logs == nil {
		j.Logs = []string{}
	}
	return j, nil
}

// reader is satisfied by both the client and a WATCH transaction.
type reader interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	LRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd
}

// load reads a job and its logs.
func (s *Store) load(ctx context.Context, c reader, jobID job.ID) (*job.Job, error) {
	fields, err := c.HGetAll(ctx, s.keys.job(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, bullmq.ErrJobNotFound
	}
	logs, err := c.LRange(ctx, s.keys.logs(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return mapToJob(fields, logs)
}

// Values come from our own writes, so malformed numbers decode as zero.

func atoi(s string) int {
	n, _ := strconv.Atoi(s) //nolint:errcheck // trusted data
	return n
}

func millis(s string) time.Duration {
	n, _ := strconv.ParseInt(s, 10, 64) //nolint:errcheck // trusted data
	return time.Duration(n) * time.Millisecond
}

func parseTime(s string) time.Time {
	n, _ := strconv.ParseInt(s, 10, 64) //nolint:errcheck // trusted data
	return time.UnixMilli(n).UTC()
}

func parseOpt(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func formatOpt(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func optMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
