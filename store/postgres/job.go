package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/backoff"
	"github.com/ozandndar/reddis-bullmq/job"
)

const jobColumns = `
	id, queue, type, payload, priority, attempts_made, max_attempts,
	backoff_kind, backoff_delay_ms, backoff_max_ms, timeout_ms,
	delay_until, state, progress, logs, result, last_error, stalled_count,
	lock_owner, lock_expires_at, created_at, updated_at, started_at, finished_at`

// listOrder is the ORDER BY clause for each state, matching the order in
// which jobs leave that state.
var listOrder = map[job.State]string{
	job.StateWaiting:   "priority, id",
	job.StateDelayed:   "delay_until, id",
	job.StateActive:    "lock_expires_at, id",
	job.StateCompleted: "finished_at, id",
	job.StateFailed:    "finished_at, id",
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// Enqueue inserts the job; the id comes from the table's sequence.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) (job.ID, error) {
	if j.Queue == "" {
		return 0, fmt.Errorf("bullmq/postgres: enqueue: empty queue name")
	}

	cp := j.Clone()
	job.Prepare(cp, s.now())

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bullmq_jobs (
			queue, type, payload, priority, attempts_made, max_attempts,
			backoff_kind, backoff_delay_ms, backoff_max_ms, timeout_ms,
			delay_until, state, progress, logs, last_error, stalled_count,
			lock_owner, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19
		) RETURNING id`,
		cp.Queue, cp.Type, []byte(cp.Payload), cp.Priority, cp.AttemptsMade, cp.MaxAttempts,
		string(cp.Backoff.Kind), cp.Backoff.Delay.Milliseconds(), cp.Backoff.Max.Milliseconds(), cp.Timeout.Milliseconds(),
		cp.DelayUntil, string(cp.State), cp.Progress, cp.Logs, cp.LastError, cp.StalledCount,
		cp.LockOwner, cp.CreatedAt, cp.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, wrap("enqueue", err)
	}
	return job.ID(id), nil
}

// ClaimNext locks the most urgent eligible row with SKIP LOCKED and marks
// it active in a single statement.
func (s *Store) ClaimNext(ctx context.Context, queue, workerID string, lease time.Duration) (*job.Job, error) {
	now := s.now()
	row := s.pool.QueryRow(ctx, `
		UPDATE bullmq_jobs SET
			state = 'active',
			delay_until = NULL,
			lock_owner = $2,
			lock_expires_at = $4,
			started_at = $3,
			updated_at = $3
		WHERE id = (
			SELECT id FROM bullmq_jobs
			WHERE queue = $1
			  AND (state = 'waiting'
			       OR (state = 'delayed' AND (delay_until IS NULL OR delay_until <= $3)))
			ORDER BY priority, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		queue, workerID, now, now.Add(lease),
	)

	j, err := scanJob(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("claim", err)
	}
	return j, nil
}

// RenewLease extends the lease held by workerID.
func (s *Store) RenewLease(ctx context.Context, jobID job.ID, workerID string, lease time.Duration) error {
	_, err := s.update(ctx, "renew lease", jobID, func(j *job.Job, now time.Time) error {
		if err := job.CheckLock(j, workerID); err != nil {
			return err
		}
		job.Renew(j, lease, now)
		return nil
	})
	return err
}

// Complete marks the job completed.
func (s *Store) Complete(ctx context.Context, jobID job.ID, workerID string, result []byte) (*job.Job, error) {
	return s.update(ctx, "complete", jobID, func(j *job.Job, now time.Time) error {
		if err := job.CheckLock(j, workerID); err != nil {
			return err
		}
		job.ApplyCompletion(j, result, now)
		return nil
	})
}

// Fail records a failed attempt.
func (s *Store) Fail(ctx context.Context, jobID job.ID, workerID, cause string, terminal bool) (*job.Job, error) {
	return s.update(ctx, "fail", jobID, func(j *job.Job, now time.Time) error {
		if err := job.CheckLock(j, workerID); err != nil {
			return err
		}
		job.ApplyFailure(j, cause, terminal, now)
		return nil
	})
}

// ReclaimStalled locks every active row of the queue whose lease expired
// before now and applies the stall transition to each.
func (s *Store) ReclaimStalled(ctx context.Context, queue string, now time.Time, maxStalled int) ([]*job.Job, error) {
	var out []*job.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+jobColumns+`
			FROM bullmq_jobs
			WHERE queue = $1 AND state = 'active' AND lock_expires_at < $2
			ORDER BY id
			FOR UPDATE SKIP LOCKED`,
			queue, now,
		)
		if err != nil {
			return err
		}
		stalled, err := collectJobs(rows)
		if err != nil {
			return err
		}

		for _, j := range stalled {
			job.ApplyStall(j, maxStalled, now)
			if err := write(ctx, tx, j); err != nil {
				return err
			}
		}
		out = stalled
		return nil
	})
	if err != nil {
		return nil, wrap("reclaim", err)
	}
	return out, nil
}

// AppendLog appends a line to the job's log.
func (s *Store) AppendLog(ctx context.Context, jobID job.ID, line string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bullmq_jobs SET logs = array_append(logs, $2), updated_at = $3 WHERE id = $1`,
		int64(jobID), line, s.now(),
	)
	if err != nil {
		return wrap("append log", err)
	}
	if tag.RowsAffected() == 0 {
		return bullmq.ErrJobNotFound
	}
	return nil
}

// SetProgress stores the clamped progress value.
func (s *Store) SetProgress(ctx context.Context, jobID job.ID, value int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bullmq_jobs SET progress = $2, updated_at = $3 WHERE id = $1`,
		int64(jobID), job.ClampProgress(value), s.now(),
	)
	if err != nil {
		return wrap("set progress", err)
	}
	if tag.RowsAffected() == 0 {
		return bullmq.ErrJobNotFound
	}
	return nil
}

// update locks the row, applies fn and writes the result back in one
// transaction. Errors returned by fn are passed through unwrapped.
func (s *Store) update(ctx context.Context, op string, jobID job.ID, fn func(j *job.Job, now time.Time) error) (*job.Job, error) {
	var (
		out    *job.Job
		domain error
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		j, err := scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM bullmq_jobs WHERE id = $1 FOR UPDATE`,
			int64(jobID),
		))
		if isNoRows(err) {
			domain = bullmq.ErrJobNotFound
			return nil
		}
		if err != nil {
			return err
		}

		if err := fn(j, s.now()); err != nil {
			domain = err
			return nil
		}
		if err := write(ctx, tx, j); err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	if domain != nil {
		return nil, domain
	}
	return out, nil
}

// write persists every mutable column of j.
func write(ctx context.Context, tx pgx.Tx, j *job.Job) error {
	_, err := tx.Exec(ctx, `
		UPDATE bullmq_jobs SET
			state = $2, attempts_made = $3, delay_until = $4, progress = $5,
			result = $6, last_error = $7, stalled_count = $8, lock_owner = $9,
			lock_expires_at = $10, updated_at = $11, started_at = $12, finished_at = $13
		WHERE id = $1`,
		int64(j.ID), string(j.State), j.AttemptsMade, j.DelayUntil, j.Progress,
		[]byte(j.Result), j.LastError, j.StalledCount, j.LockOwner,
		j.LockExpiresAt, j.UpdatedAt, j.StartedAt, j.FinishedAt,
	)
	return err
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID job.ID) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM bullmq_jobs WHERE id = $1`,
		int64(jobID),
	))
	if isNoRows(err) {
		return nil, bullmq.ErrJobNotFound
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return j, nil
}

// List returns the queue's jobs in the given state.
func (s *Store) List(ctx context.Context, queue string, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	order, ok := listOrder[state]
	if !ok {
		return nil, fmt.Errorf("bullmq/postgres: list: unknown state %q", state)
	}

	var limit *int64
	if opts.Limit > 0 {
		n := int64(opts.Limit)
		limit = &n
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM bullmq_jobs
		WHERE queue = $1 AND state = $2
		ORDER BY `+order+`
		LIMIT $3 OFFSET $4`,
		queue, string(state), limit, int64(opts.Offset),
	)
	if err != nil {
		return nil, wrap("list", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, wrap("list", err)
	}
	return jobs, nil
}

// Counts returns the number of jobs per state for the queue.
func (s *Store) Counts(ctx context.Context, queue string) (map[job.State]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM bullmq_jobs WHERE queue = $1 GROUP BY state`,
		queue,
	)
	if err != nil {
		return nil, wrap("counts", err)
	}
	defer rows.Close()

	counts := make(map[job.State]int64, len(job.States))
	for _, st := range job.States {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, wrap("counts scan", err)
		}
		counts[job.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("counts", err)
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Scanning
// ──────────────────────────────────────────────────

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                         job.Job
		id                        int64
		payload, result           []byte
		kind, state               string
		delayMs, maxMs, timeoutMs int64
	)
	err := row.Scan(
		&id, &j.Queue, &j.Type, &payload, &j.Priority, &j.AttemptsMade, &j.MaxAttempts,
		&kind, &delayMs, &maxMs, &timeoutMs,
		&j.DelayUntil, &state, &j.Progress, &j.Logs, &result, &j.LastError, &j.StalledCount,
		&j.LockOwner, &j.LockExpiresAt, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	j.ID = job.ID(id)
	j.State = job.State(state)
	j.Backoff = backoff.Policy{
		Kind:  backoff.Kind(kind),
		Delay: time.Duration(delayMs) * time.Millisecond,
		Max:   time.Duration(maxMs) * time.Millisecond,
	}
	j.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if len(payload) > 0 {
		j.Payload = payload
	}
	if len(result) > 0 {
		j.Result = result
	}
	if j.Logs == nil {
		j.Logs = []string{}
	}
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("bullmq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bullmq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
