package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// maxTxRetries bounds optimistic transaction retries when a watched job
// changes underneath us.
const maxTxRetries = 16

var errSkip = errors.New("skip")

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source. Times are stored with millisecond
// precision.
func WithClock(c bullmq.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithPrefix overrides the key prefix (default "bull").
func WithPrefix(p string) Option {
	return func(s *Store) { s.keys.prefix = p }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	keys   keys
	clock  bullmq.Clock
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   keys{prefix: defaultPrefix},
		clock:  bullmq.SystemClock(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// Close is a no-op; the caller owns the client.
func (s *Store) Close() error { return nil }

func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// Enqueue assigns the next id from the global counter and stores the job.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) (job.ID, error) {
	if j.Queue == "" {
		return 0, fmt.Errorf("bullmq/redis: enqueue: empty queue name")
	}

	n, err := s.client.Incr(ctx, s.keys.seq()).Result()
	if err != nil {
		return 0, wrap("enqueue id", err)
	}

	cp := j.Clone()
	cp.ID = job.ID(n)
	job.Prepare(cp, s.now())

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.keys.job(cp.ID), jobToMap(cp))
		if len(cp.Logs) > 0 {
			lines := make([]any, len(cp.Logs))
			for i, l := range cp.Logs {
				lines[i] = l
			}
			pipe.RPush(ctx, s.keys.logs(cp.ID), lines...)
		}
		s.index(ctx, pipe, cp, "")
		return nil
	})
	if err != nil {
		return 0, wrap("enqueue", err)
	}
	return cp.ID, nil
}

// ClaimNext runs the claim script against the queue's state sets.
func (s *Store) ClaimNext(ctx context.Context, queue, workerID string, lease time.Duration) (*job.Job, error) {
	now := s.now()
	keys := []string{
		s.keys.state(queue, job.StateWaiting),
		s.keys.state(queue, job.StateDelayed),
		s.keys.state(queue, job.StateActive),
	}

	res, err := claimScript.Run(ctx, s.client, keys,
		now.UnixMilli(), now.Add(lease).UnixMilli(), workerID, s.keys.jobPrefix(),
	).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("claim", err)
	}

	n, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: claim: bad member %q", res)
	}
	j, err := s.load(ctx, s.client, job.ID(n))
	if err != nil {
		return nil, wrap("claim load", err)
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

// ReclaimStalled returns active jobs of the queue whose lease expired
// before now to waiting, or fails them once they stalled too often.
func (s *Store) ReclaimStalled(ctx context.Context, queue string, now time.Time, maxStalled int) ([]*job.Job, error) {
	members, err := s.client.ZRangeByScore(ctx, s.keys.state(queue, job.StateActive), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, wrap("reclaim scan", err)
	}

	var out []*job.Job
	for _, m := range members {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		j, err := s.update(ctx, "reclaim", job.ID(n), func(j *job.Job, _ time.Time) error {
			if !job.Stalled(j, now) {
				return errSkip
			}
			job.ApplyStall(j, maxStalled, now)
			return nil
		})
		switch {
		case errors.Is(err, errSkip), errors.Is(err, bullmq.ErrJobNotFound):
			continue
		case err != nil:
			return out, err
		}
		out = append(out, j)
	}
	return out, nil
}

// AppendLog appends a line to the job's log.
func (s *Store) AppendLog(ctx context.Context, jobID job.ID, line string) error {
	ok, err := logScript.Run(ctx, s.client,
		[]string{s.keys.job(jobID), s.keys.logs(jobID)}, line,
	).Int()
	if err != nil {
		return wrap("append log", err)
	}
	if ok == 0 {
		return bullmq.ErrJobNotFound
	}
	return nil
}

// SetProgress stores the clamped progress value.
func (s *Store) SetProgress(ctx context.Context, jobID job.ID, value int) error {
	ok, err := progressScript.Run(ctx, s.client,
		[]string{s.keys.job(jobID)}, job.ClampProgress(value), s.now().UnixMilli(),
	).Int()
	if err != nil {
		return wrap("set progress", err)
	}
	if ok == 0 {
		return bullmq.ErrJobNotFound
	}
	return nil
}

// update applies fn to the stored job inside an optimistic transaction,
// retrying when the job changes concurrently. Errors returned by fn are
// passed through unwrapped.
func (s *Store) update(ctx context.Context, op string, jobID job.ID, fn func(j *job.Job, now time.Time) error) (*job.Job, error) {
	key := s.keys.job(jobID)

	var (
		out    *job.Job
		domain error
	)
	txf := func(tx *goredis.Tx) error {
		j, err := s.load(ctx, tx, jobID)
		if errors.Is(err, bullmq.ErrJobNotFound) {
			domain = err
			return nil
		}
		if err != nil {
			return err
		}

		prev := j.State
		if err := fn(j, s.now()); err != nil {
			domain = err
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, jobToMap(j))
			s.index(ctx, pipe, j, prev)
			return nil
		})
		out = j
		return err
	}

	for range maxTxRetries {
		domain, out = nil, nil
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, wrap(op, err)
		}
		if domain != nil {
			return nil, domain
		}
		return out, nil
	}

	s.logger.Warn("redis transaction contention",
		slog.String("op", op),
		slog.String("job_id", jobID.String()),
	)
	return nil, fmt.Errorf("bullmq/redis: %s: %w", op, goredis.TxFailedErr)
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID job.ID) (*job.Job, error) {
	j, err := s.load(ctx, s.client, jobID)
	if errors.Is(err, bullmq.ErrJobNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return j, nil
}

// List returns the queue's jobs in the given state, ordered by the state
// set's score.
func (s *Store) List(ctx context.Context, queue string, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = int64(opts.Offset + opts.Limit - 1)
	}
	members, err := s.client.ZRange(ctx, s.keys.state(queue, state), int64(opts.Offset), stop).Result()
	if err != nil {
		return nil, wrap("list", err)
	}

	out := make([]*job.Job, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		j, err := s.load(ctx, s.client, job.ID(n))
		if errors.Is(err, bullmq.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, wrap("list load", err)
		}
		out = append(out, j)
	}
	return out, nil
}

// Counts returns the cardinality of each state set of the queue.
func (s *Store) Counts(ctx context.Context, queue string) (map[job.State]int64, error) {
	pipe := s.client.Pipeline()
	cmds := make(map[job.State]*goredis.IntCmd, len(job.States))
	for _, st := range job.States {
		cmds[st] = pipe.ZCard(ctx, s.keys.state(queue, st))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("counts", err)
	}

	counts := make(map[job.State]int64, len(cmds))
	for st, cmd := range cmds {
		counts[st] = cmd.Val()
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Errors
// ──────────────────────────────────────────────────

func wrap(op string, err error) error {
	if unavailable(err) {
		return fmt.Errorf("bullmq/redis: %s: %w: %w", op, bullmq.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("bullmq/redis: %s: %w", op, err)
}

// unavailable reports whether err means the server could not be reached.
func unavailable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, goredis.ErrClosed)
}
