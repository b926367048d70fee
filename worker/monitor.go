package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/ext"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Monitor periodically reclaims a queue's active jobs whose lease expired.
// A reclaimed job returns to waiting, or fails with
// bullmq.ErrMaxStalledExceeded once it has stalled too often or has no
// attempts left.
type Monitor struct {
	queue      string
	store      job.Store
	extensions *ext.Registry
	interval   time.Duration
	maxStalled int
	clock      bullmq.Clock
	logger     *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewMonitor creates a stalled-job monitor for queue. Interval and max
// stalled count are taken from cfg.
func NewMonitor(
	queue string,
	store job.Store,
	extensions *ext.Registry,
	cfg bullmq.Config,
	clock bullmq.Clock,
	logger *slog.Logger,
) *Monitor {
	if clock == nil {
		clock = bullmq.SystemClock()
	}
	return &Monitor{
		queue:      queue,
		store:      store,
		extensions: extensions,
		interval:   cfg.StalledInterval,
		maxStalled: cfg.MaxStalledCount,
		clock:      clock,
		logger:     logger,
	}
}

// Start sweeps once immediately and then every interval until Stop.
func (m *Monitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.loop(m.stopCh)
	return nil
}

// Stop ends the sweep loop and waits for an in-progress sweep.
func (m *Monitor) Stop(_ context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *Monitor) loop(stop <-chan struct{}) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("stalled job sweep failed",
				slog.String("queue", m.queue),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Sweep reclaims the queue's stalled jobs once and emits JobStalled for
// each, plus JobFailed for those moved to failed.
func (m *Monitor) Sweep(ctx context.Context) ([]*job.Job, error) {
	reclaimed, err := m.store.ReclaimStalled(ctx, m.queue, m.clock.Now(), m.maxStalled)
	if err != nil {
		return nil, err
	}

	for _, j := range reclaimed {
		m.extensions.EmitJobStalled(ctx, j)

		if j.State == job.StateFailed {
			m.extensions.EmitJobFailed(ctx, j, bullmq.ErrMaxStalledExceeded)
			m.logger.Warn("stalled job failed permanently",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("queue", j.Queue),
				slog.Int("stalled_count", j.StalledCount),
				slog.Int("attempts_made", j.AttemptsMade),
			)
			continue
		}

		m.logger.Info("reclaimed stalled job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("queue", j.Queue),
			slog.Int("stalled_count", j.StalledCount),
		)
	}
	return reclaimed, nil
}
