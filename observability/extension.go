package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ozandndar/reddis-bullmq/ext"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobWaiting   = (*MetricsExtension)(nil)
	_ ext.JobActive    = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobStalled   = (*MetricsExtension)(nil)
)

const meterName = "github.com/ozandndar/reddis-bullmq/observability"

// MetricsExtension records system-wide lifecycle counters through an
// OpenTelemetry meter. Every data point carries queue and job_type
// attributes.
type MetricsExtension struct {
	JobWaiting   metric.Int64Counter
	JobActive    metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobStalled   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global meter
// provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, //nolint:errcheck // noop fallback
			metric.WithDescription(desc),
			metric.WithUnit("{job}"),
		)
		return c
	}
	return &MetricsExtension{
		JobWaiting:   counter("bullmq.job.waiting", "Jobs accepted into a queue"),
		JobActive:    counter("bullmq.job.active", "Jobs claimed by a worker"),
		JobCompleted: counter("bullmq.job.completed", "Jobs completed successfully"),
		JobRetried:   counter("bullmq.job.retried", "Failed attempts scheduled for retry"),
		JobFailed:    counter("bullmq.job.failed", "Jobs failed permanently"),
		JobStalled:   counter("bullmq.job.stalled", "Jobs reclaimed after their lease expired"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func attrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("queue", j.Queue),
		attribute.String("job_type", j.Type),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobWaiting implements ext.JobWaiting.
func (m *MetricsExtension) OnJobWaiting(ctx context.Context, j *job.Job) error {
	m.JobWaiting.Add(ctx, 1, attrs(j))
	return nil
}

// OnJobActive implements ext.JobActive.
func (m *MetricsExtension) OnJobActive(ctx context.Context, j *job.Job) error {
	m.JobActive.Add(ctx, 1, attrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, attrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ error, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, attrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, attrs(j))
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.JobStalled.Add(ctx, 1, attrs(j))
	return nil
}
