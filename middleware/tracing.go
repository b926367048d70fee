package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ozandndar/reddis-bullmq/job"
)

// tracerName is the instrumentation scope name for job tracing.
const tracerName = "github.com/ozandndar/reddis-bullmq"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used.
//
// Span attributes: bullmq.job.id, bullmq.job.type, bullmq.queue,
// bullmq.attempt, bullmq.priority. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		ctx, span := tracer.Start(ctx, "bullmq.job.execute",
			trace.WithAttributes(
				attribute.Int64("bullmq.job.id", int64(j.ID)),
				attribute.String("bullmq.job.type", j.Type),
				attribute.String("bullmq.queue", j.Queue),
				attribute.Int("bullmq.attempt", j.AttemptsMade+1),
				attribute.Int("bullmq.priority", j.Priority),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return res, err
	}
}
