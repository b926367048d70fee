package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/job"
)

// Timeout returns middleware that reports a handler which failed because
// its execution deadline passed as bullmq.ErrTimeout. The worker sets the
// deadline; a handler that returns context.DeadlineExceeded, or any error
// once the deadline has passed, is a timeout.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		res, err := next(ctx)
		if err == nil || errors.Is(err, bullmq.ErrTimeout) {
			return res, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Debug("job deadline exceeded",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %w", bullmq.ErrTimeout, err)
		}
		return res, err
	}
}
