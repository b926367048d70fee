package audithook

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

// NewSlogRecorder returns a Recorder that writes each audit event as one
// log record. Critical events are logged at error level, warnings at warn
// level and the rest at info.
func NewSlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for _, k := range slices.Sorted(maps.Keys(evt.Metadata)) {
			if k == "error" {
				continue
			}
			attrs = append(attrs, slog.Any(k, evt.Metadata[k]))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}
