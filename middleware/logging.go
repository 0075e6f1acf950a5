package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpex29/infinitic/message"
)

// Logging logs each attempt when it starts and when it ends. Failures are
// logged at warn level with the error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, run *message.RunAttempt, next Handler) error {
		l := logger.With(
			slog.String("task_name", run.Name),
			slog.String("entity_id", run.EntityID.String()),
			slog.String("attempt_id", run.Attempt.ID.String()),
		)
		l.LogAttrs(ctx, slog.LevelInfo, "attempt started", slog.Uint64("attempt_retry", run.Attempt.Retry))

		start := time.Now()
		err := next(ctx)
		elapsed := slog.Duration("elapsed", time.Since(start))

		if err != nil {
			l.LogAttrs(ctx, slog.LevelWarn, "attempt failed", elapsed, slog.String("error", err.Error()))
		} else {
			l.LogAttrs(ctx, slog.LevelInfo, "attempt completed", elapsed)
		}
		return err
	}
}
