package middleware

import (
	"context"
	"log/slog"

	"github.com/alpex29/infinitic/message"
)

// Timeout returns middleware that enforces the attempt's execution
// deadline. If the attempt has a non-zero Options.Timeout, a
// context.WithTimeout wraps the handler call. When the deadline is exceeded
// the context is cancelled and the task should return
// context.DeadlineExceeded. The engine schedules its own timeout
// independently; this one only frees the worker.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, run *message.RunAttempt, next Handler) error {
		if t := run.Options.Timeout; t > 0 {
			logger.Debug("attempt timeout set",
				slog.String("entity_id", run.EntityID.String()),
				slog.Duration("timeout", t),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
		return next(ctx)
	}
}
