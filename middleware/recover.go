package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/alpex29/infinitic/message"
)

// PanicError is returned by Recover when a task panicked.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in task %s: %v", e.Task, e.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to a *PanicError and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, run *message.RunAttempt, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("task panicked",
					slog.String("task_name", run.Name),
					slog.String("entity_id", run.EntityID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = &PanicError{Task: run.Name, Value: r}
			}
		}()
		return next(ctx)
	}
}
