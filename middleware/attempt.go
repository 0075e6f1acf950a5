package middleware

import (
	"context"

	"github.com/alpex29/infinitic/message"
)

type attemptKey struct{}

// Attempt returns middleware that stores the executed attempt in the
// context, so that tasks can read their entity id, retry count and
// metadata with AttemptFrom.
func Attempt() Middleware {
	return func(ctx context.Context, run *message.RunAttempt, next Handler) error {
		return next(context.WithValue(ctx, attemptKey{}, run))
	}
}

// AttemptFrom returns the attempt stored by the Attempt middleware.
func AttemptFrom(ctx context.Context) (*message.RunAttempt, bool) {
	run, ok := ctx.Value(attemptKey{}).(*message.RunAttempt)
	return run, ok
}
