package middleware

import (
	"context"

	"github.com/alpex29/infinitic/message"
)

// Handler runs the task itself.
type Handler func(ctx context.Context) error

// Middleware wraps one attempt. It must call next unless it deliberately
// short-circuits the attempt, and it must return the error that decides the
// attempt's outcome.
type Middleware func(ctx context.Context, run *message.RunAttempt, next Handler) error

// Chain composes mws so that mws[0] is the outermost wrapper:
//
//	Chain(logging, recover)  runs  logging → recover → handler
func Chain(mws ...Middleware) Middleware {
	switch len(mws) {
	case 0:
		return func(ctx context.Context, _ *message.RunAttempt, next Handler) error { return next(ctx) }
	case 1:
		return mws[0]
	}
	head, rest := mws[0], Chain(mws[1:]...)
	return func(ctx context.Context, run *message.RunAttempt, next Handler) error {
		return head(ctx, run, func(ctx context.Context) error {
			return rest(ctx, run, next)
		})
	}
}
