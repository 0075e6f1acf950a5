// Package middleware provides composable middleware for attempt execution.
//
// A [Middleware] is a function that wraps a task call. Middleware are
// composed into a chain using [Chain] and applied before each attempt
// executes. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs task name, attempt, duration and outcome
//   - [Recover] catches panics and converts them to a [PanicError]
//   - [Timeout] cancels the task context after Options.Timeout
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-task duration and outcome counters
//   - [Attempt] makes the running attempt available through [AttemptFrom]
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, run *message.RunAttempt, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
