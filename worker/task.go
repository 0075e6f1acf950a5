package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/message"
)

// Task is the code run by a worker for one attempt.
type Task interface {
	Execute(ctx context.Context, input entity.Data) (entity.Data, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, input entity.Data) (entity.Data, error)

// Execute calls f.
func (f TaskFunc) Execute(ctx context.Context, input entity.Data) (entity.Data, error) {
	return f(ctx, input)
}

// Func adapts a typed function to Task. The input is JSON-decoded into In
// and the result JSON-encoded.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Func[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Task {
	return TaskFunc(func(ctx context.Context, input entity.Data) (entity.Data, error) {
		var in In
		if err := input.Decode(&in); err != nil {
			return entity.Data{}, Permanent(fmt.Errorf("decode input: %w", err))
		}
		out, err := fn(ctx, in)
		if err != nil {
			return entity.Data{}, err
		}
		return entity.JSON(out)
	})
}

// RetryDelayer is implemented by tasks that compute their own retry delay.
// The returned delay is in seconds; nil asks for no retry, zero or
// negative for an immediate retry.
type RetryDelayer interface {
	RetryDelay(run *message.RunAttempt, err error) *float64
}

// permanentError marks a failure that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that the attempt fails without retry, whatever
// the retry policy says.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
