// Package worker provides the attempt execution side: a Registry of
// tasks, an Executor that runs one attempt through middleware and reports
// its outcome to the lifecycle engine, and a Pool that consumes executor
// topics with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/ext"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/middleware"
)

// Reporter sends attempt reports to the lifecycle engine. *client.Client
// implements it.
type Reporter interface {
	Started(ctx context.Context, run *message.RunAttempt, workerID id.ID) error
	Completed(ctx context.Context, run *message.RunAttempt, output entity.Data) error
	Failed(ctx context.Context, run *message.RunAttempt, attemptErr entity.AttemptError, delay *float64) error
}

// Executor runs a single attempt through middleware and the registered
// task, then reports the outcome. It never decides whether an attempt is
// retried: it only suggests a delay, the engine owns the decision.
type Executor struct {
	registry   *Registry
	reporter   Reporter
	extensions *ext.Registry
	mw         middleware.Middleware
	workerID   id.ID
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *Registry,
	reporter Reporter,
	extensions *ext.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		reporter:   reporter,
		extensions: extensions,
		mw:         middleware.Chain(mws...),
		workerID:   id.NewWorkerID(),
		logger:     logger,
	}
}

// WorkerID returns the id reported with AttemptStarted and failures.
func (e *Executor) WorkerID() id.ID { return e.workerID }

// Execute runs one attempt.
// It reports AttemptStarted, resolves the task, runs it and reports
// AttemptCompleted or AttemptFailed. A task that cannot be resolved fails
// without retry. The returned error is non-nil only when a report could
// not be sent; the delivery must then be retried.
func (e *Executor) Execute(ctx context.Context, run *message.RunAttempt) error {
	if err := e.reporter.Started(ctx, run, e.workerID); err != nil {
		return fmt.Errorf("report start of %s: %w", run.EntityID, err)
	}

	task, err := e.registry.Resolve(run.Name)
	if err != nil {
		e.logger.Error("task not resolved",
			slog.String("task_name", run.Name),
			slog.String("entity_id", run.EntityID.String()),
			slog.String("error", err.Error()),
		)
		return e.reportFailure(ctx, run, err, nil)
	}

	start := time.Now()

	// The terminal handler that calls the registered task.
	var output entity.Data
	terminal := func(ctx context.Context) error {
		out, taskErr := task.Execute(ctx, run.Input)
		output = out
		return taskErr
	}

	// Run through middleware chain.
	err = e.mw(ctx, run, terminal)
	elapsed := time.Since(start)
	e.extensions.EmitAttemptExecuted(ctx, run, elapsed, err)

	if err != nil {
		return e.reportFailure(ctx, run, err, e.retryDelay(task, run, err))
	}

	if reportErr := e.reporter.Completed(ctx, run, output); reportErr != nil {
		return fmt.Errorf("report completion of %s: %w", run.EntityID, reportErr)
	}
	return nil
}

// retryDelay asks the task, then the retry policy, for the delay before
// retry Attempt.Retry+1.
func (e *Executor) retryDelay(task Task, run *message.RunAttempt, err error) *float64 {
	if IsPermanent(err) {
		return nil
	}
	if d, ok := task.(RetryDelayer); ok {
		return d.RetryDelay(run, err)
	}
	return run.Options.Retry.Delay(run.Attempt.Retry + 1)
}

func (e *Executor) reportFailure(ctx context.Context, run *message.RunAttempt, cause error, delay *float64) error {
	attemptErr := entity.AttemptError{
		Name:       errorName(cause),
		Message:    cause.Error(),
		WorkerID:   e.workerID,
		OccurredAt: time.Now().UTC(),
	}
	if err := e.reporter.Failed(ctx, run, attemptErr, delay); err != nil {
		return fmt.Errorf("report failure of %s: %w", run.EntityID, err)
	}

	attrs := []any{
		slog.String("task_name", run.Name),
		slog.String("entity_id", run.EntityID.String()),
		slog.String("attempt_id", run.Attempt.ID.String()),
		slog.Uint64("attempt_retry", run.Attempt.Retry),
		slog.String("error", cause.Error()),
	}
	if delay != nil {
		e.logger.Info("attempt failed, retry suggested", append(attrs, slog.Float64("delay_seconds", *delay))...)
	} else {
		e.logger.Warn("attempt failed without retry", attrs...)
	}
	return nil
}

// errorName names the kind of failure for operators.
func errorName(err error) string {
	var (
		ae *entity.AttemptError
		pe *middleware.PanicError
	)
	switch {
	case errors.As(err, &ae) && ae.Name != "":
		return ae.Name
	case errors.As(err, &pe):
		return "Panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, infinitic.ErrTaskNotRegistered):
		return "TaskNotRegistered"
	case errors.Is(err, infinitic.ErrMultipleDividers):
		return "InvalidTaskName"
	}
	for {
		p, ok := err.(*permanentError)
		if !ok {
			break
		}
		err = p.err
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
