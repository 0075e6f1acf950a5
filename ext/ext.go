// Package ext defines the extension system for infinitic.
// Extensions are notified of lifecycle events (entity dispatched, attempt
// retried, entity completed, etc.) and can react to them: logging,
// metrics, tracing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/message"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Engine hooks
// ──────────────────────────────────────────────────

// EntityDispatched is called after a new entity state was created.
type EntityDispatched interface {
	OnEntityDispatched(ctx context.Context, s *entity.State) error
}

// AttemptDispatched is called after an attempt was sent to workers.
type AttemptDispatched interface {
	OnAttemptDispatched(ctx context.Context, s *entity.State) error
}

// RetryScheduled is called when a failed attempt will be retried after a
// delay.
type RetryScheduled interface {
	OnRetryScheduled(ctx context.Context, s *entity.State, after time.Duration) error
}

// StatusChanged is called when an entity moved to a new status, including
// creation and termination.
type StatusChanged interface {
	OnStatusChanged(ctx context.Context, s *entity.State, from, to entity.Status) error
}

// EntityCompleted is called when an entity terminated with an output.
// elapsed is measured from the creation of its state.
type EntityCompleted interface {
	OnEntityCompleted(ctx context.Context, s *entity.State, elapsed time.Duration) error
}

// EntityCanceled is called when an entity was canceled.
type EntityCanceled interface {
	OnEntityCanceled(ctx context.Context, s *entity.State) error
}

// ChildNotified is called when a parent entity received the termination
// of one of its children.
type ChildNotified interface {
	OnChildNotified(ctx context.Context, parent *entity.State, m message.Message) error
}

// MessageDiscarded is called when an engine dropped a message without
// acting on it.
type MessageDiscarded interface {
	OnMessageDiscarded(ctx context.Context, env *message.Envelope, reason string) error
}

// WriteConflict is called when a transition lost the conditional write to
// a concurrent consumer of the same entity.
type WriteConflict interface {
	OnWriteConflict(ctx context.Context, env *message.Envelope) error
}

// ──────────────────────────────────────────────────
// Worker hooks
// ──────────────────────────────────────────────────

// AttemptExecuted is called after a worker ran an attempt. err is nil on
// success.
type AttemptExecuted interface {
	OnAttemptExecuted(ctx context.Context, run *message.RunAttempt, elapsed time.Duration, err error) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// DeadLettered is called when a delivery was moved to the dead letter
// queue.
type DeadLettered interface {
	OnDeadLettered(ctx context.Context, e *dlq.Entry) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
