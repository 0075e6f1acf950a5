package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/message"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type entityDispatchedEntry struct {
	name string
	hook EntityDispatched
}

type attemptDispatchedEntry struct {
	name string
	hook AttemptDispatched
}

type retryScheduledEntry struct {
	name string
	hook RetryScheduled
}

type statusChangedEntry struct {
	name string
	hook StatusChanged
}

type entityCompletedEntry struct {
	name string
	hook EntityCompleted
}

type entityCanceledEntry struct {
	name string
	hook EntityCanceled
}

type childNotifiedEntry struct {
	name string
	hook ChildNotified
}

type messageDiscardedEntry struct {
	name string
	hook MessageDiscarded
}

type writeConflictEntry struct {
	name string
	hook WriteConflict
}

type attemptExecutedEntry struct {
	name string
	hook AttemptExecuted
}

type deadLetteredEntry struct {
	name string
	hook DeadLettered
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the engines start; emit methods may then
// be called concurrently.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	entityDispatched  []entityDispatchedEntry
	attemptDispatched []attemptDispatchedEntry
	retryScheduled    []retryScheduledEntry
	statusChanged     []statusChangedEntry
	entityCompleted   []entityCompletedEntry
	entityCanceled    []entityCanceledEntry
	childNotified     []childNotifiedEntry
	messageDiscarded  []messageDiscardedEntry
	writeConflict     []writeConflictEntry
	attemptExecuted   []attemptExecutedEntry
	deadLettered      []deadLetteredEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(EntityDispatched); ok {
		r.entityDispatched = append(r.entityDispatched, entityDispatchedEntry{name, h})
	}
	if h, ok := e.(AttemptDispatched); ok {
		r.attemptDispatched = append(r.attemptDispatched, attemptDispatchedEntry{name, h})
	}
	if h, ok := e.(RetryScheduled); ok {
		r.retryScheduled = append(r.retryScheduled, retryScheduledEntry{name, h})
	}
	if h, ok := e.(StatusChanged); ok {
		r.statusChanged = append(r.statusChanged, statusChangedEntry{name, h})
	}
	if h, ok := e.(EntityCompleted); ok {
		r.entityCompleted = append(r.entityCompleted, entityCompletedEntry{name, h})
	}
	if h, ok := e.(EntityCanceled); ok {
		r.entityCanceled = append(r.entityCanceled, entityCanceledEntry{name, h})
	}
	if h, ok := e.(ChildNotified); ok {
		r.childNotified = append(r.childNotified, childNotifiedEntry{name, h})
	}
	if h, ok := e.(MessageDiscarded); ok {
		r.messageDiscarded = append(r.messageDiscarded, messageDiscardedEntry{name, h})
	}
	if h, ok := e.(WriteConflict); ok {
		r.writeConflict = append(r.writeConflict, writeConflictEntry{name, h})
	}
	if h, ok := e.(AttemptExecuted); ok {
		r.attemptExecuted = append(r.attemptExecuted, attemptExecutedEntry{name, h})
	}
	if h, ok := e.(DeadLettered); ok {
		r.deadLettered = append(r.deadLettered, deadLetteredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Engine event emitters
// ──────────────────────────────────────────────────

// EmitEntityDispatched notifies all extensions that implement EntityDispatched.
func (r *Registry) EmitEntityDispatched(ctx context.Context, s *entity.State) {
	for _, e := range r.entityDispatched {
		if err := e.hook.OnEntityDispatched(ctx, s); err != nil {
			r.logHookError("OnEntityDispatched", e.name, err)
		}
	}
}

// EmitAttemptDispatched notifies all extensions that implement AttemptDispatched.
func (r *Registry) EmitAttemptDispatched(ctx context.Context, s *entity.State) {
	for _, e := range r.attemptDispatched {
		if err := e.hook.OnAttemptDispatched(ctx, s); err != nil {
			r.logHookError("OnAttemptDispatched", e.name, err)
		}
	}
}

// EmitRetryScheduled notifies all extensions that implement RetryScheduled.
func (r *Registry) EmitRetryScheduled(ctx context.Context, s *entity.State, after time.Duration) {
	for _, e := range r.retryScheduled {
		if err := e.hook.OnRetryScheduled(ctx, s, after); err != nil {
			r.logHookError("OnRetryScheduled", e.name, err)
		}
	}
}

// EmitStatusChanged notifies all extensions that implement StatusChanged.
func (r *Registry) EmitStatusChanged(ctx context.Context, s *entity.State, from, to entity.Status) {
	for _, e := range r.statusChanged {
		if err := e.hook.OnStatusChanged(ctx, s, from, to); err != nil {
			r.logHookError("OnStatusChanged", e.name, err)
		}
	}
}

// EmitEntityCompleted notifies all extensions that implement EntityCompleted.
func (r *Registry) EmitEntityCompleted(ctx context.Context, s *entity.State, elapsed time.Duration) {
	for _, e := range r.entityCompleted {
		if err := e.hook.OnEntityCompleted(ctx, s, elapsed); err != nil {
			r.logHookError("OnEntityCompleted", e.name, err)
		}
	}
}

// EmitEntityCanceled notifies all extensions that implement EntityCanceled.
func (r *Registry) EmitEntityCanceled(ctx context.Context, s *entity.State) {
	for _, e := range r.entityCanceled {
		if err := e.hook.OnEntityCanceled(ctx, s); err != nil {
			r.logHookError("OnEntityCanceled", e.name, err)
		}
	}
}

// EmitChildNotified notifies all extensions that implement ChildNotified.
func (r *Registry) EmitChildNotified(ctx context.Context, parent *entity.State, m message.Message) {
	for _, e := range r.childNotified {
		if err := e.hook.OnChildNotified(ctx, parent, m); err != nil {
			r.logHookError("OnChildNotified", e.name, err)
		}
	}
}

// EmitMessageDiscarded notifies all extensions that implement MessageDiscarded.
func (r *Registry) EmitMessageDiscarded(ctx context.Context, env *message.Envelope, reason string) {
	for _, e := range r.messageDiscarded {
		if err := e.hook.OnMessageDiscarded(ctx, env, reason); err != nil {
			r.logHookError("OnMessageDiscarded", e.name, err)
		}
	}
}

// EmitWriteConflict notifies all extensions that implement WriteConflict.
func (r *Registry) EmitWriteConflict(ctx context.Context, env *message.Envelope) {
	for _, e := range r.writeConflict {
		if err := e.hook.OnWriteConflict(ctx, env); err != nil {
			r.logHookError("OnWriteConflict", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Worker event emitters
// ──────────────────────────────────────────────────

// EmitAttemptExecuted notifies all extensions that implement AttemptExecuted.
func (r *Registry) EmitAttemptExecuted(ctx context.Context, run *message.RunAttempt, elapsed time.Duration, runErr error) {
	for _, e := range r.attemptExecuted {
		if err := e.hook.OnAttemptExecuted(ctx, run, elapsed, runErr); err != nil {
			r.logHookError("OnAttemptExecuted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitDeadLettered notifies all extensions that implement DeadLettered.
func (r *Registry) EmitDeadLettered(ctx context.Context, entry *dlq.Entry) {
	for _, e := range r.deadLettered {
		if err := e.hook.OnDeadLettered(ctx, entry); err != nil {
			r.logHookError("OnDeadLettered", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the engines.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
