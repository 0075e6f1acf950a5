// Package ext defines the extension system for infinitic.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, writing audit logs, forwarding to other systems.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnEntityCompleted(ctx context.Context, s *entity.State, elapsed time.Duration) error {
//	    log.Printf("%s %s completed in %s", s.Kind, s.ID, elapsed)
//	    return nil
//	}
//
// # Engine Hooks
//
//   - [EntityDispatched]: a new entity state was created
//   - [AttemptDispatched]: an attempt was sent to workers
//   - [RetryScheduled]: a failed attempt will be retried after a delay
//   - [StatusChanged]: the entity moved to another status
//   - [EntityCompleted]: the entity terminated with an output
//   - [EntityCanceled]: the entity was canceled
//   - [ChildNotified]: a parent received the termination of a child
//   - [MessageDiscarded]: a stale, duplicate or late message was dropped
//   - [WriteConflict]: a concurrent consumer won the conditional write
//
// # Other Hooks
//
//   - [AttemptExecuted]: a worker finished running an attempt
//   - [DeadLettered]: a delivery was moved to the dead letter queue
//   - [Shutdown]: the node is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
