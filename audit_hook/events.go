package audithook

// Action constants for audit events.
const (
	ActionEntityDispatched = "infinitic.entity.dispatched"
	ActionRetryScheduled   = "infinitic.attempt.retry_scheduled"
	ActionStatusChanged    = "infinitic.entity.status_changed"
	ActionEntityCompleted  = "infinitic.entity.completed"
	ActionEntityCanceled   = "infinitic.entity.canceled"
	ActionMessageDiscarded = "infinitic.message.discarded"
	ActionWriteConflict    = "infinitic.state.write_conflict"
	ActionDeadLettered     = "infinitic.dlq.added"
)

// Resource types.
const (
	ResourceEntity  = "entity"
	ResourceMessage = "message"
	ResourceDLQ     = "dlq_entry"
)

// Categories.
const (
	CategoryLifecycle = "lifecycle"
	CategoryDelivery  = "delivery"
)
