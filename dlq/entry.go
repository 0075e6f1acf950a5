package dlq

import (
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/id"
)

// Entry is a delivery that could not be processed, kept for inspection
// or replay.
type Entry struct {
	infinitic.Entity

	ID          id.DLQID   `json:"id"`
	Topic       string     `json:"topic"`
	Key         string     `json:"key"`
	Body        []byte     `json:"body"`
	MessageKind string     `json:"message_kind,omitempty"`
	EntityID    id.ID      `json:"entity_id,omitempty"`
	Error       string     `json:"error"`
	Attempts    int        `json:"attempts"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
}
