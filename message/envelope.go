package message

import (
	"fmt"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/id"
)

// Envelope carries one message on a transport. ID is unique per send and
// lets an engine recognise an exact redelivery of a message it already
// applied.
type Envelope struct {
	ID       id.ID     `json:"id"`
	Kind     Kind      `json:"kind"`
	EntityID id.ID     `json:"entity_id"`
	SentAt   time.Time `json:"sent_at"`
	Message  Message   `json:"-"`
}

// Wrap puts m in a new envelope with a fresh message id.
func Wrap(m Message) *Envelope {
	return &Envelope{
		ID:       id.NewMessageID(),
		Kind:     m.Kind(),
		EntityID: m.Entity(),
		SentAt:   time.Now().UTC(),
		Message:  m,
	}
}

// Validate checks that the header agrees with the message it carries.
func (e *Envelope) Validate() error {
	if e.Message == nil {
		return fmt.Errorf("%w: envelope %s has no message", infinitic.ErrInvalidMessage, e.ID)
	}
	if e.Kind != e.Message.Kind() {
		return fmt.Errorf("%w: envelope kind %q carries %q", infinitic.ErrInvalidMessage, e.Kind, e.Message.Kind())
	}
	if !e.EntityID.IsEntity() {
		return fmt.Errorf("%w: envelope %s has no entity id", infinitic.ErrInvalidMessage, e.ID)
	}
	if e.EntityID != e.Message.Entity() {
		return fmt.Errorf("%w: envelope key %s carries entity %s", infinitic.ErrInvalidMessage, e.EntityID, e.Message.Entity())
	}
	return nil
}

// Target names the destination of an outbound message.
type Target string

const (
	// TargetEngine is the engine topic of the message's entity kind.
	TargetEngine Target = "engine"
	// TargetWorkers is the executor topic of the entity name.
	TargetWorkers Target = "workers"
	// TargetMonitoring is the status event topic.
	TargetMonitoring Target = "monitoring"
	// TargetParent is the engine topic of the parent entity's kind.
	TargetParent Target = "parent"
)

// Outbound is a message produced by a transition, with an optional delay
// the transport must honour.
type Outbound struct {
	Target  Target
	Message Message
	After   time.Duration
}
