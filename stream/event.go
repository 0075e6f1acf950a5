// Package stream fans the monitoring feed out to in-process subscribers.
//
// A [Broker] consumes the monitoring topic, turns every StatusUpdated
// message into an [Event] and publishes it on the topics it belongs to.
// It also implements the DeadLettered and Shutdown extension hooks so
// local dead letters reach the same subscribers.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	// EventStatusChanged is published for every StatusUpdated message.
	EventStatusChanged EventType = "status.changed"
	// EventDeadLettered is published when this node dead-letters a delivery.
	EventDeadLettered EventType = "dlq.added"
)

// Event is the envelope sent to subscribers.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
}

// StatusData is the payload of EventStatusChanged. Terminal statuses mean
// the entity no longer has a state.
type StatusData struct {
	EntityID  string `json:"entity_id"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// DeadLetterData is the payload of EventDeadLettered.
type DeadLetterData struct {
	EntryID     string `json:"entry_id"`
	Topic       string `json:"topic"`
	EntityID    string `json:"entity_id,omitempty"`
	MessageKind string `json:"message_kind,omitempty"`
	Error       string `json:"error"`
}
