package entity

import (
	"fmt"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/backoff"
	"github.com/alpex29/infinitic/id"
)

// Kind names the lifecycle engine that owns an entity.
type Kind string

const (
	// KindTask is a unit of work executed by a worker.
	KindTask Kind = "task"
	// KindJob is the legacy name of a task, tracked by its own engine.
	KindJob Kind = "job"
	// KindWorkflow is a legacy workflow branch executed as one unit.
	KindWorkflow Kind = "workflow"
)

// Kinds lists every entity kind.
func Kinds() []Kind { return []Kind{KindTask, KindJob, KindWorkflow} }

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTask, KindJob, KindWorkflow:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", infinitic.ErrUnknownKind, s)
	}
}

// KindOf derives the kind from the prefix of an entity id.
func KindOf(entityID id.ID) (Kind, error) {
	switch entityID.Prefix() {
	case id.PrefixTask:
		return KindTask, nil
	case id.PrefixJob:
		return KindJob, nil
	case id.PrefixWorkflow:
		return KindWorkflow, nil
	default:
		return "", fmt.Errorf("%w: id %q", infinitic.ErrUnknownKind, entityID)
	}
}

// NewID generates an entity id for the kind.
func (k Kind) NewID() id.ID {
	switch k {
	case KindJob:
		return id.NewJobID()
	case KindWorkflow:
		return id.NewWorkflowID()
	default:
		return id.NewTaskID()
	}
}

// Meta is free-form metadata propagated from dispatch to output events.
type Meta map[string][]byte

// Clone returns a deep copy of m.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	cp := make(Meta, len(m))
	for k, v := range m {
		cp[k] = append([]byte(nil), v...)
	}
	return cp
}

// Options carries execution settings chosen at dispatch.
type Options struct {
	// Timeout bounds one execution of an attempt. Zero means no timeout.
	Timeout time.Duration `json:"timeout,omitempty" msgpack:"timeout,omitempty"`

	// Retry computes delays between retries of the same attempt.
	Retry backoff.Policy `json:"retry,omitempty" msgpack:"retry,omitempty"`
}

// AttemptError describes why an attempt failed.
type AttemptError struct {
	Name       string    `json:"name" msgpack:"name"`
	Message    string    `json:"message" msgpack:"message"`
	WorkerID   id.ID     `json:"worker_id,omitempty" msgpack:"worker_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at" msgpack:"occurred_at"`
}

// Error implements error.
func (e *AttemptError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// Pending is an encoded outbound message awaiting dispatch. The transition
// that produced it is stored together with its outbox so a redelivered
// message can finish the dispatch after a crash.
type Pending struct {
	Topic string        `json:"topic"`
	Key   string        `json:"key"`
	Body  []byte        `json:"body"`
	After time.Duration `json:"after,omitempty"`
}

// State is the persisted lifecycle record of one entity. There is at most
// one State per entity id; a terminated entity has no State.
type State struct {
	infinitic.Entity

	ID     id.ID  `json:"id"`
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Input  Data   `json:"input"`
	Status Status `json:"status"`

	AttemptID    id.ID  `json:"attempt_id"`
	AttemptIndex uint64 `json:"attempt_index"`
	AttemptRetry uint64 `json:"attempt_retry"`

	Options  Options `json:"options"`
	Meta     Meta    `json:"meta,omitempty"`
	ParentID id.ID   `json:"parent_id,omitempty"`

	// RetryScheduled is set while a delayed retry of the current
	// (AttemptID, AttemptRetry) pair is in flight.
	RetryScheduled bool `json:"retry_scheduled,omitempty"`
	// TimeoutScheduled is set once an attempt timeout was scheduled for the
	// current pair.
	TimeoutScheduled bool `json:"timeout_scheduled,omitempty"`

	// RestartMessageID is the id of the RetryEntity message that started
	// the current attempt.
	RestartMessageID id.ID `json:"restart_message_id,omitempty"`

	LastError     *AttemptError `json:"last_error,omitempty"`
	LastMessageID id.ID         `json:"last_message_id,omitempty"`
	Outbox        []Pending     `json:"outbox,omitempty"`

	// Version is assigned by the store on every write and compared by the
	// conditional update.
	Version uint64 `json:"version"`
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Input = s.Input.Clone()
	cp.Meta = s.Meta.Clone()
	if s.LastError != nil {
		e := *s.LastError
		cp.LastError = &e
	}
	if s.Outbox != nil {
		cp.Outbox = make([]Pending, len(s.Outbox))
		for i, p := range s.Outbox {
			p.Body = append([]byte(nil), p.Body...)
			cp.Outbox[i] = p
		}
	}
	return &cp
}
