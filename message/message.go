// Package message defines the closed set of messages exchanged between
// clients, lifecycle engines, workers and monitoring.
//
// Every variant is keyed by the id of the entity it concerns. Variants that
// belong to one execution attempt also implement AttemptScoped; the engine
// discards them when their attempt no longer matches the stored state.
package message

import (
	"fmt"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/id"
)

// Kind is the wire tag of a message variant.
type Kind string

const (
	KindDispatch          Kind = "dispatch"
	KindRunAttempt        Kind = "run.attempt"
	KindAttemptDispatched Kind = "attempt.dispatched"
	KindAttemptStarted    Kind = "attempt.started"
	KindAttemptCompleted  Kind = "attempt.completed"
	KindAttemptFailed     Kind = "attempt.failed"
	KindAttemptTimeout    Kind = "attempt.timeout"
	KindRetryAttempt      Kind = "retry.attempt"
	KindRetryEntity       Kind = "retry.entity"
	KindCancel            Kind = "cancel"
	KindCompleted         Kind = "completed"
	KindCanceled          Kind = "canceled"
	KindStatusUpdated     Kind = "status.updated"
	KindChildCompleted    Kind = "child.completed"
	KindChildCanceled     Kind = "child.canceled"
)

// Message is implemented by every variant. The set is closed: only types
// in this package implement it.
type Message interface {
	// Kind returns the wire tag of the variant.
	Kind() Kind
	// Entity returns the id of the entity the message is about.
	Entity() id.ID

	sealed()
}

// Attempt identifies one execution attempt of an entity and the number of
// retries of that attempt.
type Attempt struct {
	ID    id.ID  `json:"id" msgpack:"id"`
	Index uint64 `json:"index" msgpack:"index"`
	Retry uint64 `json:"retry" msgpack:"retry"`
}

// Same reports whether a and b name the same (attempt id, retry) pair.
// The attempt index is implied by the attempt id.
func (a Attempt) Same(b Attempt) bool {
	return a.ID == b.ID && a.Retry == b.Retry
}

// AttemptScoped is implemented by variants that belong to one attempt.
type AttemptScoped interface {
	Message
	AttemptRef() Attempt
}

// New returns a zero value of the variant tagged kind, ready to be
// decoded into.
func New(kind Kind) (Message, error) {
	switch kind {
	case KindDispatch:
		return &Dispatch{}, nil
	case KindRunAttempt:
		return &RunAttempt{}, nil
	case KindAttemptDispatched:
		return &AttemptDispatched{}, nil
	case KindAttemptStarted:
		return &AttemptStarted{}, nil
	case KindAttemptCompleted:
		return &AttemptCompleted{}, nil
	case KindAttemptFailed:
		return &AttemptFailed{}, nil
	case KindAttemptTimeout:
		return &AttemptTimeout{}, nil
	case KindRetryAttempt:
		return &RetryAttempt{}, nil
	case KindRetryEntity:
		return &RetryEntity{}, nil
	case KindCancel:
		return &Cancel{}, nil
	case KindCompleted:
		return &Completed{}, nil
	case KindCanceled:
		return &Canceled{}, nil
	case KindStatusUpdated:
		return &StatusUpdated{}, nil
	case KindChildCompleted:
		return &ChildCompleted{}, nil
	case KindChildCanceled:
		return &ChildCanceled{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", infinitic.ErrUnknownMessage, kind)
	}
}

// IsInformational reports whether a message reaching an engine topic is an
// audit record the engine accepts without acting on it.
func IsInformational(m Message) bool {
	switch m.(type) {
	case *AttemptDispatched, *Completed, *Canceled, *StatusUpdated:
		return true
	default:
		return false
	}
}
