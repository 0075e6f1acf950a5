package entity

import (
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/alpex29/infinitic"
)

// Status is the lifecycle status of an entity.
type Status string

const (
	// StatusAbsent is the pseudo-status of an entity with no State.
	StatusAbsent Status = ""
	// StatusRunningOK means the current attempt has not failed.
	StatusRunningOK Status = "running-ok"
	// StatusRunningWarning means the entity is being retried.
	StatusRunningWarning Status = "running-warning"
	// StatusRunningError means the last failure allowed no retry. The State
	// is kept so an operator can inspect and retry it.
	StatusRunningError Status = "running-error"
	// StatusCompleted is terminal: an attempt completed.
	StatusCompleted Status = "terminated-completed"
	// StatusCanceled is terminal: the entity was canceled.
	StatusCanceled Status = "terminated-canceled"
)

// IsTerminal reports whether s ends the lifecycle. Terminal states are
// never persisted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// IsRunning reports whether s is one of the running statuses.
func (s Status) IsRunning() bool {
	switch s {
	case StatusRunningOK, StatusRunningWarning, StatusRunningError:
		return true
	default:
		return false
	}
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusRunningOK, StatusRunningWarning, StatusRunningError, StatusCompleted, StatusCanceled:
		return st, nil
	default:
		return "", fmt.Errorf("entity: unknown status %q", s)
	}
}

// Trigger is an event moving an entity along its status machine.
type Trigger string

const (
	// TriggerDispatch creates the entity.
	TriggerDispatch Trigger = "dispatch"
	// TriggerRetry retries the current attempt, now or after a delay.
	TriggerRetry Trigger = "retry"
	// TriggerExhaust records a failure that allows no retry.
	TriggerExhaust Trigger = "exhaust"
	// TriggerRestart starts a new attempt on operator request.
	TriggerRestart Trigger = "restart"
	// TriggerComplete terminates the entity with an output.
	TriggerComplete Trigger = "complete"
	// TriggerCancel terminates the entity without completing it.
	TriggerCancel Trigger = "cancel"
	// TriggerObserve records an event that does not change the status.
	TriggerObserve Trigger = "observe"
)

// Next returns the status reached from `from` on trigger t, or
// ErrInvalidTransition when the edge does not exist.
func Next(from Status, t Trigger) (Status, error) {
	sm := stateless.NewStateMachine(from)

	sm.Configure(StatusAbsent).
		Permit(TriggerDispatch, StatusRunningOK)

	for _, running := range []Status{StatusRunningOK, StatusRunningWarning, StatusRunningError} {
		cfg := sm.Configure(running).
			Permit(TriggerComplete, StatusCompleted).
			Permit(TriggerCancel, StatusCanceled).
			PermitReentry(TriggerObserve)

		if running == StatusRunningWarning {
			cfg.PermitReentry(TriggerRetry).PermitReentry(TriggerRestart)
		} else {
			cfg.Permit(TriggerRetry, StatusRunningWarning).Permit(TriggerRestart, StatusRunningWarning)
		}
		if running == StatusRunningError {
			cfg.PermitReentry(TriggerExhaust)
		} else {
			cfg.Permit(TriggerExhaust, StatusRunningError)
		}
	}

	if err := sm.Fire(t); err != nil {
		return from, fmt.Errorf("%w: %q on %q: %v", infinitic.ErrInvalidTransition, t, from, err)
	}
	next, ok := sm.MustState().(Status)
	if !ok {
		return from, fmt.Errorf("%w: %q on %q", infinitic.ErrInvalidTransition, t, from)
	}
	return next, nil
}
