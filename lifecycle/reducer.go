package lifecycle

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/backoff"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
)

// Action tells the caller of Handle what to do with the stored state.
type Action int

const (
	// ActionDiscard drops the message: no write, no outbound message.
	ActionDiscard Action = iota
	// ActionIgnore accepts the message without changing anything.
	ActionIgnore
	// ActionCreate stores Next as a new state.
	ActionCreate
	// ActionUpdate replaces the stored state with Next, conditionally.
	ActionUpdate
	// ActionDelete removes the state. Next carries the terminal status.
	ActionDelete
)

// String returns the action name used in logs.
func (a Action) String() string {
	switch a {
	case ActionDiscard:
		return "discard"
	case ActionIgnore:
		return "ignore"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Result is the outcome of one transition.
type Result struct {
	Action   Action
	Next     *entity.State
	Outbound []message.Outbound

	// Reason and Level describe a discard.
	Reason string
	Level  slog.Level
}

// Discard reasons.
const (
	ReasonAlreadyTerminated = "entity already terminated"
	ReasonKeyMismatch       = "state id does not match message key"
	ReasonDispatchReplayed  = "dispatch received for a started entity"
	ReasonAlreadyApplied    = "message already applied"
	ReasonStaleAttempt      = "message for another attempt or retry"
	ReasonRetryScheduled    = "retry already scheduled for this attempt"
	ReasonAttemptFailed     = "attempt already failed without retry"
	ReasonNoRetryScheduled  = "no retry scheduled for this attempt"
	ReasonWorkerMessage     = "worker message sent to an engine"
)

func discard(reason string, level slog.Level) Result {
	return Result{Action: ActionDiscard, Reason: reason, Level: level}
}

// Reducer computes transitions. It performs no I/O: the attempt id
// generator and the clock are injected.
type Reducer struct {
	NewAttemptID func() id.ID
	Now          func() time.Time
}

// NewReducer returns a Reducer using random attempt ids and the wall
// clock.
func NewReducer() *Reducer {
	return &Reducer{
		NewAttemptID: id.NewAttemptID,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// Handle returns the transition of old (nil when absent) on env. The only
// errors are ErrInvalidMessage for a malformed envelope, ErrUnknownMessage
// for a variant no engine handles and ErrInvalidTransition for an illegal
// status edge; none of them depend on delivery order.
func (r *Reducer) Handle(old *entity.State, env *message.Envelope) (Result, error) {
	if env == nil || env.Message == nil {
		return Result{}, fmt.Errorf("%w: empty envelope", infinitic.ErrInvalidMessage)
	}
	m := env.Message

	if message.IsInformational(m) {
		return Result{Action: ActionIgnore}, nil
	}
	if _, ok := m.(*message.RunAttempt); ok {
		return discard(ReasonWorkerMessage, slog.LevelError), nil
	}

	if old == nil {
		if d, ok := m.(*message.Dispatch); ok {
			return r.dispatch(env, d)
		}
		if !known(m) {
			return Result{}, fmt.Errorf("%w: %T", infinitic.ErrUnknownMessage, m)
		}
		return discard(ReasonAlreadyTerminated, slog.LevelWarn), nil
	}

	if old.ID != env.EntityID {
		return discard(ReasonKeyMismatch, slog.LevelError), nil
	}
	if _, ok := m.(*message.Dispatch); ok {
		return discard(ReasonDispatchReplayed, slog.LevelError), nil
	}
	if !env.ID.IsNil() && env.ID == old.LastMessageID {
		return discard(ReasonAlreadyApplied, slog.LevelInfo), nil
	}
	if scoped, ok := m.(message.AttemptScoped); ok {
		if _, completed := m.(*message.AttemptCompleted); !completed && !scoped.AttemptRef().Same(current(old)) {
			return discard(ReasonStaleAttempt, slog.LevelInfo), nil
		}
	}

	switch m := m.(type) {
	case *message.AttemptCompleted:
		return r.complete(old, env, m)
	case *message.AttemptFailed:
		e := m.Error
		return r.fail(old, env, &e, m.Delay)
	case *message.AttemptTimeout:
		return r.fail(old, env, r.timeoutError(old), m.Delay)
	case *message.RetryAttempt:
		if !old.RetryScheduled {
			return discard(ReasonNoRetryScheduled, slog.LevelInfo), nil
		}
		return r.retry(old, env, old.LastError)
	case *message.RetryEntity:
		return r.restart(old, env, m)
	case *message.Cancel:
		return r.cancel(old, env, m)
	case *message.AttemptStarted:
		return r.started(old, env)
	case *message.ChildCompleted, *message.ChildCanceled:
		return Result{Action: ActionIgnore, Next: old}, nil
	default:
		return Result{}, fmt.Errorf("%w: %T", infinitic.ErrUnknownMessage, m)
	}
}

// known reports whether m is a variant an engine handles.
func known(m message.Message) bool {
	switch m.(type) {
	case *message.Dispatch, *message.AttemptStarted, *message.AttemptCompleted,
		*message.AttemptFailed, *message.AttemptTimeout, *message.RetryAttempt,
		*message.RetryEntity, *message.Cancel, *message.ChildCompleted, *message.ChildCanceled:
		return true
	default:
		return false
	}
}

func current(s *entity.State) message.Attempt {
	return message.Attempt{ID: s.AttemptID, Index: s.AttemptIndex, Retry: s.AttemptRetry}
}

func (r *Reducer) dispatch(env *message.Envelope, d *message.Dispatch) (Result, error) {
	status, err := entity.Next(entity.StatusAbsent, entity.TriggerDispatch)
	if err != nil {
		return Result{}, err
	}
	kind, err := entity.KindOf(d.EntityID)
	if err != nil {
		return Result{}, err
	}

	now := r.Now()
	next := &entity.State{
		Entity:        infinitic.Entity{CreatedAt: now, UpdatedAt: now},
		ID:            d.EntityID,
		Kind:          kind,
		Name:          d.Name,
		Input:         d.Input.Clone(),
		Status:        status,
		AttemptID:     r.NewAttemptID(),
		Options:       d.Options,
		Meta:          d.Meta.Clone(),
		ParentID:      d.ParentID,
		LastMessageID: env.ID,
	}

	out := runAttempt(next, nil)
	out = append(out, statusUpdated(next, entity.StatusAbsent))
	return Result{Action: ActionCreate, Next: next, Outbound: out}, nil
}

func (r *Reducer) complete(old *entity.State, env *message.Envelope, m *message.AttemptCompleted) (Result, error) {
	status, err := entity.Next(old.Status, entity.TriggerComplete)
	if err != nil {
		return Result{}, err
	}
	next := r.advance(old, env)
	next.Status = status

	out := []message.Outbound{{
		Target: message.TargetEngine,
		Message: &message.Completed{
			EntityID: next.ID,
			Name:     next.Name,
			Output:   m.Output,
			Meta:     next.Meta,
		},
	}}
	if !next.ParentID.IsNil() {
		out = append(out, message.Outbound{
			Target: message.TargetParent,
			Message: &message.ChildCompleted{
				EntityID: next.ParentID,
				ChildID:  next.ID,
				Name:     next.Name,
				Output:   m.Output,
				Meta:     next.Meta,
			},
		})
	}
	out = append(out, statusUpdated(next, old.Status))
	return Result{Action: ActionDelete, Next: next, Outbound: out}, nil
}

func (r *Reducer) cancel(old *entity.State, env *message.Envelope, m *message.Cancel) (Result, error) {
	status, err := entity.Next(old.Status, entity.TriggerCancel)
	if err != nil {
		return Result{}, err
	}
	next := r.advance(old, env)
	next.Status = status

	out := []message.Outbound{{
		Target: message.TargetEngine,
		Message: &message.Canceled{
			EntityID: next.ID,
			Name:     next.Name,
			Output:   m.Output,
			Meta:     next.Meta,
		},
	}}
	if !next.ParentID.IsNil() {
		out = append(out, message.Outbound{
			Target: message.TargetParent,
			Message: &message.ChildCanceled{
				EntityID: next.ParentID,
				ChildID:  next.ID,
				Name:     next.Name,
				Output:   m.Output,
				Meta:     next.Meta,
			},
		})
	}
	out = append(out, statusUpdated(next, old.Status))
	return Result{Action: ActionDelete, Next: next, Outbound: out}, nil
}

// fail applies the retry-delay rule to a failure or timeout of the current
// attempt.
func (r *Reducer) fail(old *entity.State, env *message.Envelope, cause *entity.AttemptError, delay *float64) (Result, error) {
	if old.RetryScheduled {
		return discard(ReasonRetryScheduled, slog.LevelInfo), nil
	}
	if old.Status == entity.StatusRunningError {
		return discard(ReasonAttemptFailed, slog.LevelInfo), nil
	}
	if cause != nil && cause.OccurredAt.IsZero() {
		cause.OccurredAt = r.Now()
	}
	delay = backoff.Usable(delay)

	if delay == nil {
		status, err := entity.Next(old.Status, entity.TriggerExhaust)
		if err != nil {
			return Result{}, err
		}
		next := r.advance(old, env)
		next.Status = status
		next.LastError = cause
		return r.updated(old, next, nil), nil
	}

	if *delay <= 0 {
		return r.retry(old, env, cause)
	}

	status, err := entity.Next(old.Status, entity.TriggerRetry)
	if err != nil {
		return Result{}, err
	}
	next := r.advance(old, env)
	next.Status = status
	next.LastError = cause
	next.RetryScheduled = true

	out := []message.Outbound{{
		Target:  message.TargetEngine,
		Message: &message.RetryAttempt{EntityID: next.ID, Attempt: current(next)},
		After:   backoff.Duration(delay),
	}}
	return r.updated(old, next, out), nil
}

// retry re-dispatches the current attempt with its retry counter
// incremented.
func (r *Reducer) retry(old *entity.State, env *message.Envelope, cause *entity.AttemptError) (Result, error) {
	status, err := entity.Next(old.Status, entity.TriggerRetry)
	if err != nil {
		return Result{}, err
	}
	next := r.advance(old, env)
	next.Status = status
	next.AttemptRetry++
	next.RetryScheduled = false
	next.TimeoutScheduled = false
	next.LastError = cause

	return r.updated(old, next, runAttempt(next, cause)), nil
}

func (r *Reducer) restart(old *entity.State, env *message.Envelope, m *message.RetryEntity) (Result, error) {
	if !env.ID.IsNil() && env.ID == old.RestartMessageID {
		return discard(ReasonAlreadyApplied, slog.LevelInfo), nil
	}
	status, err := entity.Next(old.Status, entity.TriggerRestart)
	if err != nil {
		return Result{}, err
	}
	next := r.advance(old, env)
	next.Status = status
	next.AttemptID = r.NewAttemptID()
	next.AttemptIndex++
	next.AttemptRetry = 0
	next.RestartMessageID = env.ID
	next.RetryScheduled = false
	next.TimeoutScheduled = false
	next.LastError = nil

	if m.Name != nil {
		next.Name = *m.Name
	}
	if m.Input != nil {
		next.Input = m.Input.Clone()
	}
	if m.Options != nil {
		next.Options = *m.Options
	}
	if m.Meta != nil {
		next.Meta = m.Meta.Clone()
	}

	return r.updated(old, next, runAttempt(next, nil)), nil
}

// started schedules the execution timeout of the current attempt.
func (r *Reducer) started(old *entity.State, env *message.Envelope) (Result, error) {
	if old.Options.Timeout <= 0 || old.TimeoutScheduled || old.RetryScheduled {
		return Result{Action: ActionIgnore, Next: old}, nil
	}
	status, err := entity.Next(old.Status, entity.TriggerObserve)
	if err != nil {
		return Result{}, err
	}
	next := r.advance(old, env)
	next.Status = status
	next.TimeoutScheduled = true

	out := []message.Outbound{{
		Target: message.TargetEngine,
		Message: &message.AttemptTimeout{
			EntityID: next.ID,
			Attempt:  current(next),
			Delay:    next.Options.Retry.Delay(next.AttemptRetry + 1),
		},
		After: next.Options.Timeout,
	}}
	return r.updated(old, next, out), nil
}

func (r *Reducer) timeoutError(s *entity.State) *entity.AttemptError {
	return &entity.AttemptError{
		Name:       "AttemptTimeout",
		Message:    fmt.Sprintf("attempt %s did not complete within %s", s.AttemptID, s.Options.Timeout),
		OccurredAt: r.Now(),
	}
}

// advance copies old for a transition applied by env.
func (r *Reducer) advance(old *entity.State, env *message.Envelope) *entity.State {
	next := old.Clone()
	next.LastMessageID = env.ID
	next.Outbox = nil
	next.Touch(r.Now())
	return next
}

// updated builds an update result and adds the status event when the
// status moved.
func (r *Reducer) updated(old, next *entity.State, out []message.Outbound) Result {
	if next.Status != old.Status {
		out = append(out, statusUpdated(next, old.Status))
	}
	return Result{Action: ActionUpdate, Next: next, Outbound: out}
}

// runAttempt returns the worker dispatch of the current attempt and its
// audit record.
func runAttempt(s *entity.State, previous *entity.AttemptError) []message.Outbound {
	return []message.Outbound{
		{
			Target: message.TargetWorkers,
			Message: &message.RunAttempt{
				EntityID:      s.ID,
				Attempt:       current(s),
				Name:          s.Name,
				Input:         s.Input,
				Options:       s.Options,
				Meta:          s.Meta,
				PreviousError: previous,
			},
		},
		{
			Target:  message.TargetEngine,
			Message: &message.AttemptDispatched{EntityID: s.ID, Name: s.Name, Attempt: current(s)},
		},
	}
}

func statusUpdated(s *entity.State, from entity.Status) message.Outbound {
	return message.Outbound{
		Target: message.TargetMonitoring,
		Message: &message.StatusUpdated{
			EntityID:  s.ID,
			Name:      s.Name,
			OldStatus: from,
			NewStatus: s.Status,
		},
	}
}
