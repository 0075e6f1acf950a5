package message

import (
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// ──────────────────────────────────────────────────
// Client commands
// ──────────────────────────────────────────────────

// Dispatch creates an entity and its first attempt.
type Dispatch struct {
	EntityID id.ID          `json:"entity_id" msgpack:"entity_id"`
	Name     string         `json:"name" msgpack:"name"`
	Input    entity.Data    `json:"input" msgpack:"input"`
	Options  entity.Options `json:"options" msgpack:"options"`
	Meta     entity.Meta    `json:"meta,omitempty" msgpack:"meta,omitempty"`
	ParentID id.ID          `json:"parent_id,omitempty" msgpack:"parent_id,omitempty"`
}

// RetryEntity starts a new attempt with optional overrides. Nil fields keep
// the stored values.
type RetryEntity struct {
	EntityID id.ID           `json:"entity_id" msgpack:"entity_id"`
	Name     *string         `json:"name,omitempty" msgpack:"name,omitempty"`
	Input    *entity.Data    `json:"input,omitempty" msgpack:"input,omitempty"`
	Options  *entity.Options `json:"options,omitempty" msgpack:"options,omitempty"`
	Meta     entity.Meta     `json:"meta,omitempty" msgpack:"meta,omitempty"`
}

// Cancel terminates a running entity.
type Cancel struct {
	EntityID id.ID       `json:"entity_id" msgpack:"entity_id"`
	Output   entity.Data `json:"output,omitempty" msgpack:"output,omitempty"`
}

// ──────────────────────────────────────────────────
// Engine to workers
// ──────────────────────────────────────────────────

// RunAttempt asks a worker to execute one attempt.
type RunAttempt struct {
	EntityID      id.ID                `json:"entity_id" msgpack:"entity_id"`
	Attempt       Attempt              `json:"attempt" msgpack:"attempt"`
	Name          string               `json:"name" msgpack:"name"`
	Input         entity.Data          `json:"input" msgpack:"input"`
	Options       entity.Options       `json:"options" msgpack:"options"`
	Meta          entity.Meta          `json:"meta,omitempty" msgpack:"meta,omitempty"`
	PreviousError *entity.AttemptError `json:"previous_error,omitempty" msgpack:"previous_error,omitempty"`
}

// ──────────────────────────────────────────────────
// Workers to engine
// ──────────────────────────────────────────────────

// AttemptStarted acknowledges that a worker began executing an attempt.
type AttemptStarted struct {
	EntityID id.ID   `json:"entity_id" msgpack:"entity_id"`
	Attempt  Attempt `json:"attempt" msgpack:"attempt"`
	WorkerID id.ID   `json:"worker_id,omitempty" msgpack:"worker_id,omitempty"`
}

// AttemptCompleted reports a successful attempt.
type AttemptCompleted struct {
	EntityID id.ID       `json:"entity_id" msgpack:"entity_id"`
	Attempt  Attempt     `json:"attempt" msgpack:"attempt"`
	Output   entity.Data `json:"output" msgpack:"output"`
}

// AttemptFailed reports a failed attempt. Delay is the suggested wait in
// seconds before retrying; nil means do not retry, zero or negative means
// retry immediately.
type AttemptFailed struct {
	EntityID id.ID               `json:"entity_id" msgpack:"entity_id"`
	Attempt  Attempt             `json:"attempt" msgpack:"attempt"`
	Error    entity.AttemptError `json:"error" msgpack:"error"`
	Delay    *float64            `json:"delay,omitempty" msgpack:"delay,omitempty"`
}

// ──────────────────────────────────────────────────
// Engine to itself
// ──────────────────────────────────────────────────

// AttemptTimeout fires when an attempt exceeded its execution timeout. It
// is treated as a failure carrying Delay.
type AttemptTimeout struct {
	EntityID id.ID    `json:"entity_id" msgpack:"entity_id"`
	Attempt  Attempt  `json:"attempt" msgpack:"attempt"`
	Delay    *float64 `json:"delay,omitempty" msgpack:"delay,omitempty"`
}

// RetryAttempt fires when the delay of a scheduled retry elapsed.
type RetryAttempt struct {
	EntityID id.ID   `json:"entity_id" msgpack:"entity_id"`
	Attempt  Attempt `json:"attempt" msgpack:"attempt"`
}

// AttemptDispatched records that an attempt was sent to workers.
type AttemptDispatched struct {
	EntityID id.ID   `json:"entity_id" msgpack:"entity_id"`
	Name     string  `json:"name" msgpack:"name"`
	Attempt  Attempt `json:"attempt" msgpack:"attempt"`
}

// Completed records that the entity terminated with an output.
type Completed struct {
	EntityID id.ID       `json:"entity_id" msgpack:"entity_id"`
	Name     string      `json:"name" msgpack:"name"`
	Output   entity.Data `json:"output" msgpack:"output"`
	Meta     entity.Meta `json:"meta,omitempty" msgpack:"meta,omitempty"`
}

// Canceled records that the entity was canceled.
type Canceled struct {
	EntityID id.ID       `json:"entity_id" msgpack:"entity_id"`
	Name     string      `json:"name" msgpack:"name"`
	Output   entity.Data `json:"output,omitempty" msgpack:"output,omitempty"`
	Meta     entity.Meta `json:"meta,omitempty" msgpack:"meta,omitempty"`
}

// ──────────────────────────────────────────────────
// Engine to monitoring and parents
// ──────────────────────────────────────────────────

// StatusUpdated is emitted whenever an entity changes status.
type StatusUpdated struct {
	EntityID  id.ID         `json:"entity_id" msgpack:"entity_id"`
	Name      string        `json:"name" msgpack:"name"`
	OldStatus entity.Status `json:"old_status" msgpack:"old_status"`
	NewStatus entity.Status `json:"new_status" msgpack:"new_status"`
}

// ChildCompleted tells a parent that one of its children completed.
type ChildCompleted struct {
	EntityID id.ID       `json:"entity_id" msgpack:"entity_id"`
	ChildID  id.ID       `json:"child_id" msgpack:"child_id"`
	Name     string      `json:"name" msgpack:"name"`
	Output   entity.Data `json:"output" msgpack:"output"`
	Meta     entity.Meta `json:"meta,omitempty" msgpack:"meta,omitempty"`
}

// ChildCanceled tells a parent that one of its children was canceled.
type ChildCanceled struct {
	EntityID id.ID       `json:"entity_id" msgpack:"entity_id"`
	ChildID  id.ID       `json:"child_id" msgpack:"child_id"`
	Name     string      `json:"name" msgpack:"name"`
	Output   entity.Data `json:"output,omitempty" msgpack:"output,omitempty"`
	Meta     entity.Meta `json:"meta,omitempty" msgpack:"meta,omitempty"`
}

// ──────────────────────────────────────────────────
// Message implementations
// ──────────────────────────────────────────────────

func (*Dispatch) Kind() Kind          { return KindDispatch }
func (*RunAttempt) Kind() Kind        { return KindRunAttempt }
func (*AttemptDispatched) Kind() Kind { return KindAttemptDispatched }
func (*AttemptStarted) Kind() Kind    { return KindAttemptStarted }
func (*AttemptCompleted) Kind() Kind  { return KindAttemptCompleted }
func (*AttemptFailed) Kind() Kind     { return KindAttemptFailed }
func (*AttemptTimeout) Kind() Kind    { return KindAttemptTimeout }
func (*RetryAttempt) Kind() Kind      { return KindRetryAttempt }
func (*RetryEntity) Kind() Kind       { return KindRetryEntity }
func (*Cancel) Kind() Kind            { return KindCancel }
func (*Completed) Kind() Kind         { return KindCompleted }
func (*Canceled) Kind() Kind          { return KindCanceled }
func (*StatusUpdated) Kind() Kind     { return KindStatusUpdated }
func (*ChildCompleted) Kind() Kind    { return KindChildCompleted }
func (*ChildCanceled) Kind() Kind     { return KindChildCanceled }

func (m *Dispatch) Entity() id.ID          { return m.EntityID }
func (m *RunAttempt) Entity() id.ID        { return m.EntityID }
func (m *AttemptDispatched) Entity() id.ID { return m.EntityID }
func (m *AttemptStarted) Entity() id.ID    { return m.EntityID }
func (m *AttemptCompleted) Entity() id.ID  { return m.EntityID }
func (m *AttemptFailed) Entity() id.ID     { return m.EntityID }
func (m *AttemptTimeout) Entity() id.ID    { return m.EntityID }
func (m *RetryAttempt) Entity() id.ID      { return m.EntityID }
func (m *RetryEntity) Entity() id.ID       { return m.EntityID }
func (m *Cancel) Entity() id.ID            { return m.EntityID }
func (m *Completed) Entity() id.ID         { return m.EntityID }
func (m *Canceled) Entity() id.ID          { return m.EntityID }
func (m *StatusUpdated) Entity() id.ID     { return m.EntityID }
func (m *ChildCompleted) Entity() id.ID    { return m.EntityID }
func (m *ChildCanceled) Entity() id.ID     { return m.EntityID }

func (*Dispatch) sealed()          {}
func (*RunAttempt) sealed()        {}
func (*AttemptDispatched) sealed() {}
func (*AttemptStarted) sealed()    {}
func (*AttemptCompleted) sealed()  {}
func (*AttemptFailed) sealed()     {}
func (*AttemptTimeout) sealed()    {}
func (*RetryAttempt) sealed()      {}
func (*RetryEntity) sealed()       {}
func (*Cancel) sealed()            {}
func (*Completed) sealed()         {}
func (*Canceled) sealed()          {}
func (*StatusUpdated) sealed()     {}
func (*ChildCompleted) sealed()    {}
func (*ChildCanceled) sealed()     {}

func (m *RunAttempt) AttemptRef() Attempt        { return m.Attempt }
func (m *AttemptDispatched) AttemptRef() Attempt { return m.Attempt }
func (m *AttemptStarted) AttemptRef() Attempt    { return m.Attempt }
func (m *AttemptCompleted) AttemptRef() Attempt  { return m.Attempt }
func (m *AttemptFailed) AttemptRef() Attempt     { return m.Attempt }
func (m *AttemptTimeout) AttemptRef() Attempt    { return m.Attempt }
func (m *RetryAttempt) AttemptRef() Attempt      { return m.Attempt }
