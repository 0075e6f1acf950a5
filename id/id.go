// Package id defines TypeID-based identifiers for entities, attempts and
// messages.
//
// An ID is "prefix_suffix" where the suffix is a UUIDv7, so ids sort by
// creation time. The prefix of an entity id also names the lifecycle engine
// that owns the entity.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.jetify.com/typeid/v2"
)

// Prefix names what an ID identifies.
type Prefix string

const (
	PrefixTask     Prefix = "task"
	PrefixJob      Prefix = "job"
	PrefixWorkflow Prefix = "wf"
	PrefixAttempt  Prefix = "att"
	PrefixMessage  Prefix = "msg"
	PrefixWorker   Prefix = "wkr"
	PrefixDLQ      Prefix = "dlq"
)

// IsEntity reports whether p belongs to a task, job or workflow.
func (p Prefix) IsEntity() bool {
	return p == PrefixTask || p == PrefixJob || p == PrefixWorkflow
}

// New generates an ID under p. It panics when p is not a valid TypeID
// prefix.
func (p Prefix) New() ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: prefix %q: %v", p, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses s and requires its prefix to be p.
func (p Prefix) Parse(s string) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != p {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, p)
	}
	return parsed, nil
}

// ID is a prefix-qualified, sortable identifier. The zero value is Nil.
//
//nolint:recvcheck // pointer receivers only where the ID is decoded in place
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero ID. It encodes as "" in text, msgpack and NULL in SQL.
var Nil ID

// DLQID identifies a dead letter entry.
type DLQID = ID

var errEmpty = errors.New("empty string")

// Parse parses any well-formed TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: %w", errEmpty)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseEntityID parses a task, job or workflow id.
func ParseEntityID(s string) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if !parsed.IsEntity() {
		return Nil, fmt.Errorf("id: %q is not an entity id", s)
	}
	return parsed, nil
}

// ParseDLQID parses a dead letter entry id.
func ParseDLQID(s string) (ID, error) { return PrefixDLQ.Parse(s) }

func NewTaskID() ID     { return PrefixTask.New() }
func NewJobID() ID      { return PrefixJob.New() }
func NewWorkflowID() ID { return PrefixWorkflow.New() }
func NewAttemptID() ID  { return PrefixAttempt.New() }
func NewMessageID() ID  { return PrefixMessage.New() }
func NewWorkerID() ID   { return PrefixWorker.New() }
func NewDLQID() ID      { return PrefixDLQ.New() }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.valid }

// IsEntity reports whether i identifies a task, job or workflow.
func (i ID) IsEntity() bool { return i.Prefix().IsEntity() }

// decode sets i from its text form; "" decodes to Nil.
func (i *ID) decode(s string) error {
	if s == "" {
		*i = Nil
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *ID) UnmarshalText(data []byte) error { return i.decode(string(data)) }

func (i ID) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeString(i.String()) }

func (i *ID) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	return i.decode(s)
}

// Value stores Nil as NULL so optional id columns stay nullable.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.inner.String(), nil
}

// Scan accepts NULL, string and []byte columns.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.decode(v)
	case []byte:
		return i.decode(string(v))
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
