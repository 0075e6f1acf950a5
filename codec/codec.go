// Package codec encodes message envelopes for transports and outboxes.
package codec

import (
	"fmt"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
)

// Codec defines the serialization contract for envelopes.
type Codec interface {
	// Encode serializes an envelope to bytes.
	Encode(env *message.Envelope) ([]byte, error)

	// Decode deserializes bytes into an envelope. An unknown message kind
	// yields an error wrapping infinitic.ErrUnknownMessage.
	Decode(data []byte) (*message.Envelope, error)

	// Name returns the codec identifier ("json" or "msgpack").
	Name() string
}

// Codec names for configuration.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. Defaults to JSON.
func Get(name string) Codec {
	switch name {
	case NameMsgpack:
		return &Msgpack{}
	default:
		return &JSON{}
	}
}

// header is the part of the wire form shared by both codecs.
type header struct {
	ID       id.ID        `json:"id" msgpack:"id"`
	Kind     message.Kind `json:"kind" msgpack:"kind"`
	EntityID id.ID        `json:"entity_id" msgpack:"entity_id"`
	SentAt   time.Time    `json:"sent_at" msgpack:"sent_at"`
}

func headerOf(env *message.Envelope) header {
	return header{ID: env.ID, Kind: env.Kind, EntityID: env.EntityID, SentAt: env.SentAt}
}

func (h header) envelope(m message.Message) (*message.Envelope, error) {
	env := &message.Envelope{
		ID:       h.ID,
		Kind:     h.Kind,
		EntityID: h.EntityID,
		SentAt:   h.SentAt,
		Message:  m,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func checkEncodable(env *message.Envelope) error {
	if env == nil || env.Message == nil {
		return fmt.Errorf("%w: empty envelope", infinitic.ErrInvalidMessage)
	}
	return nil
}
