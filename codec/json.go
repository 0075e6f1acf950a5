package codec

import (
	"encoding/json"
	"fmt"

	"github.com/alpex29/infinitic/message"
)

// JSON encodes envelopes as JSON objects with the message under "body".
type JSON struct{}

type jsonWire struct {
	header
	Body json.RawMessage `json:"body"`
}

func (c *JSON) Encode(env *message.Envelope) ([]byte, error) {
	if err := checkEncodable(env); err != nil {
		return nil, err
	}
	body, err := json.Marshal(env.Message)
	if err != nil {
		return nil, fmt.Errorf("codec/json: encode %s: %w", env.Kind, err)
	}
	return json.Marshal(jsonWire{header: headerOf(env), Body: body})
}

func (c *JSON) Decode(data []byte) (*message.Envelope, error) {
	var w jsonWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec/json: decode envelope: %w", err)
	}
	m, err := message.New(w.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(w.Body, m); err != nil {
		return nil, fmt.Errorf("codec/json: decode %s: %w", w.Kind, err)
	}
	return w.envelope(m)
}

func (c *JSON) Name() string { return NameJSON }
