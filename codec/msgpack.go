package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/alpex29/infinitic/message"
)

// Msgpack encodes envelopes as MessagePack maps with the message under
// "body".
type Msgpack struct{}

type msgpackWire struct {
	header `msgpack:",inline"`
	Body   msgpack.RawMessage `msgpack:"body"`
}

func (c *Msgpack) Encode(env *message.Envelope) ([]byte, error) {
	if err := checkEncodable(env); err != nil {
		return nil, err
	}
	body, err := msgpack.Marshal(env.Message)
	if err != nil {
		return nil, fmt.Errorf("codec/msgpack: encode %s: %w", env.Kind, err)
	}
	return msgpack.Marshal(&msgpackWire{header: headerOf(env), Body: body})
}

func (c *Msgpack) Decode(data []byte) (*message.Envelope, error) {
	var w msgpackWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec/msgpack: decode envelope: %w", err)
	}
	m, err := message.New(w.Kind)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(w.Body, m); err != nil {
		return nil, fmt.Errorf("codec/msgpack: decode %s: %w", w.Kind, err)
	}
	return w.envelope(m)
}

func (c *Msgpack) Name() string { return NameMsgpack }
