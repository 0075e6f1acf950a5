// Package transport defines how encoded envelopes move between clients,
// engines and workers.
//
// Transports guarantee at-least-once delivery with no ordering across
// sends. Delayed sends are realised by the transport itself, so an engine
// never holds timers: a retry or timeout scheduled before a crash still
// fires afterwards.
package transport

import (
	"context"
	"time"
)

// Message is one encoded envelope to send.
type Message struct {
	// Topic names the destination queue.
	Topic string
	// Key partitions the topic. Messages about one entity share a key.
	Key string
	// Body is the encoded envelope.
	Body []byte
	// After delays delivery. Zero or negative delivers immediately.
	After time.Duration
}

// Delivery is a received message.
type Delivery struct {
	Topic string
	Key   string
	Body  []byte
	// Attempt counts deliveries of this message, starting at 1.
	Attempt int
}

// Handler processes one delivery. Returning nil acknowledges it; returning
// an error leaves it for redelivery.
type Handler func(ctx context.Context, d *Delivery) error

// Sender sends messages.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Consumer receives messages of one topic until ctx is done. Several
// consumers of one topic share its messages.
type Consumer interface {
	Consume(ctx context.Context, topic string, h Handler) error
}

// Transport is a full transport implementation.
type Transport interface {
	Sender
	Consumer
	Close() error
}
