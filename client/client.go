// Package client sends engine-bound messages through a transport.
//
// It is used by applications to dispatch, retry and cancel entities, and by
// workers to report the progress of the attempts they execute. Every
// message is wrapped in a fresh envelope, encoded and sent to the engine
// topic of its entity kind, keyed by the entity id.
//
// Usage:
//
//	c := client.New(tr)
//
//	taskID, err := c.Dispatch(ctx, entity.KindTask, "email.send", input,
//	    client.WithTimeout(30*time.Second),
//	)
//
//	err = c.Cancel(ctx, taskID, nil)
package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/codec"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/transport"
)

// Client sends messages to lifecycle engines.
type Client struct {
	sender transport.Sender
	codec  codec.Codec
	logger *slog.Logger
}

// New creates a client sending through sender.
func New(sender transport.Sender, opts ...Option) *Client {
	c := &Client{
		sender: sender,
		codec:  &codec.JSON{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Codec returns the envelope encoding used by the client.
func (c *Client) Codec() codec.Codec { return c.codec }

// Send wraps m in a new envelope and sends it to the engine of its entity
// kind. The returned envelope carries the message id.
func (c *Client) Send(ctx context.Context, m message.Message) (*message.Envelope, error) {
	kind, err := entity.KindOf(m.Entity())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", infinitic.ErrInvalidMessage, m.Kind(), err)
	}

	env := message.Wrap(m)
	body, err := c.codec.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("infinitic/client: encode %s: %w", m.Kind(), err)
	}

	topic := transport.EngineTopic(string(kind))
	if err := c.sender.Send(ctx, transport.Message{
		Topic: topic,
		Key:   env.EntityID.String(),
		Body:  body,
	}); err != nil {
		return nil, fmt.Errorf("infinitic/client: send %s to %s: %w", m.Kind(), topic, err)
	}

	c.logger.Debug("message sent",
		slog.String("entity_id", env.EntityID.String()),
		slog.String("message_kind", string(env.Kind)),
		slog.String("message_id", env.ID.String()),
	)
	return env, nil
}
