package client

import (
	"context"
	"fmt"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/backoff"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
)

// DispatchOption configures a dispatch.
type DispatchOption func(*message.Dispatch)

// WithID sets the entity id instead of generating one. Dispatching twice
// with the same id creates the entity once.
func WithID(entityID id.ID) DispatchOption {
	return func(d *message.Dispatch) { d.EntityID = entityID }
}

// WithTimeout bounds the execution of each attempt.
func WithTimeout(t time.Duration) DispatchOption {
	return func(d *message.Dispatch) { d.Options.Timeout = t }
}

// WithRetry sets the retry policy.
func WithRetry(p backoff.Policy) DispatchOption {
	return func(d *message.Dispatch) { d.Options.Retry = p }
}

// WithMeta adds a metadata entry propagated to output events.
func WithMeta(key string, value []byte) DispatchOption {
	return func(d *message.Dispatch) {
		if d.Meta == nil {
			d.Meta = entity.Meta{}
		}
		d.Meta[key] = value
	}
}

// WithParent makes the entity a child of parentID, which is notified when
// the entity completes or is canceled.
func WithParent(parentID id.ID) DispatchOption {
	return func(d *message.Dispatch) { d.ParentID = parentID }
}

// Dispatch creates an entity of the given kind running the named task and
// returns its id.
func (c *Client) Dispatch(ctx context.Context, kind entity.Kind, name string, input entity.Data, opts ...DispatchOption) (id.ID, error) {
	if name == "" {
		return id.ID{}, fmt.Errorf("%w: empty name", infinitic.ErrInvalidTaskName)
	}
	d := &message.Dispatch{
		EntityID: kind.NewID(),
		Name:     name,
		Input:    input,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.Options.Retry.Validate(); err != nil {
		return id.ID{}, err
	}
	if got, err := entity.KindOf(d.EntityID); err != nil || got != kind {
		return id.ID{}, fmt.Errorf("%w: id %s is not a %s id", infinitic.ErrInvalidMessage, d.EntityID, kind)
	}

	if _, err := c.Send(ctx, d); err != nil {
		return id.ID{}, err
	}
	return d.EntityID, nil
}

// RetryOverrides replaces parts of an entity when it is retried. Nil
// fields keep the stored values; Meta entries are merged.
type RetryOverrides struct {
	Name    *string
	Input   *entity.Data
	Options *entity.Options
	Meta    entity.Meta
}

// Retry starts a new attempt of a running entity.
func (c *Client) Retry(ctx context.Context, entityID id.ID, o RetryOverrides) error {
	_, err := c.Send(ctx, &message.RetryEntity{
		EntityID: entityID,
		Name:     o.Name,
		Input:    o.Input,
		Options:  o.Options,
		Meta:     o.Meta,
	})
	return err
}

// Cancel terminates a running entity. output is forwarded to the parent.
func (c *Client) Cancel(ctx context.Context, entityID id.ID, output entity.Data) error {
	_, err := c.Send(ctx, &message.Cancel{EntityID: entityID, Output: output})
	return err
}
