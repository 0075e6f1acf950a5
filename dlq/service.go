package dlq

import (
	"context"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/transport"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store  Store
	sender transport.Sender
}

// NewService creates a DLQ service. Replayed entries are sent through
// sender.
func NewService(store Store, sender transport.Sender) *Service {
	return &Service{store: store, sender: sender}
}

// Push builds an Entry from a delivery and persists it. env may be nil
// when the body could not be decoded.
func (s *Service) Push(ctx context.Context, d *transport.Delivery, env *message.Envelope, cause error) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		Entity:   infinitic.NewEntity(),
		ID:       id.NewDLQID(),
		Topic:    d.Topic,
		Key:      d.Key,
		Body:     append([]byte(nil), d.Body...),
		Error:    cause.Error(),
		Attempts: d.Attempt,
		FailedAt: now,
	}
	if env != nil {
		entry.MessageKind = string(env.Kind)
		entry.EntityID = env.EntityID
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Replay sends the entry body back to its topic with the original key and
// marks the entry as replayed. Replaying twice sends twice; the engines
// discard the duplicate.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if err := s.sender.Send(ctx, transport.Message{
		Topic: entry.Topic,
		Key:   entry.Key,
		Body:  entry.Body,
	}); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The body is already sent.
		return entry, err
	}
	now := time.Now().UTC()
	entry.ReplayedAt = &now
	return entry, nil
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
