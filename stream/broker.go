package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpex29/infinitic/codec"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/ext"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/transport"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Broker)(nil)
	_ ext.DeadLettered = (*Broker)(nil)
	_ ext.Shutdown     = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker consumes the monitoring feed and publishes its events to
// subscribers. Publishing never blocks the feed: slow subscribers lose
// events.
type Broker struct {
	topics *topicRegistry
	codec  codec.Codec
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	nextID      atomic.Uint64
	closed      bool

	published atomic.Int64
	dropped   atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithCodec sets the codec monitoring deliveries are decoded with.
func WithCodec(c codec.Codec) BrokerOption {
	return func(b *Broker) { b.codec = c }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:      newTopicRegistry(),
		codec:       &codec.JSON{},
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers a subscriber on the given topics.
func (b *Broker) Subscribe(topics ...string) *Subscriber {
	sub := newSubscriber("sub-"+strconv.FormatUint(b.nextID.Add(1), 10), b.bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subscribers[sub.ID()] = sub
	for _, topic := range topics {
		b.topics.subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from all topics and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.topics.unsubscribeAll(sub.ID())
	b.mu.Lock()
	delete(b.subscribers, sub.ID())
	b.mu.Unlock()
	sub.close()
}

// Stats returns broker counters.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	n := len(b.subscribers)
	b.mu.Unlock()
	return Stats{
		Topics:      b.topics.count(),
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// Stats contains broker counters.
type Stats struct {
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Handle is the transport handler of the monitoring topic. Deliveries
// that are not status updates are acknowledged and ignored.
func (b *Broker) Handle(_ context.Context, d *transport.Delivery) error {
	env, err := b.codec.Decode(d.Body)
	if err != nil {
		b.logger.Warn("stream: undecodable monitoring message",
			slog.String("key", d.Key),
			slog.String("error", err.Error()),
		)
		return nil
	}
	su, ok := env.Message.(*message.StatusUpdated)
	if !ok {
		return nil
	}

	data := StatusData{
		EntityID:  su.EntityID.String(),
		Name:      su.Name,
		OldStatus: string(su.OldStatus),
		NewStatus: string(su.NewStatus),
	}
	topics := []string{TopicFirehose, EntityTopic(su.EntityID)}
	if kind, kindErr := entity.KindOf(su.EntityID); kindErr == nil {
		data.Kind = string(kind)
		topics = append(topics, KindTopic(kind))
	}

	b.publish(topics, &Event{
		Type:      EventStatusChanged,
		Timestamp: env.SentAt,
		Topic:     EntityTopic(su.EntityID),
		Data:      mustMarshal(data),
	})
	return nil
}

// OnDeadLettered implements ext.DeadLettered.
func (b *Broker) OnDeadLettered(_ context.Context, entry *dlq.Entry) error {
	data := DeadLetterData{
		EntryID:     entry.ID.String(),
		Topic:       entry.Topic,
		MessageKind: entry.MessageKind,
		Error:       entry.Error,
	}
	if !entry.EntityID.IsNil() {
		data.EntityID = entry.EntityID.String()
	}
	b.publish([]string{TopicFirehose, TopicDLQ}, &Event{
		Type:      EventDeadLettered,
		Timestamp: time.Now().UTC(),
		Topic:     TopicDLQ,
		Data:      mustMarshal(data),
	})
	return nil
}

// OnShutdown implements ext.Shutdown. It closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.closed = true
	b.mu.Unlock()

	for subID, sub := range subs {
		b.topics.unsubscribeAll(subID)
		sub.close()
	}
	b.logger.Info("stream broker shut down")
	return nil
}

func (b *Broker) publish(topics []string, evt *Event) {
	delivered, dropped := b.topics.broadcast(topics, evt)
	b.published.Add(int64(delivered))
	b.dropped.Add(int64(dropped))
}

// mustMarshal marshals event data to JSON, panicking on error.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("stream: marshal event data: %v", err))
	}
	return data
}
