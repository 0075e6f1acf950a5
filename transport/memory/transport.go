// Package memory provides an in-process transport for development, tests
// and single-node deployments.
//
// Each topic is split into partitions chosen by hashing the message key.
// Delayed messages are held by timers owned by the transport. A delivery
// whose handler fails is re-queued after a redelivery delay, so delivery is
// at-least-once as with a broker.
package memory

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/transport"
)

var _ transport.Transport = (*Transport)(nil)

// Transport is an in-memory implementation of transport.Transport.
// Safe for concurrent use.
type Transport struct {
	partitions      int
	bufferSize      int
	redeliveryDelay time.Duration
	logger          *slog.Logger

	mu      sync.Mutex
	topics  map[string]*topic
	timers  map[*time.Timer]struct{}
	closed  bool
	closeCh chan struct{}
}

type topic struct {
	parts []chan *transport.Delivery
}

// Option configures a Transport.
type Option func(*Transport)

// WithPartitions sets the number of partitions per topic.
func WithPartitions(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.partitions = n
		}
	}
}

// WithBufferSize sets the capacity of each partition.
func WithBufferSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.bufferSize = n
		}
	}
}

// WithRedeliveryDelay sets how long a failed delivery waits before it is
// delivered again.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(t *Transport) { t.redeliveryDelay = d }
}

// WithLogger sets the logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// New returns an empty Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		partitions:      8,
		bufferSize:      1024,
		redeliveryDelay: 100 * time.Millisecond,
		logger:          slog.Default(),
		topics:          make(map[string]*topic),
		timers:          make(map[*time.Timer]struct{}),
		closeCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send enqueues m, or schedules it when m.After is positive. Send never
// blocks on a full partition: the message is held by a timer and enqueued
// after the redelivery delay, so a handler may send to its own topic.
func (t *Transport) Send(ctx context.Context, m transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := &transport.Delivery{
		Topic:   m.Topic,
		Key:     m.Key,
		Body:    append([]byte(nil), m.Body...),
		Attempt: 1,
	}
	if m.After > 0 {
		return t.schedule(d, m.After)
	}

	tp, err := t.topic(d.Topic)
	if err != nil {
		return err
	}
	select {
	case tp.parts[partition(d.Key, len(tp.parts))] <- d:
		return nil
	default:
		t.logger.Debug("memory transport: partition full, spilling",
			slog.String("topic", d.Topic),
			slog.String("key", d.Key),
		)
		return t.schedule(d, t.redeliveryDelay)
	}
}

// Consume delivers messages of the topic to h until ctx is done or the
// transport is closed. Each call reads every partition, so concurrent
// consumers compete for messages.
func (t *Transport) Consume(ctx context.Context, name string, h transport.Handler) error {
	tp, err := t.topic(name)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, ch := range tp.parts {
		wg.Add(1)
		go func(ch chan *transport.Delivery) {
			defer wg.Done()
			t.consumePartition(ctx, ch, h)
		}(ch)
	}
	wg.Wait()
	return nil
}

func (t *Transport) consumePartition(ctx context.Context, ch chan *transport.Delivery, h transport.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closeCh:
			return
		case d := <-ch:
			if err := h(ctx, d); err != nil {
				t.logger.Debug("memory transport: redelivering",
					slog.String("topic", d.Topic),
					slog.Int("attempt", d.Attempt),
					slog.String("error", err.Error()),
				)
				next := *d
				next.Attempt++
				if schedErr := t.schedule(&next, t.redeliveryDelay); schedErr != nil {
					return
				}
			}
		}
	}
}

// Len returns the number of messages waiting in the topic, excluding
// delayed ones.
func (t *Transport) Len(name string) int {
	tp, err := t.topic(name)
	if err != nil {
		return 0
	}
	n := 0
	for _, ch := range tp.parts {
		n += len(ch)
	}
	return n
}

// Close stops all timers and consumers. Pending messages are dropped.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closeCh)
	for timer := range t.timers {
		timer.Stop()
	}
	t.timers = nil
	return nil
}

func (t *Transport) topic(name string) (*topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, infinitic.ErrTransportClosed
	}
	tp, ok := t.topics[name]
	if !ok {
		tp = &topic{parts: make([]chan *transport.Delivery, t.partitions)}
		for i := range tp.parts {
			tp.parts[i] = make(chan *transport.Delivery, t.bufferSize)
		}
		t.topics[name] = tp
	}
	return tp, nil
}

func (t *Transport) enqueue(ctx context.Context, d *transport.Delivery) error {
	tp, err := t.topic(d.Topic)
	if err != nil {
		return err
	}
	ch := tp.parts[partition(d.Key, len(tp.parts))]
	select {
	case ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closeCh:
		return infinitic.ErrTransportClosed
	}
}

func (t *Transport) schedule(d *transport.Delivery, after time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return infinitic.ErrTransportClosed
	}

	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		t.mu.Lock()
		delete(t.timers, timer)
		t.mu.Unlock()
		if err := t.enqueue(context.Background(), d); err != nil {
			t.logger.Debug("memory transport: dropped delayed message",
				slog.String("topic", d.Topic),
				slog.String("error", err.Error()),
			)
		}
	})
	t.timers[timer] = struct{}{}
	return nil
}

func partition(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n)) //nolint:gosec // n is a small positive partition count
}
