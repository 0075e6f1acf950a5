// Package redis implements transport.Transport on Redis.
//
// Each topic is a Sorted Set of message ids scored by due time in
// milliseconds, with bodies and delivery counters kept in Hashes next to
// it. A consumer claims the oldest due message with a Lua script that also
// pushes its score forward by the lease, so a message whose consumer dies
// reappears once the lease expires. Acknowledging removes the message.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	t := redistransport.New(client)
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/transport"
)

var _ transport.Transport = (*Transport)(nil)

const keyPrefix = "infinitic:"

// queueKey returns the Sorted Set key of a topic: infinitic:queue:{topic}
func queueKey(topic string) string { return keyPrefix + "queue:" + topic }

// bodyKey returns the Hash of message bodies of a topic.
func bodyKey(topic string) string { return keyPrefix + "body:" + topic }

// attemptsKey returns the Hash of delivery counters of a topic.
func attemptsKey(topic string) string { return keyPrefix + "attempts:" + topic }

// keyKey returns the Hash of partition keys of a topic.
func keyKey(topic string) string { return keyPrefix + "key:" + topic }

// claimScript atomically claims the oldest due message of a topic.
//
// KEYS[1] queue zset, KEYS[2] body hash, KEYS[3] attempts hash, KEYS[4] key hash
// ARGV[1] now (ms), ARGV[2] lease (ms)
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZADD', KEYS[1], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
local body = redis.call('HGET', KEYS[2], id)
if not body then
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', KEYS[3], id)
  redis.call('HDEL', KEYS[4], id)
  return false
end
local n = redis.call('HINCRBY', KEYS[3], id, 1)
local key = redis.call('HGET', KEYS[4], id) or ''
return {id, body, n, key}
`)

// Option configures the Transport.
type Option func(*Transport)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithLease sets how long a claimed message stays invisible to other
// consumers before it is redelivered. Default: 30s.
func WithLease(d time.Duration) Option {
	return func(t *Transport) { t.lease = d }
}

// WithPollInterval sets the wait between claims when a topic has no due
// message. Default: 50ms.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) { t.poll = d }
}

// WithRedeliveryDelay sets the wait before a message whose handler failed
// becomes due again. Default: 100ms.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(t *Transport) { t.redelivery = d }
}

// Transport is a Redis implementation of transport.Transport.
type Transport struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	lease      time.Duration
	poll       time.Duration
	redelivery time.Duration
	closed     atomic.Bool
}

// New creates a Redis-backed transport. The caller owns the Redis client
// lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Transport {
	t := &Transport{
		client:     client,
		logger:     slog.Default(),
		lease:      30 * time.Second,
		poll:       50 * time.Millisecond,
		redelivery: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Send adds a message to its topic, due now or after m.After.
func (t *Transport) Send(ctx context.Context, m transport.Message) error {
	if t.closed.Load() {
		return infinitic.ErrTransportClosed
	}

	due := time.Now()
	if m.After > 0 {
		due = due.Add(m.After)
	}
	member := id.NewMessageID().String()

	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, bodyKey(m.Topic), member, m.Body)
	pipe.HSet(ctx, keyKey(m.Topic), member, m.Key)
	pipe.ZAdd(ctx, queueKey(m.Topic), redis.Z{Score: float64(due.UnixMilli()), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("infinitic/redis: send to %s: %w", m.Topic, err)
	}
	return nil
}

// Consume claims and handles due messages of topic until ctx is done or the
// transport is closed.
func (t *Transport) Consume(ctx context.Context, topic string, h transport.Handler) error {
	keys := []string{queueKey(topic), bodyKey(topic), attemptsKey(topic), keyKey(topic)}

	for {
		if ctx.Err() != nil || t.closed.Load() {
			return nil
		}

		member, d, err := t.claim(ctx, topic, keys)
		switch {
		case errors.Is(err, redis.Nil):
			t.wait(ctx, t.poll)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Warn("redis transport claim failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			t.wait(ctx, t.poll)
			continue
		}

		if herr := h(ctx, d); herr != nil {
			t.logger.Debug("delivery failed, scheduling redelivery",
				slog.String("topic", topic),
				slog.Int("attempt", d.Attempt),
				slog.String("error", herr.Error()),
			)
			t.nack(ctx, keys, member)
			continue
		}
		t.ack(ctx, keys, member)
	}
}

func (t *Transport) claim(ctx context.Context, topic string, keys []string) (string, *transport.Delivery, error) {
	res, err := claimScript.Run(ctx, t.client, keys,
		time.Now().UnixMilli(), t.lease.Milliseconds(),
	).Slice()
	if err != nil {
		return "", nil, err
	}
	if len(res) != 4 {
		return "", nil, fmt.Errorf("infinitic/redis: unexpected claim reply of %d items", len(res))
	}

	member, _ := res[0].(string)
	body, _ := res[1].(string)
	n, _ := res[2].(int64)
	key, _ := res[3].(string)

	return member, &transport.Delivery{
		Topic:   topic,
		Key:     key,
		Body:    []byte(body),
		Attempt: int(n),
	}, nil
}

func (t *Transport) ack(ctx context.Context, keys []string, member string) {
	pipe := t.client.TxPipeline()
	pipe.ZRem(ctx, keys[0], member)
	pipe.HDel(ctx, keys[1], member)
	pipe.HDel(ctx, keys[2], member)
	pipe.HDel(ctx, keys[3], member)
	if _, err := pipe.Exec(ctx); err != nil {
		// The lease will expire and the message will be redelivered.
		t.logger.Warn("redis transport ack failed",
			slog.String("member", member),
			slog.String("error", err.Error()),
		)
	}
}

func (t *Transport) nack(ctx context.Context, keys []string, member string) {
	due := time.Now().Add(t.redelivery).UnixMilli()
	if err := t.client.ZAddXX(ctx, keys[0], redis.Z{Score: float64(due), Member: member}).Err(); err != nil {
		t.logger.Warn("redis transport nack failed",
			slog.String("member", member),
			slog.String("error", err.Error()),
		)
	}
}

func (t *Transport) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Len returns the number of messages of a topic, due or not.
func (t *Transport) Len(ctx context.Context, topic string) (int64, error) {
	return t.client.ZCard(ctx, queueKey(topic)).Result()
}

// Close stops consumers at their next claim. It does not close the Redis
// client.
func (t *Transport) Close() error {
	t.closed.Store(true)
	return nil
}
