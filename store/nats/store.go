package natsstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
)

// Bucket names.
const (
	bucketStates = "infinitic_states"
	bucketDLQ    = "infinitic_dlq"
)

// Compile-time interface checks.
var (
	_ entity.Store = (*Store)(nil)
	_ dlq.Store    = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithReplicas sets the replica count of the buckets created by Migrate.
func WithReplicas(n int) Option {
	return func(s *Store) { s.replicas = n }
}

// Store implements store.Store on JetStream KV. The caller owns the NATS
// connection.
type Store struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	replicas int
	logger   *slog.Logger

	states jetstream.KeyValue
	dlq    jetstream.KeyValue
}

// New creates a store on an open NATS connection. Migrate must run before
// any other call.
func New(nc *nats.Conn, opts ...Option) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("infinitic/nats: jetstream: %w", err)
	}
	s := &Store{nc: nc, js: js, replicas: 1, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Migrate creates or binds the key-value buckets.
func (s *Store) Migrate(ctx context.Context) error {
	states, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucketStates,
		Description: "infinitic entity states",
		History:     1,
		Replicas:    s.replicas,
	})
	if err != nil {
		return fmt.Errorf("infinitic/nats: migrate %s: %w", bucketStates, err)
	}
	dlqKV, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucketDLQ,
		Description: "infinitic dead letters",
		History:     1,
		Replicas:    s.replicas,
	})
	if err != nil {
		return fmt.Errorf("infinitic/nats: migrate %s: %w", bucketDLQ, err)
	}
	s.states, s.dlq = states, dlqKV
	return nil
}

// Ping verifies the NATS connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.js.AccountInfo(ctx); err != nil {
		return fmt.Errorf("infinitic/nats: ping: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the connection.
func (s *Store) Close() error { return nil }

// keys returns every live key of a bucket.
func keys(ctx context.Context, kv jetstream.KeyValue) ([]string, error) {
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = lister.Stop() }()

	var out []string
	for k := range lister.Keys() {
		out = append(out, k)
	}
	return out, nil
}

// isWrongRevision reports a failed revision check on update.
func isWrongRevision(err error) bool {
	var jsErr jetstream.JetStreamError
	if errors.As(err, &jsErr) && jsErr.APIError() != nil {
		return jsErr.APIError().ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}
