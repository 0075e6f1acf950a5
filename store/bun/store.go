package bunstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ entity.Store = (*Store)(nil)
	_ dlq.Store    = (*Store)(nil)
)

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store. The caller owns the db: Close does not close
// it.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// schemaLock serializes Migrate across processes sharing a database.
const schemaLock int64 = 0x1f1f_2c0e

type index struct {
	model   any
	name    string
	columns []string
}

var indexes = []index{
	{(*stateModel)(nil), "idx_infinitic_states_status", []string{"status", "created_at"}},
	{(*stateModel)(nil), "idx_infinitic_states_kind", []string{"kind", "status"}},
	{(*dlqEntryModel)(nil), "idx_infinitic_dlq_topic", []string{"topic", "failed_at"}},
}

// Migrate creates the tables and indexes described by the bun models. It is
// idempotent and holds an advisory lock for the whole transaction.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", schemaLock); err != nil {
			return fmt.Errorf("infinitic/bun: lock schema: %w", err)
		}

		for _, model := range []any{(*stateModel)(nil), (*dlqEntryModel)(nil)} {
			if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("infinitic/bun: create table for %T: %w", model, err)
			}
		}
		for _, ix := range indexes {
			_, err := tx.NewCreateIndex().
				Model(ix.model).
				Index(ix.name).
				Column(ix.columns...).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("infinitic/bun: create index %s: %w", ix.name, err)
			}
		}

		s.logger.Debug("schema ready", slog.Int("indexes", len(indexes)))
		return nil
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
