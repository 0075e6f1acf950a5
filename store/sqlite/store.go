package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ entity.Store = (*Store)(nil)
	_ dlq.Store    = (*Store)(nil)
)

// migrations are applied in order; the index of a statement is its
// schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS infinitic_states (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		status      TEXT NOT NULL,
		name        TEXT NOT NULL,
		data        BLOB NOT NULL,
		version     INTEGER NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_infinitic_states_status
		ON infinitic_states (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS infinitic_dlq (
		id            TEXT PRIMARY KEY,
		topic         TEXT NOT NULL,
		key           TEXT NOT NULL,
		body          BLOB NOT NULL,
		message_kind  TEXT NOT NULL DEFAULT '',
		entity_id     TEXT,
		error         TEXT NOT NULL,
		attempts      INTEGER NOT NULL DEFAULT 0,
		failed_at     INTEGER NOT NULL,
		replayed_at   INTEGER,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_infinitic_dlq_topic
		ON infinitic_dlq (topic, failed_at)`,
}

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	owned  bool
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

// Open opens the database at dsn. The returned Store owns the connection
// and closes it on Close. Writes are serialized on a single connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("infinitic/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("infinitic/sqlite: connect: %w", err)
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// New creates a store on an existing handle. The caller owns the db
// lifecycle; the Store will not close it on Close().
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate applies the statements newer than the schema version recorded
// in PRAGMA user_version.
func (s *Store) Migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("infinitic/sqlite: read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("infinitic/sqlite: migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			return fmt.Errorf("infinitic/sqlite: record migration %d: %w", i+1, err)
		}
		s.logger.Info("applied migration", slog.Int("version", i+1))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
