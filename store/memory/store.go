// Package memory provides a fully in-memory store backed by go-memdb.
// Safe for concurrent access. Intended for unit testing, development and
// single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// Ensure Store implements the subsystem stores at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ entity.Store = (*Store)(nil)
	_ dlq.Store    = (*Store)(nil)
)

const (
	tableStates = "states"
	tableDLQ    = "dlq"
)

// stateRecord is the indexed row of an entity state. State is never
// shared with callers.
type stateRecord struct {
	ID     string
	Status string
	Kind   string
	State  *entity.State
}

type dlqRecord struct {
	ID    string
	Topic string
	Entry *dlq.Entry
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableStates: {
			Name: tableStates,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"status": {
					Name:    "status",
					Indexer: &memdb.StringFieldIndex{Field: "Status"},
				},
			},
		},
		tableDLQ: {
			Name: tableDLQ,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"topic": {
					Name:         "topic",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Topic"},
				},
			},
		},
	},
}

// Store is an in-memory implementation of the entity and dead letter
// stores.
type Store struct {
	db *memdb.MemDB
}

// New returns a new empty Store.
func New() *Store {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// The schema is static; an error is a programming error.
		panic(fmt.Sprintf("infinitic/memory: invalid schema: %v", err))
	}
	return &Store{db: db}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Entity Store
// ──────────────────────────────────────────────────

// GetState returns a copy of the stored state.
func (m *Store) GetState(_ context.Context, entityID id.ID) (*entity.State, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableStates, "id", entityID.String())
	if err != nil {
		return nil, fmt.Errorf("infinitic/memory: get state: %w", err)
	}
	if raw == nil {
		return nil, infinitic.ErrStateNotFound
	}
	return raw.(*stateRecord).State.Clone(), nil
}

// CreateState stores a copy of s with version 1.
func (m *Store) CreateState(_ context.Context, s *entity.State) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableStates, "id", s.ID.String())
	if err != nil {
		return fmt.Errorf("infinitic/memory: create state: %w", err)
	}
	if raw != nil {
		return infinitic.ErrStateExists
	}

	s.Version = 1
	if err := txn.Insert(tableStates, newStateRecord(s)); err != nil {
		return fmt.Errorf("infinitic/memory: create state: %w", err)
	}
	txn.Commit()
	return nil
}

// UpdateState replaces the stored state when its version equals
// expectedVersion.
func (m *Store) UpdateState(_ context.Context, s *entity.State, expectedVersion uint64) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableStates, "id", s.ID.String())
	if err != nil {
		return fmt.Errorf("infinitic/memory: update state: %w", err)
	}
	if raw == nil || raw.(*stateRecord).State.Version != expectedVersion {
		return infinitic.ErrConflict
	}

	s.Version = expectedVersion + 1
	if err := txn.Insert(tableStates, newStateRecord(s)); err != nil {
		return fmt.Errorf("infinitic/memory: update state: %w", err)
	}
	txn.Commit()
	return nil
}

// DeleteState removes the state. Deleting an absent state is not an error.
func (m *Store) DeleteState(_ context.Context, entityID id.ID) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(tableStates, "id", entityID.String()); err != nil {
		return fmt.Errorf("infinitic/memory: delete state: %w", err)
	}
	txn.Commit()
	return nil
}

// ListStates returns states with the given status, oldest first.
func (m *Store) ListStates(_ context.Context, status entity.Status, opts entity.ListOpts) ([]*entity.State, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableStates, "status", string(status))
	if err != nil {
		return nil, fmt.Errorf("infinitic/memory: list states: %w", err)
	}

	var result []*entity.State
	for raw := it.Next(); raw != nil; raw = it.Next() {
		r := raw.(*stateRecord)
		if opts.Kind != "" && r.Kind != string(opts.Kind) {
			continue
		}
		result = append(result, r.State.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func newStateRecord(s *entity.State) *stateRecord {
	return &stateRecord{
		ID:     s.ID.String(),
		Status: string(s.Status),
		Kind:   string(s.Kind),
		State:  s.Clone(),
	}
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds an entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	cp := *entry
	if err := txn.Insert(tableDLQ, &dlqRecord{ID: entry.ID.String(), Topic: entry.Topic, Entry: &cp}); err != nil {
		return fmt.Errorf("infinitic/memory: push dlq: %w", err)
	}
	txn.Commit()
	return nil
}

// ListDLQ returns DLQ entries, oldest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)
	if opts.Topic != "" {
		it, err = txn.Get(tableDLQ, "topic", opts.Topic)
	} else {
		it, err = txn.Get(tableDLQ, "id")
	}
	if err != nil {
		return nil, fmt.Errorf("infinitic/memory: list dlq: %w", err)
	}

	var result []*dlq.Entry
	for raw := it.Next(); raw != nil; raw = it.Next() {
		cp := *raw.(*dlqRecord).Entry
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.Before(result[j].FailedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableDLQ, "id", entryID.String())
	if err != nil {
		return nil, fmt.Errorf("infinitic/memory: get dlq: %w", err)
	}
	if raw == nil {
		return nil, infinitic.ErrDLQNotFound
	}
	cp := *raw.(*dlqRecord).Entry
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableDLQ, "id", entryID.String())
	if err != nil {
		return fmt.Errorf("infinitic/memory: replay dlq: %w", err)
	}
	if raw == nil {
		return infinitic.ErrDLQNotFound
	}

	rec := raw.(*dlqRecord)
	cp := *rec.Entry
	now := time.Now().UTC()
	cp.ReplayedAt = &now
	cp.UpdatedAt = now
	if err := txn.Insert(tableDLQ, &dlqRecord{ID: rec.ID, Topic: rec.Topic, Entry: &cp}); err != nil {
		return fmt.Errorf("infinitic/memory: replay dlq: %w", err)
	}
	txn.Commit()
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tableDLQ, "id")
	if err != nil {
		return 0, fmt.Errorf("infinitic/memory: purge dlq: %w", err)
	}

	var stale []*dlqRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		if rec := raw.(*dlqRecord); rec.Entry.FailedAt.Before(before) {
			stale = append(stale, rec)
		}
	}
	for _, rec := range stale {
		if err := txn.Delete(tableDLQ, rec); err != nil {
			return 0, fmt.Errorf("infinitic/memory: purge dlq: %w", err)
		}
	}
	txn.Commit()
	return int64(len(stale)), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableDLQ, "id")
	if err != nil {
		return 0, fmt.Errorf("infinitic/memory: count dlq: %w", err)
	}
	var n int64
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n++
	}
	return n, nil
}

// paginate applies offset and limit to a sorted slice.
func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
