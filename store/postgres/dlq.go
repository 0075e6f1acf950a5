package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/id"
)

const selectDLQ = `SELECT id, topic, key, body, message_kind, entity_id, error,
	attempts, failed_at, replayed_at, created_at, updated_at
	FROM infinitic_dlq`

func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO infinitic_dlq (id, topic, key, body, message_kind, entity_id, error,
			attempts, failed_at, replayed_at, created_at, updated_at)
		VALUES (@id, @topic, @key, @body, @kind, @entity, @error,
			@attempts, @failed, @replayed, @created, @updated)`,
		pgx.NamedArgs{
			"id":       entry.ID,
			"topic":    entry.Topic,
			"key":      entry.Key,
			"body":     entry.Body,
			"kind":     entry.MessageKind,
			"entity":   entry.EntityID,
			"error":    entry.Error,
			"attempts": entry.Attempts,
			"failed":   entry.FailedAt,
			"replayed": entry.ReplayedAt,
			"created":  entry.CreatedAt,
			"updated":  entry.UpdatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("infinitic/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ relies on LIMIT NULL meaning no limit.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	rows, err := s.pool.Query(ctx, selectDLQ+`
		WHERE @topic = '' OR topic = @topic
		ORDER BY failed_at, id
		LIMIT NULLIF(@limit, 0) OFFSET @offset`,
		pgx.NamedArgs{
			"topic":  opts.Topic,
			"limit":  int64(opts.Limit),
			"offset": int64(opts.Offset),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("infinitic/postgres: list dlq: %w", err)
	}
	entries, err := pgx.CollectRows(rows, dlqRow)
	if err != nil {
		return nil, fmt.Errorf("infinitic/postgres: list dlq: %w", err)
	}
	return entries, nil
}

func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	rows, err := s.pool.Query(ctx, selectDLQ+` WHERE id = $1`, entryID)
	if err != nil {
		return nil, fmt.Errorf("infinitic/postgres: get dlq: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, dlqRow)
	switch {
	case isNoRows(err):
		return nil, infinitic.ErrDLQNotFound
	case err != nil:
		return nil, fmt.Errorf("infinitic/postgres: get dlq: %w", err)
	}
	return e, nil
}

func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE infinitic_dlq SET replayed_at = now(), updated_at = now() WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("infinitic/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return infinitic.ErrDLQNotFound
	}
	return nil
}

func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM infinitic_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("infinitic/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM infinitic_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("infinitic/postgres: count dlq: %w", err)
	}
	return n, nil
}

func dlqRow(row pgx.CollectableRow) (*dlq.Entry, error) {
	e := new(dlq.Entry)
	err := row.Scan(
		&e.ID, &e.Topic, &e.Key, &e.Body, &e.MessageKind, &e.EntityID, &e.Error,
		&e.Attempts, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}
