package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/id"
)

const dlqColumns = `id, topic, key, body, message_kind, entity_id, error,
	attempts, failed_at, replayed_at, created_at, updated_at`

// PushDLQ adds an entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	var replayedAt sql.NullInt64
	if entry.ReplayedAt != nil {
		replayedAt = sql.NullInt64{Int64: entry.ReplayedAt.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO infinitic_dlq (`+dlqColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Topic, entry.Key, entry.Body,
		entry.MessageKind, entry.EntityID, entry.Error, entry.Attempts,
		entry.FailedAt.UnixNano(), replayedAt,
		entry.CreatedAt.UnixNano(), entry.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("infinitic/sqlite: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM infinitic_dlq`
	var args []any

	if opts.Topic != "" {
		query += " WHERE topic = ?"
		args = append(args, opts.Topic)
	}

	query += " ORDER BY failed_at ASC"
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("infinitic/sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("infinitic/sqlite: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("infinitic/sqlite: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dlqColumns+` FROM infinitic_dlq WHERE id = ?`,
		entryID.String(),
	)
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, infinitic.ErrDLQNotFound
		}
		return nil, fmt.Errorf("infinitic/sqlite: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`UPDATE infinitic_dlq SET replayed_at = ?, updated_at = ? WHERE id = ?`,
		now, now, entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("infinitic/sqlite: replay dlq: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("infinitic/sqlite: replay dlq: %w", err)
	}
	if rows == 0 {
		return infinitic.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
// Returns the number of entries removed.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM infinitic_dlq WHERE failed_at < ?`,
		before.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("infinitic/sqlite: purge dlq: %w", err)
	}
	return res.RowsAffected()
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM infinitic_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("infinitic/sqlite: count dlq: %w", err)
	}
	return count, nil
}

func scanDLQ(row rowScanner) (*dlq.Entry, error) {
	var (
		e                              dlq.Entry
		failedAt, createdAt, updatedAt int64
		replayedAt                     sql.NullInt64
	)
	err := row.Scan(
		&e.ID, &e.Topic, &e.Key, &e.Body, &e.MessageKind, &e.EntityID, &e.Error,
		&e.Attempts, &failedAt, &replayedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.FailedAt = time.Unix(0, failedAt).UTC()
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if replayedAt.Valid {
		t := time.Unix(0, replayedAt.Int64).UTC()
		e.ReplayedAt = &t
	}
	return &e, nil
}
