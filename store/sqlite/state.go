package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetState returns the state of an entity.
func (s *Store) GetState(ctx context.Context, entityID id.ID) (*entity.State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data, version FROM infinitic_states WHERE id = ?`,
		entityID.String(),
	)
	st, err := scanState(row)
	if err != nil {
		if isNoRows(err) {
			return nil, infinitic.ErrStateNotFound
		}
		return nil, fmt.Errorf("infinitic/sqlite: get state: %w", err)
	}
	return st, nil
}

// CreateState inserts a new state with version 1.
func (s *Store) CreateState(ctx context.Context, st *entity.State) error {
	st.Version = 1
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("infinitic/sqlite: encode state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO infinitic_states (id, kind, status, name, data, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID.String(), string(st.Kind), string(st.Status), st.Name,
		data, st.Version, st.CreatedAt.UnixNano(), st.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return infinitic.ErrStateExists
		}
		return fmt.Errorf("infinitic/sqlite: create state: %w", err)
	}
	return nil
}

// UpdateState replaces the state when the stored version equals
// expectedVersion.
func (s *Store) UpdateState(ctx context.Context, st *entity.State, expectedVersion uint64) error {
	next := *st
	next.Version = expectedVersion + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("infinitic/sqlite: encode state: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE infinitic_states
		SET status = ?, name = ?, data = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(st.Status), st.Name, data, next.Version, st.UpdatedAt.UnixNano(),
		st.ID.String(), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("infinitic/sqlite: update state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("infinitic/sqlite: update state: %w", err)
	}
	if rows == 0 {
		return infinitic.ErrConflict
	}
	st.Version = next.Version
	return nil
}

// DeleteState removes the state.
func (s *Store) DeleteState(ctx context.Context, entityID id.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM infinitic_states WHERE id = ?`, entityID.String())
	if err != nil {
		return fmt.Errorf("infinitic/sqlite: delete state: %w", err)
	}
	return nil
}

// ListStates returns states with the given status, oldest first.
func (s *Store) ListStates(ctx context.Context, status entity.Status, opts entity.ListOpts) ([]*entity.State, error) {
	query := `SELECT data, version FROM infinitic_states WHERE status = ?`
	args := []any{string(status)}

	if opts.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(opts.Kind))
	}

	query += " ORDER BY created_at ASC, id ASC"
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("infinitic/sqlite: list states: %w", err)
	}
	defer rows.Close()

	var states []*entity.State
	for rows.Next() {
		st, scanErr := scanState(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("infinitic/sqlite: scan state row: %w", scanErr)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("infinitic/sqlite: iterate state rows: %w", err)
	}
	return states, nil
}

func scanState(row rowScanner) (*entity.State, error) {
	var (
		data    []byte
		version uint64
	)
	if err := row.Scan(&data, &version); err != nil {
		return nil, err
	}
	var st entity.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.Version = version
	return &st, nil
}

// paginate appends LIMIT and OFFSET clauses. SQLite needs a LIMIT for an
// OFFSET; -1 means no limit.
func paginate(query string, args []any, limit, offset int) (string, []any) {
	switch {
	case limit > 0:
		query += " LIMIT ?"
		args = append(args, limit)
	case offset > 0:
		query += " LIMIT -1"
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}
