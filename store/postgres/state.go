package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// GetState returns the state of an entity.
func (s *Store) GetState(ctx context.Context, entityID id.ID) (*entity.State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data FROM infinitic_states WHERE id = $1`,
		entityID.String(),
	)
	st, err := scanState(row)
	if err != nil {
		if isNoRows(err) {
			return nil, infinitic.ErrStateNotFound
		}
		return nil, fmt.Errorf("infinitic/postgres: get state: %w", err)
	}
	return st, nil
}

// CreateState inserts a new state with version 1.
func (s *Store) CreateState(ctx context.Context, st *entity.State) error {
	st.Version = 1
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("infinitic/postgres: encode state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO infinitic_states (id, kind, status, name, data, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		st.ID.String(), string(st.Kind), string(st.Status), st.Name,
		data, st.Version, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return infinitic.ErrStateExists
		}
		return fmt.Errorf("infinitic/postgres: create state: %w", err)
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
		return fmt.Errorf("infinitic/postgres: encode state: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE infinitic_states
		SET status = $2, name = $3, data = $4, version = $5, updated_at = $6
		WHERE id = $1 AND version = $7`,
		st.ID.String(), string(st.Status), st.Name, data,
		next.Version, st.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("infinitic/postgres: update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return infinitic.ErrConflict
	}
	st.Version = next.Version
	return nil
}

// DeleteState removes the state.
func (s *Store) DeleteState(ctx context.Context, entityID id.ID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM infinitic_states WHERE id = $1`, entityID.String())
	if err != nil {
		return fmt.Errorf("infinitic/postgres: delete state: %w", err)
	}
	return nil
}

// ListStates returns states with the given status, oldest first.
func (s *Store) ListStates(ctx context.Context, status entity.Status, opts entity.ListOpts) ([]*entity.State, error) {
	query := `SELECT data FROM infinitic_states WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, string(opts.Kind))
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("infinitic/postgres: list states: %w", err)
	}
	defer rows.Close()

	var states []*entity.State
	for rows.Next() {
		st, scanErr := scanState(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("infinitic/postgres: scan state row: %w", scanErr)
		}
		states = append(states, st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("infinitic/postgres: iterate state rows: %w", err)
	}
	return states, nil
}

// scanState decodes the data column of a single state row.
func scanState(row pgx.Row) (*entity.State, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var st entity.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}
