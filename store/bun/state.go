package bunstore

import (
	"context"
	"fmt"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// GetState returns the state of an entity.
func (s *Store) GetState(ctx context.Context, entityID id.ID) (*entity.State, error) {
	m := new(stateModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entityID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, infinitic.ErrStateNotFound
		}
		return nil, fmt.Errorf("infinitic/bun: get state: %w", err)
	}
	return fromStateModel(m)
}

// CreateState inserts a new state with version 1.
func (s *Store) CreateState(ctx context.Context, st *entity.State) error {
	st.Version = 1
	m, err := toStateModel(st)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return infinitic.ErrStateExists
		}
		return fmt.Errorf("infinitic/bun: create state: %w", err)
	}
	return nil
}

// UpdateState replaces the state when the stored version equals
// expectedVersion.
func (s *Store) UpdateState(ctx context.Context, st *entity.State, expectedVersion uint64) error {
	next := *st
	next.Version = expectedVersion + 1
	m, err := toStateModel(&next)
	if err != nil {
		return err
	}

	res, err := s.db.NewUpdate().Model(m).
		Column("status", "name", "data", "version", "updated_at").
		Where("id = ?", m.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("infinitic/bun: update state: %w", err)
	}
	if affected(res) == 0 {
		return infinitic.ErrConflict
	}
	st.Version = next.Version
	return nil
}

// DeleteState removes the state.
func (s *Store) DeleteState(ctx context.Context, entityID id.ID) error {
	_, err := s.db.NewDelete().
		TableExpr("infinitic_states").
		Where("id = ?", entityID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("infinitic/bun: delete state: %w", err)
	}
	return nil
}

// ListStates returns states with the given status, oldest first.
func (s *Store) ListStates(ctx context.Context, status entity.Status, opts entity.ListOpts) ([]*entity.State, error) {
	var models []stateModel
	q := s.db.NewSelect().Model(&models).Where("status = ?", string(status))

	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}

	q = q.Order("created_at ASC", "id ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("infinitic/bun: list states: %w", err)
	}

	states := make([]*entity.State, 0, len(models))
	for i := range models {
		st, err := fromStateModel(&models[i])
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}
