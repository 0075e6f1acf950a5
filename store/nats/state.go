package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// GetState returns the state of an entity.
func (s *Store) GetState(ctx context.Context, entityID id.ID) (*entity.State, error) {
	e, err := s.states.Get(ctx, entityID.String())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, infinitic.ErrStateNotFound
		}
		return nil, fmt.Errorf("infinitic/nats: get state: %w", err)
	}
	return decodeState(e)
}

// CreateState stores a new state. Its version is the assigned revision.
func (s *Store) CreateState(ctx context.Context, st *entity.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("infinitic/nats: encode state: %w", err)
	}
	rev, err := s.states.Create(ctx, st.ID.String(), data)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return infinitic.ErrStateExists
		}
		return fmt.Errorf("infinitic/nats: create state: %w", err)
	}
	st.Version = rev
	return nil
}

// UpdateState replaces the state when its last revision equals
// expectedVersion.
func (s *Store) UpdateState(ctx context.Context, st *entity.State, expectedVersion uint64) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("infinitic/nats: encode state: %w", err)
	}
	rev, err := s.states.Update(ctx, st.ID.String(), data, expectedVersion)
	if err != nil {
		if isWrongRevision(err) || errors.Is(err, jetstream.ErrKeyExists) {
			return infinitic.ErrConflict
		}
		return fmt.Errorf("infinitic/nats: update state: %w", err)
	}
	st.Version = rev
	return nil
}

// DeleteState removes the state.
func (s *Store) DeleteState(ctx context.Context, entityID id.ID) error {
	if err := s.states.Delete(ctx, entityID.String()); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("infinitic/nats: delete state: %w", err)
	}
	return nil
}

// ListStates scans the bucket for states with the given status, oldest
// first.
func (s *Store) ListStates(ctx context.Context, status entity.Status, opts entity.ListOpts) ([]*entity.State, error) {
	ks, err := keys(ctx, s.states)
	if err != nil {
		return nil, fmt.Errorf("infinitic/nats: list states: %w", err)
	}

	var states []*entity.State
	for _, k := range ks {
		e, getErr := s.states.Get(ctx, k)
		if errors.Is(getErr, jetstream.ErrKeyNotFound) {
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("infinitic/nats: list states: %w", getErr)
		}
		st, decErr := decodeState(e)
		if decErr != nil {
			return nil, decErr
		}
		if st.Status != status || (opts.Kind != "" && st.Kind != opts.Kind) {
			continue
		}
		states = append(states, st)
	}

	sort.Slice(states, func(i, j int) bool {
		if !states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].CreatedAt.Before(states[j].CreatedAt)
		}
		return states[i].ID.String() < states[j].ID.String()
	})
	return paginate(states, opts.Offset, opts.Limit), nil
}

func decodeState(e jetstream.KeyValueEntry) (*entity.State, error) {
	var st entity.State
	if err := json.Unmarshal(e.Value(), &st); err != nil {
		return nil, fmt.Errorf("infinitic/nats: decode state %s: %w", e.Key(), err)
	}
	st.Version = e.Revision()
	return &st, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
