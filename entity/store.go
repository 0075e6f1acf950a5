package entity

import (
	"context"

	"github.com/alpex29/infinitic/id"
)

// ListOpts controls pagination for status queries.
type ListOpts struct {
	// Limit is the maximum number of states to return. Zero means no limit.
	Limit int
	// Offset is the number of states to skip.
	Offset int
	// Kind filters by entity kind. Empty means all kinds.
	Kind Kind
}

// Store defines the persistence contract for entity states.
//
// Every write assigns a new Version to the passed State. Update is the
// only conditional operation: it succeeds only if the stored Version still
// equals expectedVersion, which is how concurrent consumers of the same
// entity detect each other without locks.
type Store interface {
	// GetState returns the state of an entity, or infinitic.ErrStateNotFound.
	GetState(ctx context.Context, entityID id.ID) (*State, error)

	// CreateState stores a new state. Returns infinitic.ErrStateExists when
	// a state with the same id is already stored.
	CreateState(ctx context.Context, s *State) error

	// UpdateState replaces the stored state if its version equals
	// expectedVersion. Returns infinitic.ErrConflict otherwise, including
	// when the state was deleted in between.
	UpdateState(ctx context.Context, s *State, expectedVersion uint64) error

	// DeleteState removes the state unconditionally. Deleting an absent
	// state is not an error.
	DeleteState(ctx context.Context, entityID id.ID) error

	// ListStates returns states with the given status, oldest first.
	ListStates(ctx context.Context, status Status, opts ListOpts) ([]*State, error)
}
