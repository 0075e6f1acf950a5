package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// GetState returns the state of an entity.
func (s *Store) GetState(ctx context.Context, entityID id.ID) (*entity.State, error) {
	var m stateModel
	err := s.db.Collection(colStates).FindOne(ctx, bson.M{"_id": entityID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, infinitic.ErrStateNotFound
		}
		return nil, fmt.Errorf("infinitic/mongo: get state: %w", err)
	}
	return fromStateModel(&m)
}

// CreateState inserts a new state with version 1.
func (s *Store) CreateState(ctx context.Context, st *entity.State) error {
	st.Version = 1
	m, err := toStateModel(st)
	if err != nil {
		return err
	}
	if _, err := s.db.Collection(colStates).InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return infinitic.ErrStateExists
		}
		return fmt.Errorf("infinitic/mongo: create state: %w", err)
	}
	return nil
}

// UpdateState replaces the state when the stored version equals
// expectedVersion.
func (s *Store) UpdateState(ctx context.Context, st *entity.State, expectedVersion uint64) error {
	next := *st
	next.Version = expectedVersion + 1
	next.UpdatedAt = now()
	m, err := toStateModel(&next)
	if err != nil {
		return err
	}

	res, err := s.db.Collection(colStates).ReplaceOne(ctx,
		bson.M{"_id": m.ID, "version": int64(expectedVersion)}, //nolint:gosec // versions stay far below MaxInt64
		m,
	)
	if err != nil {
		return fmt.Errorf("infinitic/mongo: update state: %w", err)
	}
	if res.MatchedCount == 0 {
		return infinitic.ErrConflict
	}
	st.Version = next.Version
	st.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteState removes the state.
func (s *Store) DeleteState(ctx context.Context, entityID id.ID) error {
	if _, err := s.db.Collection(colStates).DeleteOne(ctx, bson.M{"_id": entityID.String()}); err != nil {
		return fmt.Errorf("infinitic/mongo: delete state: %w", err)
	}
	return nil
}

// ListStates returns states with the given status, oldest first.
func (s *Store) ListStates(ctx context.Context, status entity.Status, opts entity.ListOpts) ([]*entity.State, error) {
	filter := bson.M{"status": string(status)}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colStates).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("infinitic/mongo: list states: %w", err)
	}
	defer cursor.Close(ctx)

	var models []stateModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("infinitic/mongo: list states decode: %w", err)
	}

	states := make([]*entity.State, 0, len(models))
	for i := range models {
		st, convErr := fromStateModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		states = append(states, st)
	}
	return states, nil
}
