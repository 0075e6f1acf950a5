// Package storetest holds the behaviour every store backend must share.
// Backend tests call Run with a constructor for a fresh, migrated store.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// Store is what a backend must implement to run the suite.
type Store interface {
	entity.Store
	dlq.Store
}

// NewState returns a running task state ready to be created.
func NewState(status entity.Status) *entity.State {
	return &entity.State{
		Entity:    infinitic.NewEntity(),
		ID:        id.NewTaskID(),
		Kind:      entity.KindTask,
		Name:      "send-email",
		Input:     entity.MustJSON(map[string]string{"to": "a@b.c"}),
		Status:    status,
		AttemptID: id.NewAttemptID(),
		Meta:      entity.Meta{"trace": []byte("abc")},
		Outbox:    []entity.Pending{{Topic: "t", Key: "k", Body: []byte("b"), After: time.Second}},
	}
}

// Run runs the suite. newStore is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpdateVersion", func(t *testing.T) { testUpdateVersion(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("ConcurrentUpdate", func(t *testing.T) { testConcurrentUpdate(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListStates", func(t *testing.T) { testListStates(t, newStore(t)) })
	t.Run("DLQ", func(t *testing.T) { testDLQ(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s Store) {
	ctx := context.Background()
	st := NewState(entity.StatusRunningOK)
	st.LastError = &entity.AttemptError{Name: "IOError", Message: "boom"}

	require.NoError(t, s.CreateState(ctx, st))
	assert.NotZero(t, st.Version)

	got, err := s.GetState(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, st.Version, got.Version)
	assert.Equal(t, st.Status, got.Status)
	assert.Equal(t, st.AttemptID, got.AttemptID)
	assert.Equal(t, st.Input, got.Input)
	assert.Equal(t, st.Meta, got.Meta)
	assert.Equal(t, st.Outbox, got.Outbox)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "boom", got.LastError.Message)

	// The returned state is a copy.
	got.Name = "changed"
	again, err := s.GetState(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "send-email", again.Name)
}

func testCreateDuplicate(t *testing.T, s Store) {
	ctx := context.Background()
	st := NewState(entity.StatusRunningOK)
	require.NoError(t, s.CreateState(ctx, st))

	dup := NewState(entity.StatusRunningOK)
	dup.ID = st.ID
	assert.ErrorIs(t, s.CreateState(ctx, dup), infinitic.ErrStateExists)
}

func testGetMissing(t *testing.T, s Store) {
	_, err := s.GetState(context.Background(), id.NewTaskID())
	assert.ErrorIs(t, err, infinitic.ErrStateNotFound)
}

func testUpdateVersion(t *testing.T, s Store) {
	ctx := context.Background()
	st := NewState(entity.StatusRunningOK)
	require.NoError(t, s.CreateState(ctx, st))
	v1 := st.Version

	st.Status = entity.StatusRunningWarning
	st.AttemptRetry = 1
	st.Outbox = nil
	require.NoError(t, s.UpdateState(ctx, st, v1))
	assert.NotEqual(t, v1, st.Version)

	got, err := s.GetState(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRunningWarning, got.Status)
	assert.Equal(t, uint64(1), got.AttemptRetry)
	assert.Empty(t, got.Outbox)
	assert.Equal(t, st.Version, got.Version)

	// The first version is gone.
	stale := got.Clone()
	stale.AttemptRetry = 5
	assert.ErrorIs(t, s.UpdateState(ctx, stale, v1), infinitic.ErrConflict)
}

func testUpdateMissing(t *testing.T, s Store) {
	st := NewState(entity.StatusRunningOK)
	assert.ErrorIs(t, s.UpdateState(context.Background(), st, 1), infinitic.ErrConflict)
}

func testConcurrentUpdate(t *testing.T, s Store) {
	ctx := context.Background()
	st := NewState(entity.StatusRunningOK)
	require.NoError(t, s.CreateState(ctx, st))
	base := st.Version

	const writers = 8
	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := st.Clone()
			cp.AttemptRetry = uint64(i + 1)
			err := s.UpdateState(ctx, cp, base)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, infinitic.ErrConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load(), "exactly one conditional update must win")
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	st := NewState(entity.StatusRunningOK)
	require.NoError(t, s.CreateState(ctx, st))

	require.NoError(t, s.DeleteState(ctx, st.ID))
	_, err := s.GetState(ctx, st.ID)
	assert.ErrorIs(t, err, infinitic.ErrStateNotFound)

	// Deleting again is not an error.
	require.NoError(t, s.DeleteState(ctx, st.ID))

	// A deleted state cannot be updated.
	assert.ErrorIs(t, s.UpdateState(ctx, st, st.Version), infinitic.ErrConflict)
}

func testListStates(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	var errored []*entity.State
	for i := range 3 {
		st := NewState(entity.StatusRunningError)
		st.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateState(ctx, st))
		errored = append(errored, st)
	}
	job := NewState(entity.StatusRunningError)
	job.ID = id.NewJobID()
	job.Kind = entity.KindJob
	job.CreatedAt = base.Add(10 * time.Minute)
	require.NoError(t, s.CreateState(ctx, job))
	require.NoError(t, s.CreateState(ctx, NewState(entity.StatusRunningOK)))

	all, err := s.ListStates(ctx, entity.StatusRunningError, entity.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, st := range errored {
		assert.Equal(t, st.ID, all[i].ID, "oldest first")
	}

	tasks, err := s.ListStates(ctx, entity.StatusRunningError, entity.ListOpts{Kind: entity.KindTask})
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	page, err := s.ListStates(ctx, entity.StatusRunningError, entity.ListOpts{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, errored[1].ID, page[0].ID)
	assert.Equal(t, errored[2].ID, page[1].ID)

	none, err := s.ListStates(ctx, entity.StatusRunningWarning, entity.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func newDLQEntry(topic string, failedAt time.Time) *dlq.Entry {
	return &dlq.Entry{
		Entity:      infinitic.NewEntity(),
		ID:          id.NewDLQID(),
		Topic:       topic,
		Key:         "task_key",
		Body:        []byte(`{"kind":"cancel"}`),
		MessageKind: "cancel",
		EntityID:    id.NewTaskID(),
		Error:       "boom",
		Attempts:    3,
		FailedAt:    failedAt,
	}
}

func testDLQ(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	old := newDLQEntry("infinitic.task.engine", now.Add(-2*time.Hour))
	recent := newDLQEntry("infinitic.job.engine", now.Add(-time.Minute))
	require.NoError(t, s.PushDLQ(ctx, old))
	require.NoError(t, s.PushDLQ(ctx, recent))

	got, err := s.GetDLQ(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, old.Topic, got.Topic)
	assert.Equal(t, old.Body, got.Body)
	assert.Equal(t, old.EntityID, got.EntityID)
	assert.Equal(t, 3, got.Attempts)
	assert.Nil(t, got.ReplayedAt)

	_, err = s.GetDLQ(ctx, id.NewDLQID())
	assert.ErrorIs(t, err, infinitic.ErrDLQNotFound)

	all, err := s.ListDLQ(ctx, dlq.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, old.ID, all[0].ID, "oldest first")

	byTopic, err := s.ListDLQ(ctx, dlq.ListOpts{Topic: "infinitic.job.engine"})
	require.NoError(t, err)
	require.Len(t, byTopic, 1)
	assert.Equal(t, recent.ID, byTopic[0].ID)

	require.NoError(t, s.ReplayDLQ(ctx, old.ID))
	got, err = s.GetDLQ(ctx, old.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ReplayedAt)
	assert.ErrorIs(t, s.ReplayDLQ(ctx, id.NewDLQID()), infinitic.ErrDLQNotFound)

	n, err := s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	purged, err := s.PurgeDLQ(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	n, err = s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
