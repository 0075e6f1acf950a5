package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// createScript inserts a state unless one exists.
// KEYS: state, status index, kind index. ARGV: data, version, status, kind, score, id.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', ARGV[2], 'status', ARGV[3], 'kind', ARGV[4], 'score', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[6])
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[6])
return 1
`)

// updateScript replaces a state whose version equals the expected one and
// moves it between status indexes.
// KEYS: state. ARGV: expected version, data, new version, status, id, key prefix.
var updateScript = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'version', 'status', 'kind', 'score')
if not cur[1] or cur[1] ~= ARGV[1] then
	return 0
end
if cur[2] ~= ARGV[4] then
	redis.call('ZREM', ARGV[6] .. 'states:' .. cur[2], ARGV[5])
	redis.call('ZREM', ARGV[6] .. 'states:' .. cur[2] .. ':' .. cur[3], ARGV[5])
	redis.call('ZADD', ARGV[6] .. 'states:' .. ARGV[4], cur[4], ARGV[5])
	redis.call('ZADD', ARGV[6] .. 'states:' .. ARGV[4] .. ':' .. cur[3], cur[4], ARGV[5])
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', ARGV[3], 'status', ARGV[4])
return 1
`)

// deleteScript removes a state and its index entries.
// KEYS: state. ARGV: id, key prefix.
var deleteScript = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'status', 'kind')
if not cur[1] then
	return 0
end
redis.call('ZREM', ARGV[2] .. 'states:' .. cur[1], ARGV[1])
redis.call('ZREM', ARGV[2] .. 'states:' .. cur[1] .. ':' .. cur[2], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// GetState returns the state of an entity.
func (s *Store) GetState(ctx context.Context, entityID id.ID) (*entity.State, error) {
	vals, err := s.client.HMGet(ctx, stateKey(entityID.String()), "data", "version").Result()
	if err != nil {
		return nil, fmt.Errorf("infinitic/redis: get state: %w", err)
	}
	if vals[0] == nil {
		return nil, infinitic.ErrStateNotFound
	}
	return decodeState(vals[0], vals[1])
}

// CreateState inserts a new state with version 1.
func (s *Store) CreateState(ctx context.Context, st *entity.State) error {
	st.Version = 1
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("infinitic/redis: encode state: %w", err)
	}

	sid := st.ID.String()
	created, err := createScript.Run(ctx, s.client,
		[]string{stateKey(sid), statusIndexKey(string(st.Status)), kindIndexKey(string(st.Status), string(st.Kind))},
		data, st.Version, string(st.Status), string(st.Kind), st.CreatedAt.UnixNano(), sid,
	).Int()
	if err != nil {
		return fmt.Errorf("infinitic/redis: create state: %w", err)
	}
	if created == 0 {
		return infinitic.ErrStateExists
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
		return fmt.Errorf("infinitic/redis: encode state: %w", err)
	}

	sid := st.ID.String()
	updated, err := updateScript.Run(ctx, s.client,
		[]string{stateKey(sid)},
		strconv.FormatUint(expectedVersion, 10), data, next.Version, string(st.Status), sid, keyPrefix,
	).Int()
	if err != nil {
		return fmt.Errorf("infinitic/redis: update state: %w", err)
	}
	if updated == 0 {
		return infinitic.ErrConflict
	}
	st.Version = next.Version
	return nil
}

// DeleteState removes the state.
func (s *Store) DeleteState(ctx context.Context, entityID id.ID) error {
	sid := entityID.String()
	if err := deleteScript.Run(ctx, s.client, []string{stateKey(sid)}, sid, keyPrefix).Err(); err != nil {
		return fmt.Errorf("infinitic/redis: delete state: %w", err)
	}
	return nil
}

// ListStates returns states with the given status, oldest first.
func (s *Store) ListStates(ctx context.Context, status entity.Status, opts entity.ListOpts) ([]*entity.State, error) {
	index := statusIndexKey(string(status))
	if opts.Kind != "" {
		index = kindIndexKey(string(status), string(opts.Kind))
	}

	start, stop := int64(opts.Offset), int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}
	ids, err := s.client.ZRange(ctx, index, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("infinitic/redis: list states: %w", err)
	}

	states := make([]*entity.State, 0, len(ids))
	for _, sid := range ids {
		vals, getErr := s.client.HMGet(ctx, stateKey(sid), "data", "version").Result()
		if getErr != nil {
			return nil, fmt.Errorf("infinitic/redis: list states: %w", getErr)
		}
		if vals[0] == nil {
			// Deleted since the range was read.
			continue
		}
		st, decErr := decodeState(vals[0], vals[1])
		if decErr != nil {
			return nil, decErr
		}
		states = append(states, st)
	}
	return states, nil
}

func decodeState(data, version any) (*entity.State, error) {
	raw, ok := data.(string)
	if !ok {
		return nil, errors.New("infinitic/redis: state data is not a string")
	}
	var st entity.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("infinitic/redis: decode state: %w", err)
	}
	if v, ok := version.(string); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("infinitic/redis: parse version: %w", err)
		}
		st.Version = n
	}
	return &st, nil
}
