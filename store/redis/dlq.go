package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/id"
)

// PushDLQ adds an entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	score := float64(entry.FailedAt.UnixNano())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.ZAdd(ctx, dlqIndexKey, goredis.Z{Score: score, Member: eID})
	pipe.ZAdd(ctx, dlqTopicKey(entry.Topic), goredis.Z{Score: score, Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("infinitic/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	index := dlqIndexKey
	if opts.Topic != "" {
		index = dlqTopicKey(opts.Topic)
	}

	start, stop := int64(opts.Offset), int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}
	ids, err := s.client.ZRange(ctx, index, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("infinitic/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("infinitic/redis: list dlq: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("infinitic/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, infinitic.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("infinitic/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return infinitic.ErrDLQNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key, "replayed_at", now, "updated_at", now).Err(); err != nil {
		return fmt.Errorf("infinitic/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, dlqIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("infinitic/redis: purge dlq range: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		topic, getErr := s.client.HGet(ctx, key, "topic").Result()
		if getErr != nil && getErr != goredis.Nil {
			return purged, fmt.Errorf("infinitic/redis: purge dlq get: %w", getErr)
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, dlqIndexKey, eID)
		pipe.ZRem(ctx, dlqTopicKey(topic), eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return purged, fmt.Errorf("infinitic/redis: purge dlq del: %w", pErr)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, dlqIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("infinitic/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]any {
	m := map[string]any{
		"id":           e.ID.String(),
		"topic":        e.Topic,
		"key":          e.Key,
		"body":         string(e.Body),
		"message_kind": e.MessageKind,
		"entity_id":    e.EntityID.String(),
		"error":        e.Error,
		"attempts":     strconv.Itoa(e.Attempts),
		"failed_at":    e.FailedAt.Format(time.RFC3339Nano),
		"created_at":   e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   e.UpdatedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("infinitic/redis: parse dlq id: %w", err)
	}
	var entityID id.ID
	if v := m["entity_id"]; v != "" {
		entityID, _ = id.Parse(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		Entity:      infinitic.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:          eID,
		Topic:       m["topic"],
		Key:         m["key"],
		Body:        []byte(m["body"]),
		MessageKind: m["message_kind"],
		EntityID:    entityID,
		Error:       m["error"],
		Attempts:    attempts,
		FailedAt:    failedAt,
	}

	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	return e, nil
}
