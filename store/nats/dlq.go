package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/id"
)

// PushDLQ adds an entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("infinitic/nats: encode dlq: %w", err)
	}
	if _, err := s.dlq.Put(ctx, entry.ID.String(), data); err != nil {
		return fmt.Errorf("infinitic/nats: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	all, err := s.allDLQ(ctx)
	if err != nil {
		return nil, err
	}

	entries := all[:0]
	for _, e := range all {
		if opts.Topic == "" || e.Topic == opts.Topic {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FailedAt.Before(entries[j].FailedAt) })
	return paginate(entries, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	kve, err := s.dlq.Get(ctx, entryID.String())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, infinitic.ErrDLQNotFound
		}
		return nil, fmt.Errorf("infinitic/nats: get dlq: %w", err)
	}
	return decodeEntry(kve)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	e, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		return err
	}
	t := time.Now().UTC()
	e.ReplayedAt = &t
	e.UpdatedAt = t
	return s.PushDLQ(ctx, e)
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	all, err := s.allDLQ(ctx)
	if err != nil {
		return 0, err
	}
	var purged int64
	for _, e := range all {
		if !e.FailedAt.Before(before) {
			continue
		}
		if err := s.dlq.Purge(ctx, e.ID.String()); err != nil {
			return purged, fmt.Errorf("infinitic/nats: purge dlq: %w", err)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	ks, err := keys(ctx, s.dlq)
	if err != nil {
		return 0, fmt.Errorf("infinitic/nats: count dlq: %w", err)
	}
	return int64(len(ks)), nil
}

func (s *Store) allDLQ(ctx context.Context) ([]*dlq.Entry, error) {
	ks, err := keys(ctx, s.dlq)
	if err != nil {
		return nil, fmt.Errorf("infinitic/nats: list dlq: %w", err)
	}
	entries := make([]*dlq.Entry, 0, len(ks))
	for _, k := range ks {
		kve, getErr := s.dlq.Get(ctx, k)
		if errors.Is(getErr, jetstream.ErrKeyNotFound) {
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("infinitic/nats: list dlq: %w", getErr)
		}
		e, decErr := decodeEntry(kve)
		if decErr != nil {
			return nil, decErr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeEntry(kve jetstream.KeyValueEntry) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		return nil, fmt.Errorf("infinitic/nats: decode dlq %s: %w", kve.Key(), err)
	}
	return &e, nil
}
