package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/id"
)

func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.db.NewInsert().Model(toDLQModel(entry)).Exec(ctx); err != nil {
		return fmt.Errorf("infinitic/bun: push dlq: %w", err)
	}
	return nil
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	err := s.db.NewSelect().
		Model(&models).
		Apply(func(q *bun.SelectQuery) *bun.SelectQuery {
			if opts.Topic != "" {
				q = q.Where("topic = ?", opts.Topic)
			}
			if opts.Limit > 0 {
				q = q.Limit(opts.Limit)
			}
			return q.Offset(opts.Offset)
		}).
		Order("failed_at", "id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("infinitic/bun: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, len(models))
	for i := range models {
		entries[i] = models[i].entry()
	}
	return entries, nil
}

func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m := &dlqEntryModel{ID: entryID}
	err := s.db.NewSelect().Model(m).WherePK().Scan(ctx)
	switch {
	case isNoRows(err):
		return nil, infinitic.ErrDLQNotFound
	case err != nil:
		return nil, fmt.Errorf("infinitic/bun: get dlq: %w", err)
	}
	return m.entry(), nil
}

func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.NewUpdate().
		Model((*dlqEntryModel)(nil)).
		Set("replayed_at = now()").
		Set("updated_at = now()").
		Where("id = ?", entryID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("infinitic/bun: replay dlq: %w", err)
	}
	if affected(res) == 0 {
		return infinitic.ErrDLQNotFound
	}
	return nil
}

func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("infinitic/bun: purge dlq: %w", err)
	}
	return affected(res), nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().Model((*dlqEntryModel)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("infinitic/bun: count dlq: %w", err)
	}
	return int64(n), nil
}
