package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// ── State model ───────────────────────────────────────────────────

type stateModel struct {
	bun.BaseModel `bun:"table:infinitic_states"`

	ID        string    `bun:"id,pk"`
	Kind      string    `bun:"kind,notnull"`
	Status    string    `bun:"status,notnull"`
	Name      string    `bun:"name,notnull"`
	Data      string    `bun:"data,notnull,type:jsonb"`
	Version   uint64    `bun:"version,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toStateModel(s *entity.State) (*stateModel, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("infinitic/bun: encode state: %w", err)
	}
	return &stateModel{
		ID:        s.ID.String(),
		Kind:      string(s.Kind),
		Status:    string(s.Status),
		Name:      s.Name,
		Data:      string(data),
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}, nil
}

func fromStateModel(m *stateModel) (*entity.State, error) {
	var s entity.State
	if err := json.Unmarshal([]byte(m.Data), &s); err != nil {
		return nil, fmt.Errorf("infinitic/bun: decode state %q: %w", m.ID, err)
	}
	s.Version = m.Version
	return &s, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:infinitic_dlq"`

	ID          id.ID      `bun:"id,pk,type:text"`
	Topic       string     `bun:"topic,notnull"`
	Key         string     `bun:"key,notnull"`
	Body        []byte     `bun:"body,notnull,type:bytea"`
	MessageKind string     `bun:"message_kind,notnull"`
	EntityID    id.ID      `bun:"entity_id,type:text"`
	Error       string     `bun:"error,notnull"`
	Attempts    int        `bun:"attempts,notnull"`
	FailedAt    time.Time  `bun:"failed_at,notnull"`
	ReplayedAt  *time.Time `bun:"replayed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// toDLQModel maps field for field: id.ID scans and values itself.
func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:          e.ID,
		Topic:       e.Topic,
		Key:         e.Key,
		Body:        e.Body,
		MessageKind: e.MessageKind,
		EntityID:    e.EntityID,
		Error:       e.Error,
		Attempts:    e.Attempts,
		FailedAt:    e.FailedAt,
		ReplayedAt:  e.ReplayedAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func (m *dlqEntryModel) entry() *dlq.Entry {
	e := &dlq.Entry{
		ID:          m.ID,
		Topic:       m.Topic,
		Key:         m.Key,
		Body:        m.Body,
		MessageKind: m.MessageKind,
		EntityID:    m.EntityID,
		Error:       m.Error,
		Attempts:    m.Attempts,
		FailedAt:    m.FailedAt,
		ReplayedAt:  m.ReplayedAt,
	}
	e.CreatedAt, e.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return e
}
