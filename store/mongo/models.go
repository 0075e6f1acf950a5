package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// ── State model ───────────────────────────────────────────────────

type stateModel struct {
	ID        string    `bson:"_id"`
	Kind      string    `bson:"kind"`
	Status    string    `bson:"status"`
	Name      string    `bson:"name"`
	Data      string    `bson:"data"`
	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toStateModel(s *entity.State) (*stateModel, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("infinitic/mongo: encode state %s: %w", s.ID, err)
	}
	return &stateModel{
		ID:        s.ID.String(),
		Kind:      string(s.Kind),
		Status:    string(s.Status),
		Name:      s.Name,
		Data:      string(data),
		Version:   int64(s.Version), //nolint:gosec // versions stay far below MaxInt64
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}, nil
}

func fromStateModel(m *stateModel) (*entity.State, error) {
	var s entity.State
	if err := json.Unmarshal([]byte(m.Data), &s); err != nil {
		return nil, fmt.Errorf("infinitic/mongo: decode state %q: %w", m.ID, err)
	}
	s.Version = uint64(m.Version) //nolint:gosec // stored versions are positive
	return &s, nil
}

// ── DLQ entry model ───────────────────────────────────────────────

type dlqEntryModel struct {
	ID          string     `bson:"_id"`
	Topic       string     `bson:"topic"`
	Key         string     `bson:"key"`
	Body        []byte     `bson:"body"`
	MessageKind string     `bson:"message_kind"`
	EntityID    string     `bson:"entity_id,omitempty"`
	Error       string     `bson:"error"`
	Attempts    int        `bson:"attempts"`
	FailedAt    time.Time  `bson:"failed_at"`
	ReplayedAt  *time.Time `bson:"replayed_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	m := &dlqEntryModel{
		ID:          e.ID.String(),
		Topic:       e.Topic,
		Key:         e.Key,
		Body:        e.Body,
		MessageKind: e.MessageKind,
		Error:       e.Error,
		Attempts:    e.Attempts,
		FailedAt:    e.FailedAt,
		ReplayedAt:  e.ReplayedAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if !e.EntityID.IsNil() {
		m.EntityID = e.EntityID.String()
	}
	return m
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("infinitic/mongo: parse dlq id %q: %w", m.ID, err)
	}

	e := &dlq.Entry{
		Entity: infinitic.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Topic:       m.Topic,
		Key:         m.Key,
		Body:        m.Body,
		MessageKind: m.MessageKind,
		Error:       m.Error,
		Attempts:    m.Attempts,
		FailedAt:    m.FailedAt,
		ReplayedAt:  m.ReplayedAt,
	}
	if m.EntityID != "" {
		entityID, parseErr := id.ParseEntityID(m.EntityID)
		if parseErr != nil {
			return nil, fmt.Errorf("infinitic/mongo: parse entity id %q: %w", m.EntityID, parseErr)
		}
		e.EntityID = entityID
	}
	return e, nil
}
