package cron

import (
	"time"

	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// Entry is a scheduled dispatch.
type Entry struct {
	// Name uniquely identifies the entry.
	Name string `json:"name"`
	// Schedule is a cron expression (e.g. "*/5 * * * *" or "@every 30s").
	Schedule string `json:"schedule"`

	Kind     entity.Kind    `json:"kind"`
	TaskName string         `json:"task_name"`
	Input    entity.Data    `json:"input"`
	Options  entity.Options `json:"options"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastID    id.ID      `json:"last_id,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}
