package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/ext"
	"github.com/alpex29/infinitic/message"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.EntityDispatched = (*Extension)(nil)
	_ ext.RetryScheduled   = (*Extension)(nil)
	_ ext.StatusChanged    = (*Extension)(nil)
	_ ext.EntityCompleted  = (*Extension)(nil)
	_ ext.EntityCanceled   = (*Extension)(nil)
	_ ext.MessageDiscarded = (*Extension)(nil)
	_ ext.WriteConflict    = (*Extension)(nil)
	_ ext.DeadLettered     = (*Extension)(nil)
)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events to logger, at a level derived from
// their severity.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("category", evt.Category),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges lifecycle hooks to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Engine hooks ────────────────────────────────────

// OnEntityDispatched implements ext.EntityDispatched.
func (e *Extension) OnEntityDispatched(ctx context.Context, s *entity.State) error {
	return e.record(ctx, ActionEntityDispatched, SeverityInfo, OutcomeSuccess,
		ResourceEntity, s.ID.String(), CategoryLifecycle, "",
		"kind", string(s.Kind),
		"name", s.Name,
		"parent_id", s.ParentID.String(),
	)
}

// OnRetryScheduled implements ext.RetryScheduled.
func (e *Extension) OnRetryScheduled(ctx context.Context, s *entity.State, after time.Duration) error {
	return e.record(ctx, ActionRetryScheduled, SeverityWarning, OutcomeFailure,
		ResourceEntity, s.ID.String(), CategoryLifecycle, lastError(s),
		"name", s.Name,
		"attempt_index", s.AttemptIndex,
		"attempt_retry", s.AttemptRetry,
		"delay_ms", after.Milliseconds(),
	)
}

// OnStatusChanged implements ext.StatusChanged.
func (e *Extension) OnStatusChanged(ctx context.Context, s *entity.State, from, to entity.Status) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if to == entity.StatusRunningError {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionStatusChanged, severity, outcome,
		ResourceEntity, s.ID.String(), CategoryLifecycle, "",
		"name", s.Name,
		"from", string(from),
		"to", string(to),
	)
}

// OnEntityCompleted implements ext.EntityCompleted.
func (e *Extension) OnEntityCompleted(ctx context.Context, s *entity.State, elapsed time.Duration) error {
	return e.record(ctx, ActionEntityCompleted, SeverityInfo, OutcomeSuccess,
		ResourceEntity, s.ID.String(), CategoryLifecycle, "",
		"kind", string(s.Kind),
		"name", s.Name,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnEntityCanceled implements ext.EntityCanceled.
func (e *Extension) OnEntityCanceled(ctx context.Context, s *entity.State) error {
	return e.record(ctx, ActionEntityCanceled, SeverityInfo, OutcomeSuccess,
		ResourceEntity, s.ID.String(), CategoryLifecycle, "",
		"kind", string(s.Kind),
		"name", s.Name,
	)
}

// OnMessageDiscarded implements ext.MessageDiscarded.
func (e *Extension) OnMessageDiscarded(ctx context.Context, env *message.Envelope, reason string) error {
	return e.record(ctx, ActionMessageDiscarded, SeverityWarning, OutcomeFailure,
		ResourceMessage, env.ID.String(), CategoryDelivery, reason,
		"message_kind", string(env.Kind),
		"entity_id", env.EntityID.String(),
	)
}

// OnWriteConflict implements ext.WriteConflict.
func (e *Extension) OnWriteConflict(ctx context.Context, env *message.Envelope) error {
	return e.record(ctx, ActionWriteConflict, SeverityWarning, OutcomeFailure,
		ResourceMessage, env.ID.String(), CategoryDelivery, "",
		"message_kind", string(env.Kind),
		"entity_id", env.EntityID.String(),
	)
}

// ── Delivery hooks ──────────────────────────────────

// OnDeadLettered implements ext.DeadLettered.
func (e *Extension) OnDeadLettered(ctx context.Context, entry *dlq.Entry) error {
	return e.record(ctx, ActionDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceDLQ, entry.ID.String(), CategoryDelivery, entry.Error,
		"topic", entry.Topic,
		"message_kind", entry.MessageKind,
		"entity_id", entry.EntityID.String(),
	)
}

// ── Internal helpers ────────────────────────────────

func lastError(s *entity.State) string {
	if s.LastError == nil {
		return ""
	}
	return s.LastError.Error()
}

// record builds and sends an audit event if the action is enabled.
// kvPairs are added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
