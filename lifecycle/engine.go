package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/codec"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/ext"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/transport"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCodec sets the codec used to encode outbound messages. Default: JSON.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) { e.codec = c }
}

// WithExtensions sets the extension registry notified of transitions.
func WithExtensions(r *ext.Registry) Option {
	return func(e *Engine) { e.extensions = r }
}

// WithReducer replaces the reducer, typically to inject ids and a clock in
// tests.
func WithReducer(r *Reducer) Option {
	return func(e *Engine) { e.reducer = r }
}

// Engine applies messages of one entity kind: it reads the state, runs the
// reducer, writes the result conditionally and sends the outbound
// messages. Engines hold no state between calls; any number of them may
// process messages of the same entity concurrently.
type Engine struct {
	kind       entity.Kind
	store      entity.Store
	sender     transport.Sender
	codec      codec.Codec
	reducer    *Reducer
	extensions *ext.Registry
	logger     *slog.Logger
}

// New creates an engine for kind.
func New(kind entity.Kind, store entity.Store, sender transport.Sender, opts ...Option) *Engine {
	e := &Engine{
		kind:    kind,
		store:   store,
		sender:  sender,
		codec:   &codec.JSON{},
		reducer: NewReducer(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.extensions == nil {
		e.extensions = ext.NewRegistry(e.logger)
	}
	return e
}

// Kind returns the entity kind the engine owns.
func (e *Engine) Kind() entity.Kind { return e.kind }

// Topic returns the topic the engine consumes.
func (e *Engine) Topic() string { return transport.EngineTopic(string(e.kind)) }

// maxConflicts bounds how often Process re-reads the state after losing a
// conditional write.
const maxConflicts = 16

// Process applies one envelope.
//
// A nil return means the envelope was applied or discarded and can be
// acknowledged. A conditional write lost to a concurrent consumer is never
// acknowledged as such: the state is read again and the envelope reduced
// against it, so a completion that loses a race still terminates the
// entity. An error means the invocation must be retried from the start.
// Errors wrapping infinitic.ErrUnknownMessage, ErrInvalidMessage or
// ErrInvalidTransition will fail again on retry.
func (e *Engine) Process(ctx context.Context, env *message.Envelope) error {
	if env == nil || env.Message == nil {
		return fmt.Errorf("%w: empty envelope", infinitic.ErrInvalidMessage)
	}
	if message.IsInformational(env.Message) {
		return nil
	}
	if kind, err := entity.KindOf(env.EntityID); err != nil || kind != e.kind {
		return fmt.Errorf("%w: %s sent to the %s engine", infinitic.ErrInvalidMessage, env.EntityID, e.kind)
	}

	for conflicts := 0; ; conflicts++ {
		err := e.apply(ctx, env)
		if !errors.Is(err, infinitic.ErrConflict) && !errors.Is(err, infinitic.ErrStateExists) {
			return err
		}
		e.extensions.EmitWriteConflict(ctx, env)
		if conflicts == maxConflicts || ctx.Err() != nil {
			return fmt.Errorf("lifecycle: %s for %s lost %d writes: %w", env.Kind, env.EntityID, conflicts+1, err)
		}
		e.logger.Debug("concurrent transition won the write, re-reading state",
			slog.String("entity_id", env.EntityID.String()),
			slog.String("message_kind", string(env.Kind)),
			slog.String("message_id", env.ID.String()),
			slog.Int("conflicts", conflicts+1),
		)
	}
}

// apply reads the state, reduces env against it and writes the result. A
// lost conditional write is returned unwrapped.
func (e *Engine) apply(ctx context.Context, env *message.Envelope) error {
	old, err := e.store.GetState(ctx, env.EntityID)
	switch {
	case errors.Is(err, infinitic.ErrStateNotFound):
		old = nil
	case err != nil:
		return fmt.Errorf("lifecycle: get state %s: %w", env.EntityID, err)
	}

	if old != nil && old.Status.IsTerminal() {
		// A previous invocation persisted a termination but did not finish
		// it.
		if err := e.flush(ctx, old); err != nil {
			return err
		}
		if old.LastMessageID == env.ID {
			return nil
		}
		old = nil
	}
	if old != nil && old.LastMessageID == env.ID && len(old.Outbox) > 0 {
		e.logger.Debug("re-sending outbox of a redelivered message",
			slog.String("entity_id", old.ID.String()),
			slog.String("message_id", env.ID.String()),
			slog.Int("outbox", len(old.Outbox)),
		)
		return e.flush(ctx, old)
	}

	res, err := e.reducer.Handle(old, env)
	if err != nil {
		return err
	}

	switch res.Action {
	case ActionDiscard:
		e.logDiscard(ctx, old, env, res)
		e.extensions.EmitMessageDiscarded(ctx, env, res.Reason)
		return nil
	case ActionIgnore:
		switch env.Message.(type) {
		case *message.ChildCompleted, *message.ChildCanceled:
			e.extensions.EmitChildNotified(ctx, res.Next, env.Message)
		}
		return nil
	}

	pending, err := e.encode(res.Outbound)
	if err != nil {
		return err
	}
	res.Next.Outbox = pending

	if err := e.write(ctx, old, res); err != nil {
		return err
	}

	if err := e.flush(ctx, res.Next); err != nil {
		return err
	}

	e.logger.Debug("transition applied",
		slog.String("entity_id", res.Next.ID.String()),
		slog.String("message_kind", string(env.Kind)),
		slog.String("action", res.Action.String()),
		slog.String("status", string(res.Next.Status)),
		slog.Uint64("attempt_index", res.Next.AttemptIndex),
		slog.Uint64("attempt_retry", res.Next.AttemptRetry),
	)
	e.emit(ctx, old, res)
	return nil
}

// write persists the result with its outbox. A terminal state is written
// like any other so that exactly one consumer wins the termination; flush
// deletes it afterwards.
func (e *Engine) write(ctx context.Context, old *entity.State, res Result) error {
	if res.Action == ActionCreate {
		return e.store.CreateState(ctx, res.Next)
	}
	return e.store.UpdateState(ctx, res.Next, old.Version)
}

// flush sends the outbox of s, then deletes s when it is terminal or
// clears its outbox otherwise.
func (e *Engine) flush(ctx context.Context, s *entity.State) error {
	for _, p := range s.Outbox {
		if err := e.sender.Send(ctx, transport.Message{
			Topic: p.Topic,
			Key:   p.Key,
			Body:  p.Body,
			After: p.After,
		}); err != nil {
			return fmt.Errorf("lifecycle: send to %s: %w", p.Topic, err)
		}
	}

	if s.Status.IsTerminal() {
		if err := e.store.DeleteState(ctx, s.ID); err != nil {
			return fmt.Errorf("lifecycle: delete state %s: %w", s.ID, err)
		}
		return nil
	}
	if len(s.Outbox) == 0 {
		return nil
	}

	version := s.Version
	s.Outbox = nil
	if err := e.store.UpdateState(ctx, s, version); err != nil {
		// A later transition already replaced the outbox, or the write
		// failed and a redelivery will send the outbox again.
		e.logger.Debug("outbox not cleared",
			slog.String("entity_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// encode wraps and encodes outbound messages with their topic.
func (e *Engine) encode(out []message.Outbound) ([]entity.Pending, error) {
	pending := make([]entity.Pending, 0, len(out))
	for _, o := range out {
		topic, err := topicOf(o)
		if err != nil {
			return nil, err
		}
		body, err := e.codec.Encode(message.Wrap(o.Message))
		if err != nil {
			return nil, fmt.Errorf("lifecycle: encode %s: %w", o.Message.Kind(), err)
		}
		pending = append(pending, entity.Pending{
			Topic: topic,
			Key:   o.Message.Entity().String(),
			Body:  body,
			After: o.After,
		})
	}
	return pending, nil
}

func topicOf(o message.Outbound) (string, error) {
	switch o.Target {
	case message.TargetWorkers:
		run, ok := o.Message.(*message.RunAttempt)
		if !ok {
			return "", fmt.Errorf("%w: %s cannot target workers", infinitic.ErrInvalidMessage, o.Message.Kind())
		}
		return transport.ExecutorTopic(run.Name), nil
	case message.TargetMonitoring:
		return transport.MonitoringTopic, nil
	case message.TargetEngine, message.TargetParent:
		kind, err := entity.KindOf(o.Message.Entity())
		if err != nil {
			return "", err
		}
		return transport.EngineTopic(string(kind)), nil
	default:
		return "", fmt.Errorf("%w: unknown target %q", infinitic.ErrInvalidMessage, o.Target)
	}
}

func (e *Engine) logDiscard(ctx context.Context, old *entity.State, env *message.Envelope, res Result) {
	attrs := []slog.Attr{
		slog.String("reason", res.Reason),
		slog.String("entity_id", env.EntityID.String()),
		slog.String("message_kind", string(env.Kind)),
		slog.String("message_id", env.ID.String()),
	}
	if scoped, ok := env.Message.(message.AttemptScoped); ok {
		a := scoped.AttemptRef()
		attrs = append(attrs,
			slog.String("attempt_id", a.ID.String()),
			slog.Uint64("attempt_retry", a.Retry),
		)
	}
	if old != nil {
		attrs = append(attrs,
			slog.String("state_attempt_id", old.AttemptID.String()),
			slog.Uint64("state_attempt_retry", old.AttemptRetry),
			slog.String("status", string(old.Status)),
		)
	}
	e.logger.LogAttrs(ctx, res.Level, "message discarded", attrs...)
}

// emit notifies extensions of an applied transition.
func (e *Engine) emit(ctx context.Context, old *entity.State, res Result) {
	next := res.Next
	from := entity.StatusAbsent
	if old != nil {
		from = old.Status
	}

	if res.Action == ActionCreate {
		e.extensions.EmitEntityDispatched(ctx, next)
	}
	for _, o := range res.Outbound {
		switch o.Message.(type) {
		case *message.RunAttempt:
			e.extensions.EmitAttemptDispatched(ctx, next)
		case *message.RetryAttempt:
			e.extensions.EmitRetryScheduled(ctx, next, o.After)
		case *message.Completed:
			e.extensions.EmitEntityCompleted(ctx, next, time.Since(next.CreatedAt))
		case *message.Canceled:
			e.extensions.EmitEntityCanceled(ctx, next)
		}
	}
	if next.Status != from {
		e.extensions.EmitStatusChanged(ctx, next, from, next.Status)
	}
}
