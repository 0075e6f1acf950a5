package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/lifecycle"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/transport"
)

// handler returns the delivery handler of one lifecycle engine.
//
// A delivery is retried in place with exponential backoff while Process
// fails on transient errors. Deliveries that cannot be decoded, that fail
// permanently, or that exhaust the retries are dead-lettered and
// acknowledged. A failure caused by shutdown is returned so the transport
// redelivers it.
func (eng *Engine) handler(le *lifecycle.Engine) transport.Handler {
	return func(ctx context.Context, d *transport.Delivery) error {
		env, err := eng.codec.Decode(d.Body)
		if err != nil {
			return eng.deadLetter(ctx, d, nil, fmt.Errorf("decode: %w", err))
		}

		b := retry.WithMaxRetries(eng.config.ProcessRetries, retry.NewExponential(eng.config.ProcessRetryBase))
		err = retry.Do(ctx, b, func(ctx context.Context) error {
			procErr := le.Process(ctx, env)
			if procErr == nil || isFatal(procErr) || ctx.Err() != nil {
				return procErr
			}
			eng.logger.Warn("process failed, retrying",
				slog.String("entity_id", env.EntityID.String()),
				slog.String("message_kind", string(env.Kind)),
				slog.String("message_id", env.ID.String()),
				slog.String("error", procErr.Error()),
			)
			return retry.RetryableError(procErr)
		})
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return err
		default:
			return eng.deadLetter(ctx, d, env, err)
		}
	}
}

// isFatal reports errors that fail again on every retry.
func isFatal(err error) bool {
	return errors.Is(err, infinitic.ErrUnknownMessage) ||
		errors.Is(err, infinitic.ErrInvalidMessage) ||
		errors.Is(err, infinitic.ErrInvalidTransition)
}

func (eng *Engine) deadLetter(ctx context.Context, d *transport.Delivery, env *message.Envelope, cause error) error {
	attrs := []any{
		slog.String("topic", d.Topic),
		slog.String("key", d.Key),
		slog.Int("attempt", d.Attempt),
		slog.String("error", cause.Error()),
	}
	if env != nil {
		attrs = append(attrs,
			slog.String("entity_id", env.EntityID.String()),
			slog.String("message_kind", string(env.Kind)),
		)
	}
	eng.logger.Error("dead-lettering delivery", attrs...)

	entry, err := eng.dlqService.Push(ctx, d, env, cause)
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", d.Topic, err)
	}
	eng.extensions.EmitDeadLettered(ctx, entry)
	return nil
}
