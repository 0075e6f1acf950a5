package client

import (
	"context"
	"time"

	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
)

// Started reports that workerID began executing run.
func (c *Client) Started(ctx context.Context, run *message.RunAttempt, workerID id.ID) error {
	_, err := c.Send(ctx, &message.AttemptStarted{
		EntityID: run.EntityID,
		Attempt:  run.Attempt,
		WorkerID: workerID,
	})
	return err
}

// Completed reports that run succeeded with output.
func (c *Client) Completed(ctx context.Context, run *message.RunAttempt, output entity.Data) error {
	_, err := c.Send(ctx, &message.AttemptCompleted{
		EntityID: run.EntityID,
		Attempt:  run.Attempt,
		Output:   output,
	})
	return err
}

// Failed reports that run failed. delay is in seconds; nil asks for no
// retry.
func (c *Client) Failed(ctx context.Context, run *message.RunAttempt, attemptErr entity.AttemptError, delay *float64) error {
	if attemptErr.OccurredAt.IsZero() {
		attemptErr.OccurredAt = time.Now().UTC()
	}
	_, err := c.Send(ctx, &message.AttemptFailed{
		EntityID: run.EntityID,
		Attempt:  run.Attempt,
		Error:    attemptErr,
		Delay:    delay,
	})
	return err
}
