package codec_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/codec"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
)

func TestCodecs_PreserveFailureDelay(t *testing.T) {
	delay := 5.0
	failed := &message.AttemptFailed{
		EntityID: id.NewTaskID(),
		Attempt:  message.Attempt{ID: id.NewAttemptID(), Index: 1, Retry: 2},
		Error:    entity.AttemptError{Name: "IOError", Message: "disk full", OccurredAt: time.Now().UTC().Truncate(time.Millisecond)},
		Delay:    &delay,
	}

	for _, c := range []codec.Codec{codec.Get(codec.NameJSON), codec.Get(codec.NameMsgpack)} {
		t.Run(c.Name(), func(t *testing.T) {
			env := message.Wrap(failed)
			data, err := c.Encode(env)
			require.NoError(t, err)

			got, err := c.Decode(data)
			require.NoError(t, err)

			assert.Equal(t, env.ID, got.ID)
			assert.Equal(t, message.KindAttemptFailed, got.Kind)
			msg, ok := got.Message.(*message.AttemptFailed)
			require.True(t, ok, "unexpected message type %T", got.Message)
			assert.True(t, msg.Attempt.Same(failed.Attempt))
			require.NotNil(t, msg.Delay)
			assert.InDelta(t, 5.0, *msg.Delay, 0)
			assert.Equal(t, "disk full", msg.Error.Message)
		})
	}
}

func TestCodecs_NilDelayStaysNil(t *testing.T) {
	timeout := &message.AttemptTimeout{
		EntityID: id.NewJobID(),
		Attempt:  message.Attempt{ID: id.NewAttemptID()},
	}

	for _, c := range []codec.Codec{&codec.JSON{}, &codec.Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Encode(message.Wrap(timeout))
			require.NoError(t, err)
			got, err := c.Decode(data)
			require.NoError(t, err)
			assert.Nil(t, got.Message.(*message.AttemptTimeout).Delay)
		})
	}
}

func TestJSON_UnknownKind(t *testing.T) {
	data := []byte(`{"id":"","kind":"attempt.paused","entity_id":"","body":{}}`)
	_, err := (&codec.JSON{}).Decode(data)
	assert.True(t, errors.Is(err, infinitic.ErrUnknownMessage), "got %v", err)
}

func TestEncode_EmptyEnvelope(t *testing.T) {
	_, err := (&codec.JSON{}).Encode(&message.Envelope{})
	assert.ErrorIs(t, err, infinitic.ErrInvalidMessage)
}
