package message_test

import (
	"errors"
	"testing"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
)

func TestNew_CoversEveryKind(t *testing.T) {
	kinds := []message.Kind{
		message.KindDispatch,
		message.KindRunAttempt,
		message.KindAttemptDispatched,
		message.KindAttemptStarted,
		message.KindAttemptCompleted,
		message.KindAttemptFailed,
		message.KindAttemptTimeout,
		message.KindRetryAttempt,
		message.KindRetryEntity,
		message.KindCancel,
		message.KindCompleted,
		message.KindCanceled,
		message.KindStatusUpdated,
		message.KindChildCompleted,
		message.KindChildCanceled,
	}

	for _, k := range kinds {
		t.Run(string(k), func(t *testing.T) {
			m, err := message.New(k)
			if err != nil {
				t.Fatalf("New(%q): %v", k, err)
			}
			if m.Kind() != k {
				t.Errorf("New(%q).Kind() = %q", k, m.Kind())
			}
		})
	}
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := message.New("attempt.paused")
	if !errors.Is(err, infinitic.ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestAttemptSame(t *testing.T) {
	a := message.Attempt{ID: id.NewAttemptID(), Index: 0, Retry: 1}

	if !a.Same(a) {
		t.Error("attempt should match itself")
	}
	if a.Same(message.Attempt{ID: a.ID, Retry: 2}) {
		t.Error("different retry should not match")
	}
	if a.Same(message.Attempt{ID: id.NewAttemptID(), Retry: 1}) {
		t.Error("different attempt id should not match")
	}
}

func TestWrapAndValidate(t *testing.T) {
	taskID := id.NewTaskID()
	env := message.Wrap(&message.Cancel{EntityID: taskID})

	if env.Kind != message.KindCancel || env.EntityID != taskID {
		t.Fatalf("unexpected header: %+v", env)
	}
	if env.ID.Prefix() != id.PrefixMessage {
		t.Errorf("expected message id, got %q", env.ID)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	env.EntityID = id.NewTaskID()
	if err := env.Validate(); !errors.Is(err, infinitic.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage for mismatched key, got %v", err)
	}
}

func TestIsInformational(t *testing.T) {
	tests := []struct {
		msg  message.Message
		want bool
	}{
		{&message.AttemptDispatched{}, true},
		{&message.Completed{}, true},
		{&message.Canceled{}, true},
		{&message.StatusUpdated{}, true},
		{&message.AttemptCompleted{}, false},
		{&message.Dispatch{}, false},
		{&message.ChildCompleted{}, false},
	}
	for _, tt := range tests {
		if got := message.IsInformational(tt.msg); got != tt.want {
			t.Errorf("IsInformational(%s) = %v, want %v", tt.msg.Kind(), got, tt.want)
		}
	}
}
