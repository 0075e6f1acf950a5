package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/middleware"
)

// tag returns middleware that appends name before and after calling next.
func tag(order *[]string, name string) middleware.Middleware {
	return func(ctx context.Context, _ *message.RunAttempt, next middleware.Handler) error {
		*order = append(*order, name+">")
		err := next(ctx)
		*order = append(*order, "<"+name)
		return err
	}
}

func TestChain(t *testing.T) {
	tests := []struct {
		name  string
		chain int
		want  []string
	}{
		{"empty", 0, []string{"h"}},
		{"single", 1, []string{"a>", "h", "<a"}},
		{"three", 3, []string{"a>", "b>", "c>", "h", "<c", "<b", "<a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			mws := []middleware.Middleware{tag(&order, "a"), tag(&order, "b"), tag(&order, "c")}[:tt.chain]

			err := middleware.Chain(mws...)(context.Background(), newTestRun(), func(context.Context) error {
				order = append(order, "h")
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, order)
		})
	}
}

func TestChain_ShortCircuitAndError(t *testing.T) {
	boom := errors.New("boom")
	stop := func(context.Context, *message.RunAttempt, middleware.Handler) error { return boom }

	called := false
	var order []string
	err := middleware.Chain(tag(&order, "a"), stop, tag(&order, "c"))(context.Background(), newTestRun(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
	assert.Equal(t, []string{"a>", "<a"}, order)
}

func TestRecover(t *testing.T) {
	run := newTestRun()
	run.Name = "panicky"
	mw := middleware.Recover(slog.New(slog.DiscardHandler))

	err := mw(context.Background(), run, func(context.Context) error { panic("test panic") })
	var pe *middleware.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "panicky", pe.Task)
	assert.Equal(t, "panic in task panicky: test panic", err.Error())

	err = mw(context.Background(), run, func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
		msg   string
	}{
		{"completed", nil, "INFO", "attempt completed"},
		{"failed", errors.New("fail"), "WARN", "attempt failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			run := newTestRun()
			mw := middleware.Logging(slog.New(slog.NewJSONHandler(&buf, nil)))

			err := mw(context.Background(), run, func(context.Context) error { return tt.err })
			assert.ErrorIs(t, err, tt.err)

			dec := json.NewDecoder(&buf)
			var records []map[string]any
			for dec.More() {
				var rec map[string]any
				require.NoError(t, dec.Decode(&rec))
				records = append(records, rec)
			}
			require.Len(t, records, 2)
			assert.Equal(t, "attempt started", records[0]["msg"])

			last := records[1]
			assert.Equal(t, tt.level, last["level"])
			assert.Equal(t, tt.msg, last["msg"])
			assert.Equal(t, run.EntityID.String(), last["entity_id"])
			assert.Contains(t, last, "elapsed")
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), last["error"])
			}
		})
	}
}

func TestAttempt(t *testing.T) {
	run := newTestRun()
	err := middleware.Attempt()(context.Background(), run, func(ctx context.Context) error {
		got, ok := middleware.AttemptFrom(ctx)
		assert.True(t, ok)
		assert.Same(t, run, got)
		return nil
	})
	require.NoError(t, err)

	_, ok := middleware.AttemptFrom(context.Background())
	assert.False(t, ok)
}

func TestTimeout(t *testing.T) {
	mw := middleware.Timeout(slog.New(slog.DiscardHandler))

	t.Run("deadline", func(t *testing.T) {
		run := newTestRun()
		run.Options = entity.Options{Timeout: 20 * time.Millisecond}
		err := mw(context.Background(), run, func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unset", func(t *testing.T) {
		err := mw(context.Background(), newTestRun(), func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.False(t, ok)
			return nil
		})
		assert.NoError(t, err)
	})
}
