package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/ext"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnEntityDispatched(_ context.Context, _ *entity.State) error {
	e.calls = append(e.calls, "OnEntityDispatched")
	return nil
}

func (e *allHooksExt) OnAttemptDispatched(_ context.Context, _ *entity.State) error {
	e.calls = append(e.calls, "OnAttemptDispatched")
	return nil
}

func (e *allHooksExt) OnRetryScheduled(_ context.Context, _ *entity.State, _ time.Duration) error {
	e.calls = append(e.calls, "OnRetryScheduled")
	return nil
}

func (e *allHooksExt) OnStatusChanged(_ context.Context, _ *entity.State, _, _ entity.Status) error {
	e.calls = append(e.calls, "OnStatusChanged")
	return nil
}

func (e *allHooksExt) OnEntityCompleted(_ context.Context, _ *entity.State, _ time.Duration) error {
	e.calls = append(e.calls, "OnEntityCompleted")
	return nil
}

func (e *allHooksExt) OnEntityCanceled(_ context.Context, _ *entity.State) error {
	e.calls = append(e.calls, "OnEntityCanceled")
	return nil
}

func (e *allHooksExt) OnChildNotified(_ context.Context, _ *entity.State, _ message.Message) error {
	e.calls = append(e.calls, "OnChildNotified")
	return nil
}

func (e *allHooksExt) OnMessageDiscarded(_ context.Context, _ *message.Envelope, _ string) error {
	e.calls = append(e.calls, "OnMessageDiscarded")
	return nil
}

func (e *allHooksExt) OnWriteConflict(_ context.Context, _ *message.Envelope) error {
	e.calls = append(e.calls, "OnWriteConflict")
	return nil
}

func (e *allHooksExt) OnAttemptExecuted(_ context.Context, _ *message.RunAttempt, _ time.Duration, _ error) error {
	e.calls = append(e.calls, "OnAttemptExecuted")
	return nil
}

func (e *allHooksExt) OnDeadLettered(_ context.Context, _ *dlq.Entry) error {
	e.calls = append(e.calls, "OnDeadLettered")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// terminalOnlyExt only implements termination hooks.
type terminalOnlyExt struct {
	calls []string
}

func (e *terminalOnlyExt) Name() string { return "terminal-only" }

func (e *terminalOnlyExt) OnEntityCompleted(_ context.Context, _ *entity.State, _ time.Duration) error {
	e.calls = append(e.calls, "OnEntityCompleted")
	return nil
}

func (e *terminalOnlyExt) OnEntityCanceled(_ context.Context, _ *entity.State) error {
	e.calls = append(e.calls, "OnEntityCanceled")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnEntityCompleted(_ context.Context, _ *entity.State, _ time.Duration) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func testState() *entity.State {
	return &entity.State{ID: id.NewTaskID(), Kind: entity.KindTask, Name: "send-email"}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	term := &terminalOnlyExt{}
	r.Register(all)
	r.Register(term)

	ctx := context.Background()
	s := testState()

	// Both implement OnEntityCompleted → both called.
	r.EmitEntityCompleted(ctx, s, time.Second)
	if len(all.calls) != 1 || all.calls[0] != "OnEntityCompleted" {
		t.Fatalf("all: expected [OnEntityCompleted], got %v", all.calls)
	}
	if len(term.calls) != 1 || term.calls[0] != "OnEntityCompleted" {
		t.Fatalf("term: expected [OnEntityCompleted], got %v", term.calls)
	}

	// Only all implements OnEntityDispatched → term not called.
	r.EmitEntityDispatched(ctx, s)
	if len(all.calls) != 2 || all.calls[1] != "OnEntityDispatched" {
		t.Fatalf("all: expected OnEntityDispatched as 2nd, got %v", all.calls)
	}
	if len(term.calls) != 1 {
		t.Fatalf("term: should still have 1 call, got %v", term.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	s := testState()
	env := message.Wrap(&message.Cancel{EntityID: s.ID})

	r.EmitEntityDispatched(ctx, s)
	r.EmitAttemptDispatched(ctx, s)
	r.EmitRetryScheduled(ctx, s, 5*time.Second)
	r.EmitStatusChanged(ctx, s, entity.StatusRunningOK, entity.StatusRunningWarning)
	r.EmitEntityCompleted(ctx, s, time.Second)
	r.EmitEntityCanceled(ctx, s)
	r.EmitChildNotified(ctx, s, &message.ChildCompleted{EntityID: s.ID, ChildID: id.NewTaskID()})
	r.EmitMessageDiscarded(ctx, env, "stale attempt")
	r.EmitWriteConflict(ctx, env)
	r.EmitAttemptExecuted(ctx, &message.RunAttempt{EntityID: s.ID}, time.Second, nil)
	r.EmitDeadLettered(ctx, &dlq.Entry{ID: id.NewDLQID()})
	r.EmitShutdown(ctx)

	expected := []string{
		"OnEntityDispatched", "OnAttemptDispatched", "OnRetryScheduled",
		"OnStatusChanged", "OnEntityCompleted", "OnEntityCanceled",
		"OnChildNotified", "OnMessageDiscarded", "OnWriteConflict",
		"OnAttemptExecuted", "OnDeadLettered", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	r.EmitEntityCompleted(ctx, testState(), time.Second)
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 || all.calls[0] != "OnEntityCompleted" {
		t.Fatalf("all: expected hooks to fire despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()
	s := testState()

	// None of these should panic or error.
	r.EmitEntityDispatched(ctx, s)
	r.EmitAttemptDispatched(ctx, s)
	r.EmitRetryScheduled(ctx, s, time.Second)
	r.EmitStatusChanged(ctx, s, entity.StatusAbsent, entity.StatusRunningOK)
	r.EmitEntityCompleted(ctx, s, time.Second)
	r.EmitEntityCanceled(ctx, s)
	r.EmitChildNotified(ctx, s, &message.ChildCanceled{})
	r.EmitMessageDiscarded(ctx, &message.Envelope{}, "x")
	r.EmitWriteConflict(ctx, &message.Envelope{})
	r.EmitAttemptExecuted(ctx, &message.RunAttempt{}, time.Second, errors.New("x"))
	r.EmitDeadLettered(ctx, &dlq.Entry{})
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ext1 := &allHooksExt{}
	ext2 := &allHooksExt{}
	r.Register(ext1)
	r.Register(ext2)

	r.EmitEntityCanceled(context.Background(), testState())

	if len(ext1.calls) != 1 {
		t.Errorf("ext1: expected 1 call, got %d", len(ext1.calls))
	}
	if len(ext2.calls) != 1 {
		t.Errorf("ext2: expected 1 call, got %d", len(ext2.calls))
	}
}
