package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/backoff"
	"github.com/alpex29/infinitic/client"
	"github.com/alpex29/infinitic/cron"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/engine"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
	memstore "github.com/alpex29/infinitic/store/memory"
	memtransport "github.com/alpex29/infinitic/transport/memory"
	"github.com/alpex29/infinitic/transport"
	"github.com/alpex29/infinitic/worker"
)

// ──────────────────────────────────────────────────
// Test helpers
// ──────────────────────────────────────────────────

// recordingExtension records the hooks fired by the engines.
type recordingExtension struct {
	mu           sync.Mutex
	completed    []id.ID
	canceled     []id.ID
	retries      int
	deadLettered []*dlq.Entry
}

func (r *recordingExtension) Name() string { return "recording" }

func (r *recordingExtension) OnEntityCompleted(_ context.Context, s *entity.State, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, s.ID)
	return nil
}

func (r *recordingExtension) OnEntityCanceled(_ context.Context, s *entity.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, s.ID)
	return nil
}

func (r *recordingExtension) OnRetryScheduled(_ context.Context, _ *entity.State, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
	return nil
}

func (r *recordingExtension) OnDeadLettered(_ context.Context, e *dlq.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLettered = append(r.deadLettered, e)
	return nil
}

func (r *recordingExtension) hasCompleted(entityID id.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.completed {
		if c == entityID {
			return true
		}
	}
	return false
}

func (r *recordingExtension) hasCanceled(entityID id.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.canceled {
		if c == entityID {
			return true
		}
	}
	return false
}

func (r *recordingExtension) deadLetters() []*dlq.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*dlq.Entry(nil), r.deadLettered...)
}

type fixture struct {
	eng   *engine.Engine
	store *memstore.Store
	tr    *memtransport.Transport
	rec   *recordingExtension
}

func setup(t *testing.T, opts ...infinitic.Option) *fixture {
	t.Helper()
	return setupWith(t, nil, opts...)
}

func setupWith(t *testing.T, engOpts []engine.Option, opts ...infinitic.Option) *fixture {
	t.Helper()

	s := memstore.New()
	tr := memtransport.New(memtransport.WithRedeliveryDelay(5 * time.Millisecond))
	logger := slog.New(slog.DiscardHandler)

	base := []infinitic.Option{
		infinitic.WithStore(s),
		infinitic.WithTransport(tr),
		infinitic.WithLogger(logger),
		infinitic.WithConcurrency(2),
		infinitic.WithEngineConsumers(2),
	}
	n, err := infinitic.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("infinitic.New: %v", err)
	}

	rec := &recordingExtension{}
	eng, err := engine.Build(n, append([]engine.Option{engine.WithExtension(rec)}, engOpts...)...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return &fixture{eng: eng, store: s, tr: tr, rec: rec}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := f.eng.Node().Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func echo() worker.Task {
	return worker.TaskFunc(func(_ context.Context, in entity.Data) (entity.Data, error) {
		return in, nil
	})
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_Errors(t *testing.T) {
	tr := memtransport.New()
	defer tr.Close()

	noStore, err := infinitic.New(infinitic.WithTransport(tr))
	if err != nil {
		t.Fatalf("infinitic.New: %v", err)
	}
	if _, err := engine.Build(noStore); !errors.Is(err, infinitic.ErrNoStore) {
		t.Errorf("no store: got %v, want ErrNoStore", err)
	}

	noTransport, err := infinitic.New(infinitic.WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("infinitic.New: %v", err)
	}
	if _, err := engine.Build(noTransport); !errors.Is(err, infinitic.ErrNoTransport) {
		t.Errorf("no transport: got %v, want ErrNoTransport", err)
	}

	badKind, err := infinitic.New(
		infinitic.WithStore(memstore.New()),
		infinitic.WithTransport(tr),
		infinitic.WithKinds("task", "saga"),
	)
	if err != nil {
		t.Fatalf("infinitic.New: %v", err)
	}
	if _, err := engine.Build(badKind); !errors.Is(err, infinitic.ErrUnknownKind) {
		t.Errorf("unknown kind: got %v, want ErrUnknownKind", err)
	}
}

func TestBuild_HostedKinds(t *testing.T) {
	f := setup(t, infinitic.WithKinds("job", "task"))

	kinds := f.eng.Kinds()
	if len(kinds) != 2 || kinds[0] != entity.KindTask || kinds[1] != entity.KindJob {
		t.Errorf("kinds = %v, want [task job]", kinds)
	}
	if f.eng.Lifecycle(entity.KindWorkflow) != nil {
		t.Error("workflow engine should not be hosted")
	}
}

func TestEngine_StartStopIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := f.eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.eng.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestBuild_Schedules(t *testing.T) {
	cfg := infinitic.DefaultConfig()
	cfg.Schedules = []infinitic.ScheduleConfig{
		{Name: "nightly", Cron: "0 3 * * *", Kind: "job", Task: "report.build", Input: map[string]any{"days": 7}},
		{Name: "cleanup", Cron: "@hourly", Task: "cleanup.run"},
	}
	f := setup(t, infinitic.WithConfig(cfg))

	entries := f.eng.Scheduler().Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "cleanup" || entries[0].Kind != entity.KindTask {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Kind != entity.KindJob || string(entries[1].Input.Bytes) != `{"days":7}` {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	bad := infinitic.DefaultConfig()
	bad.Schedules = []infinitic.ScheduleConfig{{Name: "x", Cron: "not a cron", Task: "X"}}
	n, err := infinitic.New(
		infinitic.WithConfig(bad),
		infinitic.WithStore(memstore.New()),
		infinitic.WithTransport(memtransport.New()),
	)
	if err != nil {
		t.Fatalf("infinitic.New: %v", err)
	}
	if _, err := engine.Build(n); err == nil {
		t.Error("expected an invalid schedule to fail Build")
	}
}

// ──────────────────────────────────────────────────
// End-to-end: Register → Dispatch → Complete
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd(t *testing.T) {
	f := setup(t)
	if err := f.eng.Register("echo", echo()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.start(t)

	ctx := context.Background()
	taskID, err := f.eng.Dispatch(ctx, entity.KindTask, "echo", entity.MustJSON(map[string]string{"to": "alice"}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	waitUntil(t, "completion", func() bool { return f.rec.hasCompleted(taskID) })

	// Terminated entities leave no state behind.
	if _, err := f.eng.Get(ctx, taskID); !errors.Is(err, infinitic.ErrStateNotFound) {
		t.Errorf("Get after completion: got %v, want ErrStateNotFound", err)
	}
}

func TestEngine_ScheduledDispatch(t *testing.T) {
	f := setupWith(t, []engine.Option{engine.WithSchedule(cron.Entry{
		Name:     "heartbeat",
		Schedule: "@every 1s",
		Kind:     entity.KindTask,
		TaskName: "echo",
	})})
	if err := f.eng.Register("echo", echo()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.start(t)

	waitUntil(t, "scheduled run", func() bool {
		e := f.eng.Scheduler().Entries()[0]
		return !e.LastID.IsNil() && f.rec.hasCompleted(e.LastID)
	})
}

func TestEngine_RetriesFailedAttempt(t *testing.T) {
	f := setup(t)

	var (
		mu    sync.Mutex
		calls int
	)
	flaky := worker.TaskFunc(func(_ context.Context, in entity.Data) (entity.Data, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return entity.Data{}, errors.New("smtp timeout")
		}
		return in, nil
	})
	if err := f.eng.Register("flaky", flaky); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.start(t)

	policy := backoff.Policy{Kind: backoff.KindConstant, MaxRetries: 3, Initial: 10 * time.Millisecond}
	taskID, err := f.eng.Dispatch(context.Background(), entity.KindTask, "flaky", entity.MustJSON(1), client.WithRetry(policy))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	waitUntil(t, "completion after retry", func() bool { return f.rec.hasCompleted(taskID) })

	f.rec.mu.Lock()
	retries := f.rec.retries
	f.rec.mu.Unlock()
	if retries != 1 {
		t.Errorf("retries = %d, want 1", retries)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestEngine_ManualRetryAfterPermanentFailure(t *testing.T) {
	f := setup(t)

	var (
		mu   sync.Mutex
		fail = true
	)
	task := worker.TaskFunc(func(_ context.Context, in entity.Data) (entity.Data, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return entity.Data{}, worker.Permanent(errors.New("invalid address"))
		}
		return in, nil
	})
	if err := f.eng.Register("strict", task); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.start(t)

	ctx := context.Background()
	taskID, err := f.eng.Dispatch(ctx, entity.KindTask, "strict", entity.MustJSON("a@b"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	var st *entity.State
	waitUntil(t, "running-error", func() bool {
		st, err = f.eng.Get(ctx, taskID)
		return err == nil && st.Status == entity.StatusRunningError
	})
	if st.LastError == nil || st.LastError.Message != "invalid address" {
		t.Errorf("last error = %+v", st.LastError)
	}

	mu.Lock()
	fail = false
	mu.Unlock()

	if err := f.eng.Retry(ctx, taskID, client.RetryOverrides{}); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitUntil(t, "completion after manual retry", func() bool { return f.rec.hasCompleted(taskID) })
}

func TestEngine_CancelAndList(t *testing.T) {
	// No task registered: attempts stay queued and entities stay running.
	f := setup(t)
	f.start(t)

	ctx := context.Background()
	first, err := f.eng.Dispatch(ctx, entity.KindTask, "nobody", entity.Data{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	second, err := f.eng.Dispatch(ctx, entity.KindJob, "nobody", entity.Data{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	waitUntil(t, "two running entities", func() bool {
		states, listErr := f.eng.List(ctx, entity.StatusRunningOK, entity.ListOpts{})
		return listErr == nil && len(states) == 2
	})

	jobs, err := f.eng.List(ctx, entity.StatusRunningOK, entity.ListOpts{Kind: entity.KindJob})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != second {
		t.Errorf("jobs = %v, want only %s", jobs, second)
	}

	if err := f.eng.Cancel(ctx, first, entity.MustJSON("stopped")); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitUntil(t, "cancellation", func() bool { return f.rec.hasCanceled(first) })

	if _, err := f.eng.Get(ctx, first); !errors.Is(err, infinitic.ErrStateNotFound) {
		t.Errorf("Get after cancel: got %v, want ErrStateNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

func TestEngine_DeadLettersUndecodable(t *testing.T) {
	f := setup(t)
	f.start(t)

	ctx := context.Background()
	topic := transport.EngineTopic("task")
	if err := f.tr.Send(ctx, transport.Message{Topic: topic, Key: "k", Body: []byte("not an envelope")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitUntil(t, "dead letter", func() bool { return len(f.rec.deadLetters()) == 1 })

	entries, err := f.store.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 || entries[0].Topic != topic || string(entries[0].Body) != "not an envelope" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestEngine_DeadLettersForeignEntity(t *testing.T) {
	f := setup(t)
	f.start(t)

	ctx := context.Background()
	// A job cancellation delivered to the task engine fails on every retry.
	env := message.Wrap(&message.Cancel{EntityID: id.NewJobID()})
	body, err := f.eng.Client().Codec().Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := f.tr.Send(ctx, transport.Message{Topic: transport.EngineTopic("task"), Key: env.EntityID.String(), Body: body}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitUntil(t, "dead letter", func() bool { return len(f.rec.deadLetters()) == 1 })

	entry := f.rec.deadLetters()[0]
	if entry.MessageKind != string(message.KindCancel) || entry.EntityID != env.EntityID {
		t.Errorf("entry = %+v", entry)
	}

	// Replaying to the right engine succeeds once the entity exists; here
	// it is simply re-sent and dead-lettered again.
	if _, err := f.eng.DLQService().Replay(ctx, entry.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	waitUntil(t, "second dead letter", func() bool { return len(f.rec.deadLetters()) == 2 })
}
