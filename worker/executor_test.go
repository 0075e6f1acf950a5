package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alpex29/infinitic/backoff"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/ext"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/middleware"
	"github.com/alpex29/infinitic/worker"
)

type report struct {
	kind   string
	output entity.Data
	err    entity.AttemptError
	delay  *float64
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
	failOn  string
}

func (f *fakeReporter) add(r report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == r.kind {
		return errors.New("transport unavailable")
	}
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeReporter) Started(_ context.Context, _ *message.RunAttempt, _ id.ID) error {
	return f.add(report{kind: "started"})
}

func (f *fakeReporter) Completed(_ context.Context, _ *message.RunAttempt, output entity.Data) error {
	return f.add(report{kind: "completed", output: output})
}

func (f *fakeReporter) Failed(_ context.Context, _ *message.RunAttempt, attemptErr entity.AttemptError, delay *float64) error {
	return f.add(report{kind: "failed", err: attemptErr, delay: delay})
}

func (f *fakeReporter) all() []report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]report(nil), f.reports...)
}

// delayedTask suggests its own retry delay.
type delayedTask struct{ worker.TaskFunc }

func (delayedTask) RetryDelay(*message.RunAttempt, error) *float64 { return backoff.Seconds(7 * time.Second) }

type executedHook struct {
	mu    sync.Mutex
	calls int
	last  error
}

func (h *executedHook) Name() string { return "executed" }

func (h *executedHook) OnAttemptExecuted(_ context.Context, _ *message.RunAttempt, _ time.Duration, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.last = err
	return nil
}

func newRun(name string, retry uint64, policy backoff.Policy) *message.RunAttempt {
	return &message.RunAttempt{
		EntityID: id.NewTaskID(),
		Attempt:  message.Attempt{ID: id.NewAttemptID(), Retry: retry},
		Name:     name,
		Input:    entity.MustJSON(map[string]int{"n": 1}),
		Options:  entity.Options{Retry: policy},
	}
}

func setupExecutor(t *testing.T, rep worker.Reporter, hooks ...ext.Extension) (*worker.Executor, *worker.Registry) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	reg := worker.NewRegistry()
	extensions := ext.NewRegistry(logger)
	for _, h := range hooks {
		extensions.Register(h)
	}
	return worker.NewExecutor(reg, rep, extensions, logger, middleware.Recover(logger)), reg
}

func TestExecutor_Success(t *testing.T) {
	rep := &fakeReporter{}
	hook := &executedHook{}
	exec, reg := setupExecutor(t, rep, hook)
	_ = reg.Register("echo", echo())

	run := newRun("echo", 0, backoff.Policy{})
	if err := exec.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := rep.all()
	if len(got) != 2 || got[0].kind != "started" || got[1].kind != "completed" {
		t.Fatalf("reports = %+v", got)
	}
	if string(got[1].output.Bytes) != string(run.Input.Bytes) {
		t.Errorf("output = %s, want %s", got[1].output.Bytes, run.Input.Bytes)
	}
	if hook.calls != 1 || hook.last != nil {
		t.Errorf("hook calls = %d, last = %v", hook.calls, hook.last)
	}
}

func TestExecutor_FailureDelay(t *testing.T) {
	boom := errors.New("boom")
	failing := worker.TaskFunc(func(context.Context, entity.Data) (entity.Data, error) {
		return entity.Data{}, boom
	})
	constant := backoff.Policy{Kind: backoff.KindConstant, MaxRetries: 2, Initial: 3 * time.Second}

	tests := []struct {
		name      string
		task      worker.Task
		retry     uint64
		wantDelay *float64
	}{
		{"policy first retry", failing, 0, backoff.Seconds(3 * time.Second)},
		{"policy exhausted", failing, 2, nil},
		{"permanent", worker.TaskFunc(func(context.Context, entity.Data) (entity.Data, error) {
			return entity.Data{}, worker.Permanent(boom)
		}), 0, nil},
		{"task delay", delayedTask{failing}, 5, backoff.Seconds(7 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &fakeReporter{}
			exec, reg := setupExecutor(t, rep)
			_ = reg.Register("x", tt.task)

			if err := exec.Execute(context.Background(), newRun("x", tt.retry, constant)); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			got := rep.all()
			if len(got) != 2 || got[1].kind != "failed" {
				t.Fatalf("reports = %+v", got)
			}
			f := got[1]
			switch {
			case tt.wantDelay == nil && f.delay != nil:
				t.Errorf("delay = %v, want nil", *f.delay)
			case tt.wantDelay != nil && (f.delay == nil || *f.delay != *tt.wantDelay):
				t.Errorf("delay = %v, want %v", f.delay, *tt.wantDelay)
			}
			if f.err.Message != "boom" || f.err.WorkerID != exec.WorkerID() {
				t.Errorf("attempt error = %+v", f.err)
			}
		})
	}
}

func TestExecutor_ErrorNames(t *testing.T) {
	tests := []struct {
		name string
		task worker.Task
		want string
	}{
		{"panic", worker.TaskFunc(func(context.Context, entity.Data) (entity.Data, error) {
			panic("oops")
		}), "Panic"},
		{"named", worker.TaskFunc(func(context.Context, entity.Data) (entity.Data, error) {
			return entity.Data{}, &entity.AttemptError{Name: "QuotaExceeded", Message: "slow down"}
		}), "QuotaExceeded"},
		{"deadline", worker.TaskFunc(func(context.Context, entity.Data) (entity.Data, error) {
			return entity.Data{}, context.DeadlineExceeded
		}), "DeadlineExceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &fakeReporter{}
			exec, reg := setupExecutor(t, rep)
			_ = reg.Register("x", tt.task)

			if err := exec.Execute(context.Background(), newRun("x", 0, backoff.NoRetry())); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			got := rep.all()
			if len(got) != 2 || got[1].err.Name != tt.want {
				t.Errorf("reports = %+v, want error name %q", got, tt.want)
			}
		})
	}
}

func TestExecutor_UnknownTask(t *testing.T) {
	rep := &fakeReporter{}
	exec, _ := setupExecutor(t, rep)

	if err := exec.Execute(context.Background(), newRun("missing", 0, backoff.Policy{})); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := rep.all()
	if len(got) != 2 || got[1].kind != "failed" {
		t.Fatalf("reports = %+v", got)
	}
	if got[1].delay != nil || got[1].err.Name != "TaskNotRegistered" {
		t.Errorf("failure = %+v", got[1])
	}
}

func TestExecutor_ReportError(t *testing.T) {
	for _, kind := range []string{"started", "completed"} {
		t.Run(kind, func(t *testing.T) {
			exec, reg := setupExecutor(t, &fakeReporter{failOn: kind})
			_ = reg.Register("echo", echo())
			if err := exec.Execute(context.Background(), newRun("echo", 0, backoff.Policy{})); err == nil {
				t.Error("expected the report error to be returned")
			}
		})
	}
}
