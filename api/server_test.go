package api_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/api"
	"github.com/alpex29/infinitic/cron"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/engine"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
	memstore "github.com/alpex29/infinitic/store/memory"
	"github.com/alpex29/infinitic/transport"
	memtransport "github.com/alpex29/infinitic/transport/memory"
)

// ──────────────────────────────────────────────────
// Test helpers
// ──────────────────────────────────────────────────

func newTestServer(t *testing.T) (*httpexpect.Expect, *engine.Engine, string) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	n, err := infinitic.New(
		infinitic.WithStore(memstore.New()),
		infinitic.WithTransport(memtransport.New(memtransport.WithRedeliveryDelay(5*time.Millisecond))),
		infinitic.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("infinitic.New: %v", err)
	}
	eng, err := engine.Build(n)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.Stop(ctx)
	})

	srv := httptest.NewServer(api.NewServer(":0", eng, logger).Router())
	t.Cleanup(srv.Close)

	return httpexpect.Default(t, srv.URL), eng, srv.URL
}

func waitState(t *testing.T, eng *engine.Engine, entityID id.ID, present bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, err := eng.Get(context.Background(), entityID)
		if present && err == nil {
			return
		}
		if !present && errors.Is(err, infinitic.ErrStateNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state of %s present=%v not reached", entityID, !present)
}

// ──────────────────────────────────────────────────
// Health and metrics
// ──────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	e, _, _ := newTestServer(t)

	e.GET("/healthz").
		Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("status", "ok")
}

func TestSchedules(t *testing.T) {
	e, eng, _ := newTestServer(t)

	e.GET("/v1/schedules").
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("schedules").Array().IsEmpty()

	if err := eng.Scheduler().Add(cron.Entry{
		Name:     "nightly",
		Schedule: "0 3 * * *",
		Kind:     entity.KindJob,
		TaskName: "report.build",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	entry := e.GET("/v1/schedules").
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("schedules").Array().Value(0).Object()
	entry.HasValue("name", "nightly")
	entry.HasValue("kind", "job")
	entry.ContainsKey("next_run_at")
	entry.NotContainsKey("last_run_at")
}

func TestMetrics(t *testing.T) {
	e, _, _ := newTestServer(t)

	e.GET("/healthz").Expect().Status(http.StatusOK)
	e.GET("/metrics").
		Expect().
		Status(http.StatusOK).
		Body().Contains("infinitic_http_requests_total")
}

// ──────────────────────────────────────────────────
// Entities
// ──────────────────────────────────────────────────

func TestEntities_DispatchGetListCancel(t *testing.T) {
	e, eng, _ := newTestServer(t)

	raw := e.POST("/v1/entities").
		WithJSON(map[string]any{
			"kind":       "task",
			"name":       "email.send",
			"input":      map[string]string{"to": "a@b.c"},
			"timeout_ms": 1500,
			"retry":      map[string]any{"kind": "constant", "max_retries": 2, "initial_ms": 100},
			"meta":       map[string]string{"trace": "abc"},
		}).
		Expect().
		Status(http.StatusCreated).
		JSON().Object().Value("id").String().Raw()

	entityID, err := id.PrefixTask.Parse(raw)
	if err != nil {
		t.Fatalf("dispatch returned %q: %v", raw, err)
	}
	waitState(t, eng, entityID, true)

	obj := e.GET("/v1/entities/{id}", raw).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.HasValue("name", "email.send")
	obj.HasValue("status", string(entity.StatusRunningOK))
	obj.HasValue("kind", "task")

	e.GET("/v1/entities").
		WithQuery("status", "running-ok").
		WithQuery("kind", "task").
		Expect().
		Status(http.StatusOK).
		JSON().Array().Length().IsEqual(1)

	e.GET("/v1/entities").
		WithQuery("status", "running-ok").
		WithQuery("kind", "job").
		Expect().
		Status(http.StatusOK).
		JSON().Array().IsEmpty()

	e.GET("/v1/stats").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("entities").Object().
		Value("task").Object().
		HasValue("running-ok", 1)

	e.POST("/v1/entities/{id}/cancel", raw).
		WithJSON(map[string]any{"output": "stopped"}).
		Expect().
		Status(http.StatusAccepted)

	waitState(t, eng, entityID, false)

	e.GET("/v1/entities/{id}", raw).
		Expect().
		Status(http.StatusNotFound)
}

func TestEntities_RetryAccepted(t *testing.T) {
	e, _, _ := newTestServer(t)

	e.POST("/v1/entities/{id}/retry", id.NewJobID().String()).
		WithJSON(map[string]any{"name": "renamed", "input": []int{1, 2}}).
		Expect().
		Status(http.StatusAccepted).
		JSON().Object().ContainsKey("id")
}

func TestEntities_BadRequests(t *testing.T) {
	e, _, _ := newTestServer(t)

	tests := []struct {
		name string
		req  func() *httpexpect.Request
		want int
	}{
		{"unknown kind", func() *httpexpect.Request {
			return e.POST("/v1/entities").WithJSON(map[string]any{"kind": "saga", "name": "X"})
		}, http.StatusBadRequest},
		{"empty name", func() *httpexpect.Request {
			return e.POST("/v1/entities").WithJSON(map[string]any{"kind": "task"})
		}, http.StatusBadRequest},
		{"id of another kind", func() *httpexpect.Request {
			return e.POST("/v1/entities").WithJSON(map[string]any{"kind": "task", "name": "X", "id": id.NewJobID().String()})
		}, http.StatusBadRequest},
		{"malformed body", func() *httpexpect.Request {
			return e.POST("/v1/entities").WithText("{")
		}, http.StatusBadRequest},
		{"missing status", func() *httpexpect.Request {
			return e.GET("/v1/entities")
		}, http.StatusBadRequest},
		{"bad limit", func() *httpexpect.Request {
			return e.GET("/v1/entities").WithQuery("status", "running-ok").WithQuery("limit", "-1")
		}, http.StatusBadRequest},
		{"malformed id", func() *httpexpect.Request {
			return e.GET("/v1/entities/{id}", "nope")
		}, http.StatusBadRequest},
		{"attempt id", func() *httpexpect.Request {
			return e.POST("/v1/entities/{id}/cancel", id.NewAttemptID().String())
		}, http.StatusBadRequest},
		{"unknown entity", func() *httpexpect.Request {
			return e.GET("/v1/entities/{id}", id.NewTaskID().String())
		}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req().Expect().Status(tt.want).JSON().Object().ContainsKey("error")
		})
	}
}

// ──────────────────────────────────────────────────
// Dead letter queue
// ──────────────────────────────────────────────────

func TestDLQ(t *testing.T) {
	e, eng, _ := newTestServer(t)
	ctx := context.Background()
	st := eng.DLQService().DLQStore()

	old := &dlq.Entry{
		ID:       id.NewDLQID(),
		Topic:    transport.ExecutorTopic("gone"),
		Key:      "k1",
		Body:     []byte("junk"),
		Error:    "decode: junk",
		Attempts: 1,
		FailedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	recent := &dlq.Entry{
		ID:       id.NewDLQID(),
		Topic:    transport.ExecutorTopic("other"),
		Key:      "k2",
		Body:     []byte("junk"),
		Error:    "decode: junk",
		Attempts: 1,
		FailedAt: time.Now().UTC(),
	}
	for _, entry := range []*dlq.Entry{old, recent} {
		if err := st.PushDLQ(ctx, entry); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	e.GET("/v1/dlq").Expect().Status(http.StatusOK).JSON().Array().Length().IsEqual(2)
	e.GET("/v1/dlq").
		WithQuery("topic", transport.ExecutorTopic("gone")).
		Expect().
		Status(http.StatusOK).
		JSON().Array().Length().IsEqual(1)
	e.GET("/v1/dlq/count").Expect().Status(http.StatusOK).JSON().Object().HasValue("count", 2)

	e.GET("/v1/dlq/{id}", old.ID.String()).
		Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("key", "k1")
	e.GET("/v1/dlq/{id}", id.NewDLQID().String()).Expect().Status(http.StatusNotFound)
	e.GET("/v1/dlq/{id}", id.NewTaskID().String()).Expect().Status(http.StatusBadRequest)

	e.POST("/v1/dlq/{id}/replay", recent.ID.String()).
		Expect().
		Status(http.StatusAccepted).
		JSON().Object().ContainsKey("replayed_at")

	e.POST("/v1/dlq/purge").WithQuery("older_than", "bogus").Expect().Status(http.StatusBadRequest)
	e.POST("/v1/dlq/purge").
		WithQuery("older_than", "24h").
		Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("purged", 1)

	e.GET("/v1/dlq/count").Expect().Status(http.StatusOK).JSON().Object().HasValue("count", 1)
}
