package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/stream"
)

func TestEvents_StreamsStatusChanges(t *testing.T) {
	e, eng, url := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/v1/events?topic=kind:task", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Headers are flushed after the subscription is registered.
	if got := eng.Stream().Stats().Subscribers; got != 1 {
		t.Fatalf("Subscribers = %d, want 1", got)
	}

	raw := e.POST("/v1/entities").
		WithJSON(map[string]any{"kind": "task", "name": "email.send"}).
		Expect().
		Status(http.StatusCreated).
		JSON().Object().Value("id").String().Raw()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var evt stream.Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		var data stream.StatusData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
		if data.EntityID != raw {
			continue
		}
		if evt.Type != stream.EventStatusChanged || data.NewStatus != string(entity.StatusRunningOK) {
			t.Fatalf("event = %+v, data = %+v", evt, data)
		}
		return
	}
	t.Fatalf("stream ended before the status change: %v", scanner.Err())
}

func TestEvents_InvalidTopic(t *testing.T) {
	e, _, _ := newTestServer(t)

	e.GET("/v1/events").
		WithQuery("topic", "queue:email").
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().ContainsKey("error")
}
