package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alpex29/infinitic/codec"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func statusDelivery(t *testing.T, c codec.Codec, entityID id.ID, from, to entity.Status) *transport.Delivery {
	t.Helper()
	body, err := c.Encode(message.Wrap(&message.StatusUpdated{
		EntityID:  entityID,
		Name:      "email.send",
		OldStatus: from,
		NewStatus: to,
	}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &transport.Delivery{Topic: transport.MonitoringTopic, Key: entityID.String(), Body: body, Attempt: 1}
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func TestHandle_StatusChanged(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	taskID := id.NewTaskID()

	firehose := b.Subscribe(TopicFirehose)
	kindSub := b.Subscribe(KindTopic(entity.KindTask))
	entitySub := b.Subscribe(EntityTopic(taskID))
	jobs := b.Subscribe(KindTopic(entity.KindJob))

	if err := b.Handle(context.Background(), statusDelivery(t, &codec.JSON{}, taskID, entity.StatusAbsent, entity.StatusRunningOK)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	for _, sub := range []*Subscriber{firehose, kindSub, entitySub} {
		evt := receive(t, sub)
		if evt.Type != EventStatusChanged {
			t.Errorf("Type = %q, want %q", evt.Type, EventStatusChanged)
		}
		var data StatusData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if data.EntityID != taskID.String() || data.Kind != "task" || data.NewStatus != string(entity.StatusRunningOK) {
			t.Errorf("data = %+v", data)
		}
	}

	select {
	case evt := <-jobs.C():
		t.Fatalf("job subscriber received %+v", evt)
	default:
	}

	if got := b.Stats().Published; got != 3 {
		t.Errorf("Published = %d, want 3", got)
	}
}

func TestHandle_DeduplicatesSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithCodec(&codec.Msgpack{}))
	taskID := id.NewTaskID()
	sub := b.Subscribe(TopicFirehose, EntityTopic(taskID), KindTopic(entity.KindTask))

	if err := b.Handle(context.Background(), statusDelivery(t, &codec.Msgpack{}, taskID, entity.StatusRunningOK, entity.StatusCompleted)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	receive(t, sub)

	select {
	case evt := <-sub.C():
		t.Fatalf("duplicate event %+v", evt)
	default:
	}
}

func TestHandle_IgnoresOtherDeliveries(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe(TopicFirehose)

	junk := &transport.Delivery{Topic: transport.MonitoringTopic, Body: []byte("junk")}
	if err := b.Handle(context.Background(), junk); err != nil {
		t.Fatalf("undecodable delivery: %v", err)
	}

	body, err := (&codec.JSON{}).Encode(message.Wrap(&message.Cancel{EntityID: id.NewTaskID()}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := b.Handle(context.Background(), &transport.Delivery{Body: body}); err != nil {
		t.Fatalf("cancel delivery: %v", err)
	}

	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected event %+v", evt)
	default:
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithBufferSize(1))
	sub := b.Subscribe(TopicFirehose)
	taskID := id.NewTaskID()

	for range 3 {
		if err := b.Handle(context.Background(), statusDelivery(t, &codec.JSON{}, taskID, entity.StatusRunningOK, entity.StatusRunningWarning)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	if got := sub.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
	stats := b.Stats()
	if stats.Published != 1 || stats.Dropped != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestOnDeadLettered(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe(TopicDLQ)
	entry := &dlq.Entry{ID: id.NewDLQID(), Topic: "infinitic.engine.task", Error: "decode: junk"}

	if err := b.OnDeadLettered(context.Background(), entry); err != nil {
		t.Fatalf("OnDeadLettered: %v", err)
	}

	evt := receive(t, sub)
	var data DeadLetterData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Type != EventDeadLettered || data.EntryID != entry.ID.String() || data.EntityID != "" {
		t.Errorf("event = %+v, data = %+v", evt, data)
	}
}

func TestUnsubscribeAndShutdown(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	a := b.Subscribe(TopicFirehose)
	c := b.Subscribe(TopicDLQ)

	b.Unsubscribe(a)
	if _, ok := <-a.C(); ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
	if got := b.Stats().Subscribers; got != 1 {
		t.Errorf("Subscribers = %d, want 1", got)
	}

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	if _, ok := <-c.C(); ok {
		t.Fatal("expected closed channel after shutdown")
	}

	late := b.Subscribe(TopicFirehose)
	if _, ok := <-late.C(); ok {
		t.Fatal("expected a closed subscriber after shutdown")
	}
	if stats := b.Stats(); stats.Subscribers != 0 || stats.Topics != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic string
		ok    bool
	}{
		{TopicFirehose, true},
		{TopicDLQ, true},
		{KindTopic(entity.KindWorkflow), true},
		{EntityTopic(id.NewJobID()), true},
		{"kind:saga", false},
		{"entity:" + id.NewAttemptID().String(), false},
		{"entity:", false},
		{"queue:email", false},
		{"jobs", false},
	}
	for _, tt := range tests {
		err := ValidateTopic(tt.topic)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateTopic(%q) = %v, want ok=%v", tt.topic, err, tt.ok)
		}
	}
}
