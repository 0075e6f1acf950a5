package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/transport"
	"github.com/alpex29/infinitic/transport/memory"
)

func consume(t *testing.T, tr *memory.Transport, topic string, h transport.Handler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = tr.Consume(ctx, topic, h)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func TestSendConsume(t *testing.T) {
	tr := memory.New(memory.WithPartitions(4))
	defer tr.Close()

	got := make(chan string, 3)
	stop := consume(t, tr, "t", func(_ context.Context, d *transport.Delivery) error {
		got <- string(d.Body)
		return nil
	})
	defer stop()

	for _, body := range []string{"a", "b", "c"} {
		if err := tr.Send(context.Background(), transport.Message{Topic: "t", Key: body, Body: []byte(body)}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	seen := map[string]bool{}
	for range 3 {
		select {
		case b := <-got:
			seen[b] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, received %v", seen)
		}
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct bodies, got %v", seen)
	}
}

func TestDelayedSend(t *testing.T) {
	tr := memory.New()
	defer tr.Close()

	received := make(chan time.Time, 1)
	stop := consume(t, tr, "t", func(_ context.Context, _ *transport.Delivery) error {
		received <- time.Now()
		return nil
	})
	defer stop()

	start := time.Now()
	if err := tr.Send(context.Background(), transport.Message{Topic: "t", Key: "k", Body: []byte("x"), After: 150 * time.Millisecond}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case at := <-received:
		if at.Sub(start) < 150*time.Millisecond {
			t.Errorf("delivered after %v, want >= 150ms", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed message never delivered")
	}
}

func TestRedeliveryOnHandlerError(t *testing.T) {
	tr := memory.New(memory.WithRedeliveryDelay(10 * time.Millisecond))
	defer tr.Close()

	var calls atomic.Int32
	done := make(chan int, 1)
	stop := consume(t, tr, "t", func(_ context.Context, d *transport.Delivery) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		done <- d.Attempt
		return nil
	})
	defer stop()

	if err := tr.Send(context.Background(), transport.Message{Topic: "t", Key: "k", Body: []byte("x")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case attempt := <-done:
		if attempt != 3 {
			t.Errorf("Attempt = %d, want 3", attempt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered")
	}
}

func TestSendAfterClose(t *testing.T) {
	tr := memory.New()
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := tr.Send(context.Background(), transport.Message{Topic: "t", Body: []byte("x")})
	if !errors.Is(err, infinitic.ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestLen(t *testing.T) {
	tr := memory.New()
	defer tr.Close()

	for range 5 {
		if err := tr.Send(context.Background(), transport.Message{Topic: "q", Key: "k", Body: []byte("x")}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if n := tr.Len("q"); n != 5 {
		t.Errorf("Len = %d, want 5", n)
	}
}

func TestSendToOwnFullTopic(t *testing.T) {
	tr := memory.New(
		memory.WithPartitions(1),
		memory.WithBufferSize(1),
		memory.WithRedeliveryDelay(5*time.Millisecond),
	)
	defer tr.Close()

	const fanOut = 10
	var handled atomic.Int32
	done := make(chan struct{})
	stop := consume(t, tr, "engine", func(ctx context.Context, d *transport.Delivery) error {
		if string(d.Body) == "seed" {
			// The single-slot partition fills on the first send.
			for range fanOut {
				if err := tr.Send(ctx, transport.Message{Topic: "engine", Key: "k", Body: []byte("child")}); err != nil {
					return err
				}
			}
			return nil
		}
		if handled.Add(1) == fanOut {
			close(done)
		}
		return nil
	})
	defer stop()

	if err := tr.Send(context.Background(), transport.Message{Topic: "engine", Key: "k", Body: []byte("seed")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handled %d of %d messages: sending to a full topic blocked its consumer", handled.Load(), fanOut)
	}
}
