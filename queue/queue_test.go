package queue

import (
	"sync"
	"testing"
	"time"
)

func acquireN(m *Manager, name string, n int) int {
	got := 0
	for range n {
		if m.Acquire(name) {
			got++
		}
	}
	return got
}

func TestManager_Limits(t *testing.T) {
	tests := []struct {
		name    string
		configs []Config
		task    string
		tries   int
		want    int
	}{
		{"no configs", nil, "email.send", 20, 20},
		{"other task limited", []Config{{Name: "report.build", MaxConcurrency: 1}}, "email.send", 5, 5},
		{"concurrency cap", []Config{{Name: "email.send", MaxConcurrency: 2}}, "email.send", 5, 2},
		{"burst", []Config{{Name: "email.send", RateLimit: 0.001, RateBurst: 3}}, "email.send", 5, 3},
		{"burst defaults to 1", []Config{{Name: "email.send", RateLimit: 0.001}}, "email.send", 5, 1},
		{"cap under burst", []Config{{Name: "email.send", MaxConcurrency: 1, RateLimit: 0.001, RateBurst: 10}}, "email.send", 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.configs...)
			if got := acquireN(m, tt.task, tt.tries); got != tt.want {
				t.Errorf("acquired %d of %d, want %d", got, tt.tries, tt.want)
			}
		})
	}
}

func TestManager_ReleaseFreesSlot(t *testing.T) {
	m := NewManager(Config{Name: "email.send", MaxConcurrency: 1})

	if !m.Acquire("email.send") {
		t.Fatal("first Acquire refused")
	}
	if m.Acquire("email.send") {
		t.Fatal("second Acquire should be refused")
	}
	m.Release("email.send")
	if !m.Acquire("email.send") {
		t.Fatal("Acquire after Release refused")
	}

	// Extra releases never go below zero.
	m.Release("email.send")
	m.Release("email.send")
	if n := m.ActiveCount("email.send"); n != 0 {
		t.Errorf("ActiveCount = %d, want 0", n)
	}
}

func TestManager_FullTaskKeepsRateTokens(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 1, RateLimit: 0.001, RateBurst: 2})

	m.Acquire("q")
	// Refused on concurrency: the second token must survive.
	if m.Acquire("q") {
		t.Fatal("expected refusal at concurrency 1")
	}
	m.Release("q")
	if !m.Acquire("q") {
		t.Fatal("second token was consumed by a refused Acquire")
	}
}

func TestManager_RateRefill(t *testing.T) {
	m := NewManager(Config{Name: "q", RateLimit: 20, RateBurst: 1})

	if !m.Acquire("q") {
		t.Fatal("first Acquire refused")
	}
	m.Release("q")
	if m.Acquire("q") {
		t.Fatal("expected the bucket to be empty")
	}
	time.Sleep(80 * time.Millisecond)
	if !m.Acquire("q") {
		t.Fatal("Acquire refused after refill")
	}
}

func TestManager_SetQueueConfigKeepsActive(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 1})
	m.Acquire("q")

	m.SetQueueConfig(Config{Name: "q", MaxConcurrency: 3})
	if n := m.ActiveCount("q"); n != 1 {
		t.Fatalf("ActiveCount = %d, want 1 after reconfiguration", n)
	}
	if got := acquireN(m, "q", 5); got != 2 {
		t.Errorf("acquired %d, want 2 more under the new cap", got)
	}

	m.SetQueueConfig(Config{Name: "new", MaxConcurrency: 1})
	if got := acquireN(m, "new", 2); got != 1 {
		t.Errorf("acquired %d on an added task, want 1", got)
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(
		Config{Name: "report.build", RateLimit: 5, RateBurst: 1},
		Config{Name: "email.send", MaxConcurrency: 2},
	)
	acquireN(m, "email.send", 3)
	acquireN(m, "unlimited", 3)

	stats := m.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 entries, got %+v", stats)
	}
	want := Stats{Name: "email.send", Active: 2, MaxConcurrency: 2, Throttled: 1}
	if stats[0] != want {
		t.Errorf("stats[0] = %+v, want %+v", stats[0], want)
	}
	if stats[1].Name != "report.build" || stats[1].RateLimit != 5 || stats[1].Throttled != 0 {
		t.Errorf("stats[1] = %+v", stats[1])
	}
}

func TestManager_ConcurrentAcquireNeverExceedsCap(t *testing.T) {
	const limit = 4
	m := NewManager(Config{Name: "q", MaxConcurrency: limit})

	var (
		mu      sync.Mutex
		running int
		peak    int
		wg      sync.WaitGroup
	)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !m.Acquire("q") {
				return
			}
			mu.Lock()
			running++
			peak = max(peak, running)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			m.Release("q")
		}()
	}
	wg.Wait()

	if peak > limit {
		t.Errorf("peak concurrency %d exceeds cap %d", peak, limit)
	}
	if n := m.ActiveCount("q"); n != 0 {
		t.Errorf("ActiveCount = %d after all releases", n)
	}
}
