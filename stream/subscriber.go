package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives the events of the topics it subscribed to. Events
// are dropped, never queued, once its buffer is full.
type Subscriber struct {
	id      string
	ch      chan *Event
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
}

func newSubscriber(subscriberID string, bufferSize int) *Subscriber {
	return &Subscriber{id: subscriberID, ch: make(chan *Event, bufferSize)}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is removed
// or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns how many events did not fit in the buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) send(evt *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
