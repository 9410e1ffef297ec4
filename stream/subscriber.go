package stream

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer attached to the broker. Delivery is gated by
// credits: every non-final event costs one credit and a subscriber with
// none left is skipped until the consumer grants more. Final events
// ignore credits so a watcher always learns how its job ended, unless
// its buffer is full.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64
	dropped atomic.Int64

	// mu guards everything below and orders send against Close.
	mu     sync.RWMutex
	topics map[string]struct{}
	only   map[EventType]struct{}
	closed bool
}

// NewSubscriber returns a subscriber buffering up to bufferSize events
// and holding initialCredits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: map[string]struct{}{},
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits grants n more deliveries.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining credits.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped returns how many events were skipped for lack of credits or
// buffer space.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Only restricts delivery to the given event types. Calling it with no
// types lifts the restriction.
func (s *Subscriber) Only(types ...EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(types) == 0 {
		s.only = nil
		return
	}
	s.only = make(map[EventType]struct{}, len(types))
	for _, t := range types {
		s.only[t] = struct{}{}
	}
}

// Topics returns the subscribed topic names in sorted order.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Subscriber) joined(topic string, on bool) {
	s.mu.Lock()
	if on {
		s.topics[topic] = struct{}{}
	} else {
		delete(s.topics, topic)
	}
	s.mu.Unlock()
}

// send hands evt to the consumer without blocking. It reports whether the
// event was queued. Events excluded by Only are not counted as dropped.
func (s *Subscriber) send(evt *Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	if s.only != nil {
		if _, ok := s.only[evt.Type]; !ok {
			return false
		}
	}

	charged := false
	if !evt.Final {
		if !s.takeCredit() {
			s.dropped.Add(1)
			return false
		}
		charged = true
	}

	select {
	case s.ch <- evt:
		return true
	default:
		if charged {
			s.credits.Add(1)
		}
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) takeCredit() bool {
	for {
		n := s.credits.Load()
		if n <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Close closes the event channel. Later calls are no-ops.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
