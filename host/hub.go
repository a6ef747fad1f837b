// Package host is the native host runtime: it supervises the backend process,
// publishes that process's output and lifecycle as events, and bridges those
// events into client state independently of the network transports.
package host

import (
	"slices"
	"sync"
)

// EventKind names a host-pushed event.
type EventKind string

const (
	EventLog        EventKind = "py-log"
	EventError      EventKind = "py-error"
	EventTerminated EventKind = "backend-terminated"
)

// Event is one host notification. Line is set for log and error events;
// ExitCode is set for termination and is nil when the code is unknown.
type Event struct {
	Kind     EventKind
	Line     string
	ExitCode *int
}

// Handler consumes events. Handlers run on the publishing goroutine and must
// not block.
type Handler func(Event)

// Hub fans events out to explicit subscriptions.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventKind]map[uint64]Handler
}

func NewHub() *Hub {
	return &Hub{subs: make(map[EventKind]map[uint64]Handler)}
}

// Subscription is the cancellation token returned by Subscribe.
type Subscription struct {
	hub  *Hub
	kind EventKind
	id   uint64
	once sync.Once
}

// Subscribe registers handler for kind until the returned subscription is
// cancelled.
func (h *Hub) Subscribe(kind EventKind, handler Handler) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.subs[kind] == nil {
		h.subs[kind] = make(map[uint64]Handler)
	}
	h.subs[kind][id] = handler
	return &Subscription{hub: h, kind: kind, id: id}
}

// Cancel removes the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs[s.kind], s.id)
		s.hub.mu.Unlock()
	})
}

// Publish delivers ev to every current subscriber of its kind, in
// subscription order.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	subs := h.subs[ev.Kind]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, subs[id])
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(ev)
	}
}

// Subscribers reports how many handlers are registered for kind.
func (h *Hub) Subscribers(kind EventKind) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[kind])
}
