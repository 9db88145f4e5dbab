// Package notify delivers response events to subscribers without letting a
// slow subscriber stall the producer.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

// Kind identifies an event.
type Kind string

const (
	ChunkReceived         Kind = "chunk_received"
	ThinkingChunkReceived Kind = "thinking_chunk_received"
	ResponseCompleted     Kind = "response_completed"
	ResponseStopped       Kind = "response_stopped"
)

// Event is one notification about a response.
type Event struct {
	Kind      Kind      `json:"kind"`
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	Delta     string    `json:"delta,omitempty"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Sink accepts events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Publish(e)
		}
	})
}

// DefaultBuffer is the per-subscriber queue size used when none is given.
const DefaultBuffer = 256

// Hub is an in-process publisher. Each subscriber has its own buffered
// queue; events reach a subscriber in publish order, and an event that does
// not fit in a full queue is dropped for that subscriber only.
type Hub struct {
	buffer int

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewHub returns a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: map[*Subscription]struct{}{}}
}

// Subscription receives events from a Hub until closed.
type Subscription struct {
	hub     *Hub
	ch      chan Event
	filter  func(Event) bool
	dropped atomic.Int64
	once    sync.Once
}

// Subscribe registers a subscriber. A nil filter receives every event.
func (h *Hub) Subscribe(filter func(Event) bool) *Subscription {
	s := &Subscription{hub: h, ch: make(chan Event, h.buffer), filter: filter}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish offers e to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			n := s.dropped.Add(1)
			logging.Logger().Warn("notification dropped for slow subscriber", "kind", e.Kind, "message_id", e.MessageID, "dropped_total", n)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Events returns the receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped returns how many events were dropped for this subscriber.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// ForChat returns a filter matching events of one chat.
func ForChat(chatID string) func(Event) bool {
	return func(e Event) bool { return e.ChatID == chatID }
}
