// Package events fans lifecycle events out to in-process subscribers.
package events

import (
	"sync"
	"time"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindPromote         Kind = "promote"
	KindDemote          Kind = "demote"
	KindPlanSelected    Kind = "plan_selected"
	KindCompletionCheck Kind = "completion_check"
	KindReview          Kind = "review"
	KindApproved        Kind = "approved"
	KindRejected        Kind = "rejected"
	KindTimeout         Kind = "timeout"
)

// Event describes one change to a task.
type Event struct {
	Kind   Kind      `json:"kind"`
	SKU    string    `json:"sku"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Plan   string    `json:"plan,omitempty"`
	Charge string    `json:"charge,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Sink receives events after the change that produced them committed.
type Sink interface {
	Publish(Event)
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// Client is a connected subscriber.
type Client struct {
	ID     string
	Events chan Event
	Done   chan struct{}
}

// Hub keeps a ring of recent events and forwards new ones to subscribers.
type Hub struct {
	clients     map[string]*Client
	buffer      []Event
	bufferLimit int
	closed      bool
	mu          sync.RWMutex
}

// NewHub creates a hub that replays up to bufferLimit recent events to
// new subscribers.
func NewHub(bufferLimit int) *Hub {
	if bufferLimit <= 0 {
		bufferLimit = 100
	}
	return &Hub{
		clients:     make(map[string]*Client),
		buffer:      make([]Event, 0, bufferLimit),
		bufferLimit: bufferLimit,
	}
}

// Subscribe registers a client and replays the buffered events to it.
func (h *Hub) Subscribe(clientID string) *Client {
	client := &Client{
		ID:     clientID,
		Events: make(chan Event, h.bufferLimit),
		Done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(client.Done)
		return client
	}
	for _, e := range h.buffer {
		select {
		case client.Events <- e:
		default:
		}
	}
	h.clients[clientID] = client
	return client
}

// Unsubscribe removes a client.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[clientID]; ok {
		close(client.Done)
		delete(h.clients, clientID)
	}
}

// Close ends every subscription; later subscribers are ended at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, client := range h.clients {
		close(client.Done)
		delete(h.clients, id)
	}
}

// Publish buffers e and forwards it to every subscriber. Slow subscribers
// miss events rather than block the publisher.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.buffer) >= h.bufferLimit {
		h.buffer = h.buffer[1:]
	}
	h.buffer = append(h.buffer, e)

	for _, client := range h.clients {
		select {
		case client.Events <- e:
		default:
		}
	}
}

// Recent returns a copy of the buffered events, oldest first.
func (h *Hub) Recent() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.buffer))
	copy(out, h.buffer)
	return out
}

// ClientCount returns the number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
