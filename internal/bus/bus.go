// Package bus broadcasts agent and device events to local subscribers
// (gateway WebSocket clients, the chat REPL, tests).
package bus

import (
	"sort"
	"sync"
)

// Event is one broadcast notification. Name is a protocol event name
// (protocol.EventAgent, protocol.EventDevice, ...).
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler receives broadcast events. Handlers must not block.
type EventHandler func(Event)

// Publisher is the publishing half of the bus.
type Publisher interface {
	Broadcast(event Event)
}

// MessageBus fans events out to subscribers.
type MessageBus struct {
	subscribers map[string]EventHandler
	subMu       sync.RWMutex
}

func New() *MessageBus {
	return &MessageBus{subscribers: make(map[string]EventHandler)}
}

// Subscribe registers an event subscriber under id, replacing any previous one.
func (mb *MessageBus) Subscribe(id string, handler EventHandler) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	mb.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (mb *MessageBus) Unsubscribe(id string) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	delete(mb.subscribers, id)
}

// Subscribers returns the registered subscriber IDs, sorted.
func (mb *MessageBus) Subscribers() []string {
	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	ids := make([]string, 0, len(mb.subscribers))
	for id := range mb.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast sends an event to all subscribers.
func (mb *MessageBus) Broadcast(event Event) {
	if mb == nil {
		return
	}
	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	for _, handler := range mb.subscribers {
		handler(event) // handlers should be non-blocking
	}
}

// Close drops every subscriber.
func (mb *MessageBus) Close() {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	clear(mb.subscribers)
}
