// Package events is a small in-process pub/sub hub used to push state
// changes to the stats websocket.
package events

import "sync"

// Topic names published by the proxy.
const (
	TopicCredentialsChanged = "credentials.changed"
	TopicStatsUpdated       = "stats.updated"
)

// Event is one published message.
type Event struct {
	Topic   string
	Payload any
}

// Hub fans events out to subscribers. Slow subscribers drop events
// rather than block publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscription
	next int
}

type subscription struct {
	topics map[string]struct{}
	ch     chan Event
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscription)}
}

// Subscribe registers interest in topics; an empty list means all.
// The returned cancel func drops the subscription and closes the
// channel.
func (h *Hub) Subscribe(topics ...string) (<-chan Event, func()) {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}

	h.mu.Lock()
	id := h.next
	h.next++
	sub := subscription{topics: set, ch: make(chan Event, 16)}
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if len(sub.topics) > 0 {
			if _, ok := sub.topics[ev.Topic]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
