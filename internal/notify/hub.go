// Package notify fans out change events to in-process subscribers
// (SSE streams, tests). Delivery is best effort: a full subscriber
// channel is skipped, never blocked on.
package notify

import (
	"sync"
	"time"
)

const (
	KindWalletChanged = "wallet_changed"
	KindGroupChanged  = "group_changed"
)

type Event struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	Reference string    `json:"reference,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func UserKey(userID string) string   { return "user:" + userID }
func GroupKey(groupID string) string { return "group:" + groupID }

type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string][]chan Event),
	}
}

func (h *Hub) Subscribe(key string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 10)
	h.subscribers[key] = append(h.subscribers[key], ch)
	return ch
}

func (h *Hub) Unsubscribe(key string, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[key]
	for i, sub := range subs {
		if sub == ch {
			h.subscribers[key] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (h *Hub) Notify(key string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[key] {
		select {
		case ch <- event:
		default:
			// Channel full, skip (don't block)
		}
	}
}
