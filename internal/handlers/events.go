package handlers

import (
	"sync"
	"time"
)

// ApprovalEvent is pushed to dashboard websocket subscribers when an
// approval is created or changes state.
type ApprovalEvent struct {
	Type       string      `json:"type"`
	ApprovalID string      `json:"approval_id"`
	Approval   interface{} `json:"approval,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// EventHub fans approval events out to per-user subscribers. Delivery is
// best-effort; a slow subscriber drops events rather than blocking the
// request path.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ApprovalEvent]struct{}
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[string]map[chan ApprovalEvent]struct{}),
	}
}

// Subscribe registers a subscriber for a user's events. The returned
// cancel function must be called when the subscriber goes away.
func (h *EventHub) Subscribe(userID string) (chan ApprovalEvent, func()) {
	ch := make(chan ApprovalEvent, 16)

	h.mu.Lock()
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[chan ApprovalEvent]struct{})
	}
	h.subscribers[userID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.subscribers[userID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.subscribers, userID)
			}
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// Publish delivers an event to every subscriber of the user
func (h *EventHub) Publish(userID string, event ApprovalEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[userID] {
		select {
		case ch <- event:
		default:
		}
	}
}
