// Package telemetry fans out chat session events to in-process listeners
// such as the CLI renderer.
package telemetry

import (
	"sync"
	"time"
)

// EventType identifies the kind of session event.
type EventType string

const (
	EventMessageOptimistic  EventType = "message.optimistic"
	EventMessageFailed      EventType = "message.failed"
	EventMessageRetried     EventType = "message.retried"
	EventMessageDismissed   EventType = "message.dismissed"
	EventSnapshotApplied    EventType = "snapshot.applied"
	EventPollFailed         EventType = "poll.failed"
	EventThreadCreated      EventType = "thread.created"
	EventThreadSwitched     EventType = "thread.switched"
	EventTypingShown        EventType = "typing.shown"
	EventTypingHidden       EventType = "typing.hidden"
	EventRevealStarted      EventType = "reveal.started"
	EventRevealFrame        EventType = "reveal.frame"
	EventRevealCompleted    EventType = "reveal.completed"
	EventOperationsReplaced EventType = "operations.replaced"
	EventOperationApplied   EventType = "operation.applied"
	EventOperationDeclined  EventType = "operation.declined"
	EventOperationUndone    EventType = "operation.undone"
	EventOperationFailed    EventType = "operation.failed"
	EventCircuitStateChange EventType = "circuit.state_change"
)

// Event describes something that happened in a chat session.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	ThreadID  string         `json:"threadId,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

const subscriberBuffer = 64

// Hub fans out events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
	now         func() time.Time
}

// NewHub constructs a hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{}), now: time.Now}
}

// SetClock overrides the timestamp source for events published without one.
func (h *Hub) SetClock(now func() time.Time) {
	if h == nil || now == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

// Publish notifies all subscribers. It never blocks: a subscriber whose
// buffer is full misses the event. A nil hub discards events.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, subscriberBuffer)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and stops further publication.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}

// Drain returns every event currently buffered on ch without blocking.
func Drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}
