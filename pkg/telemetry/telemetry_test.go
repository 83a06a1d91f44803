package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	hub := NewHub()
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	hub.SetClock(func() time.Time { return fixed })

	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	defer unsubA()
	defer unsubB()

	hub.Publish(Event{Type: EventMessageOptimistic, MessageID: "m1"})

	for _, ch := range []<-chan Event{a, b} {
		events := Drain(ch)
		require.Len(t, events, 1)
		assert.Equal(t, EventMessageOptimistic, events[0].Type)
		assert.Equal(t, fixed, events[0].Timestamp)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	hub := NewHub()
	ch, unsub := hub.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(Event{Type: EventRevealFrame})
	}
	assert.Len(t, Drain(ch), subscriberBuffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, unsub := hub.Subscribe()
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestCloseStopsPublication(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe()
	hub.Close()
	hub.Close()
	hub.Publish(Event{Type: EventTypingShown})

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestNilHubPublishIsNoop(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() { hub.Publish(Event{Type: EventTypingHidden}) })
}
