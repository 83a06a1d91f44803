package animation

import (
	"sync"
	"time"

	"github.com/odvcencio/taskchat/pkg/conversation"
	"github.com/odvcencio/taskchat/pkg/scheduler"
	"github.com/odvcencio/taskchat/pkg/telemetry"
)

// Typing drives the "assistant is typing" indicator shown after a send.
type Typing struct {
	timers *scheduler.Timers
	hub    *telemetry.Hub

	minDisplay time.Duration
	fadeDelay  time.Duration
	known      func() (map[string]struct{}, bool)

	mu      sync.Mutex
	waiting bool
	visible bool
	sentAt  time.Time
	shownAt time.Time
	// assistant ids present when the send was made; nil until known
	baseline map[string]struct{}
}

func newTyping(timers *scheduler.Timers, hub *telemetry.Hub, minDisplay, fadeDelay time.Duration, known func() (map[string]struct{}, bool)) *Typing {
	return &Typing{timers: timers, hub: hub, minDisplay: minDisplay, fadeDelay: fadeDelay, known: known}
}

// Schedule shows the indicator after delay unless a reply arrives first. A
// reply is any confirmed assistant message that was not on screen when
// Schedule was called.
func (t *Typing) Schedule(delay time.Duration, sentAt time.Time) {
	baseline, ok := t.known()
	if !ok {
		baseline = nil
	}

	t.mu.Lock()
	t.waiting = true
	t.sentAt = sentAt
	t.baseline = baseline
	t.mu.Unlock()

	t.timers.Cancel(scheduler.KeyTypingClear)
	t.timers.Schedule(scheduler.KeyTypingShow, delay, t.show)
}

func (t *Typing) show() {
	t.mu.Lock()
	if !t.waiting || t.visible {
		t.mu.Unlock()
		return
	}
	t.visible = true
	t.shownAt = t.timers.Clock().Now()
	t.mu.Unlock()

	t.hub.Publish(telemetry.Event{Type: telemetry.EventTypingShown})
}

// Cancel drops a pending indicator and hides a visible one immediately.
func (t *Typing) Cancel() {
	t.timers.Cancel(scheduler.KeyTypingShow)
	t.timers.Cancel(scheduler.KeyTypingClear)

	t.mu.Lock()
	wasVisible := t.visible
	t.waiting = false
	t.visible = false
	t.mu.Unlock()

	if wasVisible {
		t.hub.Publish(telemetry.Event{Type: telemetry.EventTypingHidden})
	}
}

// Waiting reports whether a reply is expected and returns the send time.
func (t *Typing) Waiting() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentAt, t.waiting
}

// Visible reports whether the indicator is on screen.
func (t *Typing) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// replyIn reports whether messages hold a reply to the pending send. Replies
// are recognised by id, so server clock skew and missing timestamps do not
// matter. When the send happened before any history was loaded, the first
// list seen becomes the baseline and only messages stamped after the send
// count as replies in it.
func (t *Typing) replyIn(messages []conversation.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.waiting {
		return false
	}
	for _, m := range messages {
		if !m.IsAssistant() || m.Optimistic {
			continue
		}
		if t.baseline == nil {
			if m.Timestamp.After(t.sentAt) {
				return true
			}
			continue
		}
		if _, ok := t.baseline[m.ID]; !ok {
			return true
		}
	}
	if t.baseline == nil {
		t.baseline = make(map[string]struct{})
		for _, m := range messages {
			if m.IsAssistant() && !m.Optimistic {
				t.baseline[m.ID] = struct{}{}
			}
		}
	}
	return false
}

// ReplyArrived stops waiting for a reply. A pending indicator is cancelled;
// a visible one stays up until it has been displayed for the minimum
// duration. It returns how long the reply's reveal should wait so that it
// starts after the indicator has faded.
func (t *Typing) ReplyArrived() time.Duration {
	t.timers.Cancel(scheduler.KeyTypingShow)

	t.mu.Lock()
	if !t.waiting {
		t.mu.Unlock()
		return 0
	}
	t.waiting = false
	if !t.visible {
		t.mu.Unlock()
		return 0
	}
	remaining := t.minDisplay - t.timers.Clock().Now().Sub(t.shownAt)
	if remaining < 0 {
		remaining = 0
	}
	t.mu.Unlock()

	t.timers.Schedule(scheduler.KeyTypingClear, remaining, t.hide)
	return remaining + t.fadeDelay
}

func (t *Typing) hide() {
	t.mu.Lock()
	wasVisible := t.visible
	t.visible = false
	t.mu.Unlock()

	if wasVisible {
		t.hub.Publish(telemetry.Event{Type: telemetry.EventTypingHidden})
	}
}

func (t *Typing) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiting = false
	t.visible = false
	t.sentAt = time.Time{}
	t.shownAt = time.Time{}
	t.baseline = nil
}
