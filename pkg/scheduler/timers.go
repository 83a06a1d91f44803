package scheduler

import (
	"sync"
	"time"
)

// Key names the purpose of a pending timer. At most one timer is pending
// per key.
type Key string

const (
	KeyPoll        Key = "poll"
	KeyRefresh     Key = "refresh-debounce"
	KeySuggest     Key = "suggest-debounce"
	KeyTypingShow  Key = "typing-show"
	KeyTypingClear Key = "typing-clear"
	KeyRevealStart Key = "reveal-start"
	KeyRevealTick  Key = "reveal-tick"
)

// Timers is a registry of cancellable timeouts keyed by purpose.
type Timers struct {
	clock   Clock
	mu      sync.Mutex
	entries map[Key]*entry
}

type entry struct {
	timer Timer
}

// NewTimers creates a registry backed by clock. A nil clock means Real.
func NewTimers(clock Clock) *Timers {
	if clock == nil {
		clock = Real{}
	}
	return &Timers{clock: clock, entries: make(map[Key]*entry)}
}

// Clock returns the clock backing the registry.
func (t *Timers) Clock() Clock {
	return t.clock
}

// Schedule arms fn under key after d, replacing any timer already pending
// under that key.
func (t *Timers) Schedule(key Key, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[key]; ok {
		old.timer.Stop()
	}
	t.armLocked(key, d, fn)
}

// ScheduleOnce arms fn under key only when nothing is pending there yet.
// It reports whether a timer was armed.
func (t *Timers) ScheduleOnce(key Key, d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; ok {
		return false
	}
	t.armLocked(key, d, fn)
	return true
}

func (t *Timers) armLocked(key Key, d time.Duration, fn func()) {
	e := &entry{}
	e.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.entries[key] != e {
			t.mu.Unlock()
			return
		}
		delete(t.entries, key)
		t.mu.Unlock()
		fn()
	})
	t.entries[key] = e
}

// Cancel stops the timer pending under key. It reports whether one was pending.
func (t *Timers) Cancel(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, key)
	return true
}

// CancelAll stops every pending timer.
func (t *Timers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
}

// Pending reports whether a timer is armed under key.
func (t *Timers) Pending(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}
