// Package animation decides how assistant replies are revealed: at most one
// message reveals character by character at a time, newer replies interrupt
// older reveals, and history loaded on first population is shown as is.
package animation

import (
	"maps"
	"sync"
	"time"

	"github.com/odvcencio/taskchat/pkg/conversation"
	"github.com/odvcencio/taskchat/pkg/logging"
	"github.com/odvcencio/taskchat/pkg/scheduler"
	"github.com/odvcencio/taskchat/pkg/telemetry"
)

// Config controls reveal pacing.
type Config struct {
	RevealInterval   time.Duration
	RunesPerTick     int
	StartDelay       time.Duration
	MinTypingDisplay time.Duration
}

// DefaultConfig returns the standard pacing.
func DefaultConfig() Config {
	return Config{
		RevealInterval:   20 * time.Millisecond,
		RunesPerTick:     1,
		StartDelay:       100 * time.Millisecond,
		MinTypingDisplay: 500 * time.Millisecond,
	}
}

// Decision is the presentation of one message.
type Decision struct {
	ID            string
	ShouldAnimate bool
	Visible       string
}

type reveal struct {
	id      string
	content []rune
	shown   int
	started bool
}

// Animator owns the seen-set and the single in-flight reveal.
type Animator struct {
	cfg    Config
	timers *scheduler.Timers
	hub    *telemetry.Hub
	logger *logging.Logger
	typing *Typing

	mu          sync.Mutex
	initialized bool
	seen        map[string]struct{}
	// confirmed assistant ids observed since the last reset
	assistants map[string]struct{}
	current     *reveal
}

// Option configures an Animator.
type Option func(*Animator)

// WithHub attaches an event hub.
func WithHub(h *telemetry.Hub) Option { return func(a *Animator) { a.hub = h } }

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option { return func(a *Animator) { a.logger = l } }

// New creates an animator scheduling through timers.
func New(timers *scheduler.Timers, cfg Config, opts ...Option) *Animator {
	if cfg.RunesPerTick <= 0 {
		cfg.RunesPerTick = 1
	}
	if cfg.RevealInterval <= 0 {
		cfg.RevealInterval = DefaultConfig().RevealInterval
	}
	a := &Animator{
		cfg:    cfg,
		timers: timers,
		seen:       make(map[string]struct{}),
		assistants: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.typing = newTyping(timers, a.hub, cfg.MinTypingDisplay, cfg.StartDelay, a.knownAssistants)
	return a
}

// Typing returns the typing indicator.
func (a *Animator) Typing() *Typing {
	return a.typing
}

// Observe applies the reveal rules to the current message list. It must be
// called after every change to the list.
func (a *Animator) Observe(messages []conversation.Message) {
	a.mu.Lock()
	for _, m := range messages {
		if m.IsAssistant() && !m.Optimistic {
			a.assistants[m.ID] = struct{}{}
		}
	}

	var completed []string
	var started string
	if !a.initialized {
		a.initialized = true
		for _, m := range messages {
			if m.IsAssistant() {
				a.seen[m.ID] = struct{}{}
			}
		}
	} else {
		completed, started = a.applyLocked(messages)
	}
	a.mu.Unlock()

	for _, id := range completed {
		a.publishCompleted(id)
	}

	var delay time.Duration
	if a.typing.replyIn(messages) {
		delay = a.typing.ReplyArrived()
	}
	if started == "" {
		return
	}
	a.timers.Cancel(scheduler.KeyRevealTick)
	a.timers.Schedule(scheduler.KeyRevealStart, delay, func() { a.tick(started) })
	a.hub.Publish(telemetry.Event{Type: telemetry.EventRevealStarted, MessageID: started, Data: map[string]any{"delay_ms": delay.Milliseconds()}})
	_ = a.logger.Debug(logging.CategoryAnimation, "reveal_scheduled", "", map[string]any{"message_id": started, "delay_ms": delay.Milliseconds()})
}

// applyLocked updates the seen-set and the current reveal for messages. It
// returns the reveals that finished and the id of a reveal that started.
func (a *Animator) applyLocked(messages []conversation.Message) (completed []string, started string) {
	activeIdx := -1
	for i, m := range messages {
		if !m.IsAssistant() {
			continue
		}
		if activeIdx < 0 || !m.Timestamp.Before(messages[activeIdx].Timestamp) {
			activeIdx = i
		}
	}

	for i, m := range messages {
		if !m.IsAssistant() || i == activeIdx {
			continue
		}
		if a.current != nil && a.current.id == m.ID {
			completed = append(completed, a.finishLocked())
			continue
		}
		a.seen[m.ID] = struct{}{}
	}

	if a.current != nil && conversation.IndexOf(messages, a.current.id) < 0 {
		completed = append(completed, a.finishLocked())
	}

	if activeIdx < 0 {
		return completed, ""
	}
	active := messages[activeIdx]
	_, seen := a.seen[active.ID]
	switch {
	case seen:
	case a.current != nil && a.current.id == active.ID:
		a.current.content = []rune(active.Content)
	case active.Error || active.Content == "":
		a.seen[active.ID] = struct{}{}
	default:
		if a.current != nil {
			completed = append(completed, a.finishLocked())
		}
		a.current = &reveal{id: active.ID, content: []rune(active.Content)}
		started = active.ID
	}
	return completed, started
}

// knownAssistants returns the confirmed assistant ids observed so far. ok is
// false until the first population has been observed.
func (a *Animator) knownAssistants() (map[string]struct{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil, false
	}
	return maps.Clone(a.assistants), true
}

func (a *Animator) tick(id string) {
	a.mu.Lock()
	if a.current == nil || a.current.id != id {
		a.mu.Unlock()
		return
	}
	r := a.current
	r.started = true
	r.shown += a.cfg.RunesPerTick
	if r.shown >= len(r.content) {
		r.shown = len(r.content)
		done := a.finishLocked()
		a.mu.Unlock()
		a.publishCompleted(done)
		return
	}
	shown := r.shown
	a.mu.Unlock()

	a.hub.Publish(telemetry.Event{Type: telemetry.EventRevealFrame, MessageID: id, Data: map[string]any{"shown": shown}})
	a.timers.Schedule(scheduler.KeyRevealTick, a.cfg.RevealInterval, func() { a.tick(id) })
}

// finishLocked completes the current reveal and returns its id.
func (a *Animator) finishLocked() string {
	id := a.current.id
	a.seen[id] = struct{}{}
	a.current = nil
	return id
}

func (a *Animator) publishCompleted(id string) {
	a.timers.Cancel(scheduler.KeyRevealStart)
	a.timers.Cancel(scheduler.KeyRevealTick)
	a.hub.Publish(telemetry.Event{Type: telemetry.EventRevealCompleted, MessageID: id})
	_ = a.logger.Debug(logging.CategoryAnimation, "reveal_completed", "", map[string]any{"message_id": id})
}

// Complete finishes the reveal of id instantly. Calls for a message that is
// not revealing are no-ops.
func (a *Animator) Complete(id string) bool {
	a.mu.Lock()
	if a.current == nil || a.current.id != id {
		a.mu.Unlock()
		return false
	}
	done := a.finishLocked()
	a.mu.Unlock()
	a.publishCompleted(done)
	return true
}

// ShouldAnimate reports whether id is the message currently revealing.
func (a *Animator) ShouldAnimate(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil && a.current.id == id
}

// Animating returns the id of the revealing message, if any.
func (a *Animator) Animating() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return "", false
	}
	return a.current.id, true
}

// Seen reports whether id has been displayed in full.
func (a *Animator) Seen(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.seen[id]
	return ok
}

// Visible returns the text of m that should currently be on screen.
func (a *Animator) Visible(m conversation.Message) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.id != m.ID {
		return m.Content
	}
	return string(a.current.content[:a.current.shown])
}

// Plan returns the presentation of every message in order.
func (a *Animator) Plan(messages []conversation.Message) []Decision {
	out := make([]Decision, len(messages))
	for i, m := range messages {
		out[i] = Decision{ID: m.ID, ShouldAnimate: a.ShouldAnimate(m.ID), Visible: a.Visible(m)}
	}
	return out
}

// Reset forgets the seen-set and any reveal, for a conversation switch. The
// next Observe is treated as a first population.
func (a *Animator) Reset() {
	a.timers.Cancel(scheduler.KeyRevealStart)
	a.timers.Cancel(scheduler.KeyRevealTick)
	a.typing.Cancel()
	a.typing.reset()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	a.seen = make(map[string]struct{})
	a.assistants = make(map[string]struct{})
	a.current = nil
}
