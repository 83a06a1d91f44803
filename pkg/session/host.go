package session

import (
	"time"

	"github.com/odvcencio/taskchat/pkg/conversation"
	"github.com/odvcencio/taskchat/pkg/operations"
	"github.com/odvcencio/taskchat/pkg/scheduler"
	"github.com/odvcencio/taskchat/pkg/send"
	"github.com/odvcencio/taskchat/pkg/telemetry"
)

var (
	_ send.Host       = (*Session)(nil)
	_ operations.Host = (*Session)(nil)
)

// ThreadID returns the backing thread id, empty until one exists.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// SetThreadID records a thread created or recreated by the send pipeline.
func (s *Session) SetThreadID(id string) {
	s.mu.Lock()
	prev := s.threadID
	s.threadID = id
	s.mu.Unlock()

	if prev == id {
		return
	}
	s.logger.SetThreadID(id)
	s.hub.Publish(telemetry.Event{Type: telemetry.EventThreadCreated, SessionID: s.id, ThreadID: id, Data: map[string]any{"previous": prev}})
}

// Message looks up a message by id.
func (s *Session) Message(id string) (conversation.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := conversation.IndexOf(s.messages, id)
	if i < 0 {
		return conversation.Message{}, false
	}
	return s.messages[i], true
}

// AppendOptimistic adds a local message ahead of backend confirmation.
func (s *Session) AppendOptimistic(msg conversation.Message) {
	msg.Optimistic = true
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.observe()
}

// UpdateMessage edits a message in place.
func (s *Session) UpdateMessage(id string, fn func(*conversation.Message)) bool {
	s.mu.Lock()
	i := conversation.IndexOf(s.messages, id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	fn(&s.messages[i])
	s.mu.Unlock()
	s.observe()
	return true
}

// ScheduleTyping arms the typing indicator for a message sent at sentAt.
func (s *Session) ScheduleTyping(delay time.Duration, sentAt time.Time) {
	s.animator.Typing().Schedule(delay, sentAt)
}

// CancelTyping hides the typing indicator.
func (s *Session) CancelTyping() {
	s.animator.Typing().Cancel()
}

// RequestRefresh coalesces refresh requests into one fetch per debounce
// window.
func (s *Session) RequestRefresh() {
	_, gen := s.current()
	s.timers.ScheduleOnce(scheduler.KeyRefresh, s.cfg.RefreshDebounce, func() {
		if ctx, ok := s.contextFor(gen); ok {
			_ = s.refresh(ctx, gen)
		}
	})
}

// ScheduleSuggest runs a suggest pass once sends have been quiet for the
// debounce window.
func (s *Session) ScheduleSuggest() {
	_, gen := s.current()
	s.timers.Schedule(scheduler.KeySuggest, s.cfg.SuggestDebounce, func() {
		if ctx, ok := s.contextFor(gen); ok {
			_ = s.suggest(ctx, gen)
		}
	})
}
