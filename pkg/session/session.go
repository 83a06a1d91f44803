// Package session owns the state of one chat surface: the message list, the
// operations state and every pending timer. Its methods are the only entry
// points that mutate that state.
package session

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/taskchat/pkg/animation"
	"github.com/odvcencio/taskchat/pkg/backend"
	"github.com/odvcencio/taskchat/pkg/config"
	"github.com/odvcencio/taskchat/pkg/conversation"
	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
	"github.com/odvcencio/taskchat/pkg/logging"
	"github.com/odvcencio/taskchat/pkg/observability"
	"github.com/odvcencio/taskchat/pkg/operations"
	"github.com/odvcencio/taskchat/pkg/reliability"
	"github.com/odvcencio/taskchat/pkg/scheduler"
	"github.com/odvcencio/taskchat/pkg/send"
	"github.com/odvcencio/taskchat/pkg/telemetry"
)

// Config holds the settings of one session.
type Config struct {
	ThreadID string
	Managed  bool

	PollInterval    time.Duration
	RefreshDebounce time.Duration
	SuggestDebounce time.Duration
	Breaker         reliability.BreakerConfig

	Send       send.Config
	Operations operations.Config
	Animation  animation.Config
}

// DefaultConfig returns the standard session settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:    5 * time.Second,
		RefreshDebounce: 500 * time.Millisecond,
		SuggestDebounce: 2500 * time.Millisecond,
		Breaker:         reliability.BreakerConfig{MaxFailures: 5, Cooldown: 30 * time.Second},
		Send:            send.DefaultConfig(),
		Animation:       animation.DefaultConfig(),
	}
}

// FromConfig maps file configuration onto session settings.
func FromConfig(cfg *config.Config) Config {
	c := DefaultConfig()
	c.ThreadID = cfg.Thread.ID
	c.Managed = cfg.Thread.Managed
	c.PollInterval = cfg.Sync.PollInterval
	c.RefreshDebounce = cfg.Sync.RefreshDebounce
	c.SuggestDebounce = cfg.Sync.SuggestDebounce
	c.Breaker.MaxFailures = cfg.Sync.BreakerFailures
	c.Breaker.Cooldown = cfg.Sync.BreakerCooldown

	c.Send.SourceID = cfg.Thread.SourceID
	c.Send.Title = cfg.Thread.Title
	c.Send.Retry.MaxRetries = cfg.Send.MaxRetries
	c.Send.Retry.BaseDelay = cfg.Send.BaseBackoff
	c.Send.Retry.MaxDelay = cfg.Send.MaxBackoff
	c.Send.TypingBase = cfg.Send.TypingBase
	c.Send.TypingPerWord = cfg.Send.TypingPerWord
	c.Send.TypingMax = cfg.Send.TypingMax

	c.Operations.ForcedProject = cfg.Thread.ForcedProject

	c.Animation.RevealInterval = cfg.Animation.RevealInterval
	c.Animation.StartDelay = cfg.Animation.StartDelay
	c.Animation.MinTypingDisplay = cfg.Animation.MinTypingDisplay
	return c
}

// Session is the arena owning one conversation's client-side state.
type Session struct {
	id      string
	backend backend.Client
	clock   scheduler.Clock
	timers  *scheduler.Timers
	cfg     Config
	logger  *logging.Logger
	hub     *telemetry.Hub
	newID   func() string

	breaker  *reliability.CircuitBreaker
	sender   *send.Pipeline
	ops      *operations.Pipeline
	animator *animation.Animator

	base       context.Context
	cancelBase context.CancelFunc

	mu         sync.Mutex
	threadID   string
	messages   []conversation.Message
	loaded     bool
	polling    bool
	generation uint64
	threadCtx  context.Context
	cancel     context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option { return func(s *Session) { s.logger = l } }

// WithHub attaches an event hub.
func WithHub(h *telemetry.Hub) Option { return func(s *Session) { s.hub = h } }

// WithIDGenerator overrides local message id generation.
func WithIDGenerator(fn func() string) Option { return func(s *Session) { s.newID = fn } }

// WithSessionID sets the id stamped on published events.
func WithSessionID(id string) Option { return func(s *Session) { s.id = id } }

// New builds a session on b. A nil clock uses real time.
func New(b backend.Client, clock scheduler.Clock, cfg Config, opts ...Option) *Session {
	if clock == nil {
		clock = scheduler.Real{}
	}
	s := &Session{
		backend:  b,
		clock:    clock,
		timers:   scheduler.NewTimers(clock),
		cfg:      cfg,
		threadID: cfg.ThreadID,
	}
	s.newID = func() string {
		return ulid.MustNew(ulid.Timestamp(s.clock.Now()), rand.Reader).String()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = s.newID()
	}

	s.base, s.cancelBase = context.WithCancel(context.Background())
	s.threadCtx, s.cancel = context.WithCancel(s.base)

	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = s.onBreakerChange
	s.breaker = reliability.NewCircuitBreaker(breakerCfg, clock)

	sendCfg := cfg.Send
	sendCfg.Managed = cfg.Managed
	s.sender = send.NewPipeline(b, s, clock, sendCfg,
		send.WithLogger(s.logger), send.WithHub(s.hub), send.WithIDGenerator(s.newID))
	s.ops = operations.NewPipeline(b, s, clock, cfg.Operations,
		operations.WithLogger(s.logger), operations.WithHub(s.hub), operations.WithIDGenerator(s.newID))
	s.animator = animation.New(s.timers, cfg.Animation,
		animation.WithLogger(s.logger), animation.WithHub(s.hub))

	s.logger.SetThreadID(s.threadID)
	if s.threadID == "" {
		s.loaded = true
		s.animator.Observe(nil)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Animator exposes reveal decisions for renderers.
func (s *Session) Animator() *animation.Animator { return s.animator }

// Breaker exposes the polling circuit breaker.
func (s *Session) Breaker() *reliability.CircuitBreaker { return s.breaker }

// Messages returns a copy of the message list.
func (s *Session) Messages() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.Message(nil), s.messages...)
}

// Plan returns how each message should currently be presented.
func (s *Session) Plan() []animation.Decision {
	return s.animator.Plan(s.Messages())
}

// Start begins polling the thread. The first poll runs immediately.
func (s *Session) Start() {
	s.mu.Lock()
	if s.polling {
		s.mu.Unlock()
		return
	}
	s.polling = true
	gen := s.generation
	s.mu.Unlock()

	s.schedulePoll(gen, 0)
}

// Close cancels in-flight requests and every timer.
func (s *Session) Close() {
	s.cancelBase()
	s.timers.CancelAll()
	s.mu.Lock()
	s.polling = false
	s.mu.Unlock()
}

func (s *Session) schedulePoll(gen uint64, delay time.Duration) {
	s.timers.Schedule(scheduler.KeyPoll, delay, func() { s.poll(gen) })
}

func (s *Session) poll(gen uint64) {
	ctx, ok := s.contextFor(gen)
	if !ok {
		return
	}
	if s.ThreadID() != "" {
		_ = s.refresh(ctx, gen)
	}
	if _, ok := s.contextFor(gen); ok {
		s.schedulePoll(gen, s.cfg.PollInterval)
	}
}

// contextFor returns the thread context if gen is still current and polling
// has not been stopped.
func (s *Session) contextFor(gen uint64) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.threadCtx.Err() != nil {
		return nil, false
	}
	return s.threadCtx, true
}

func (s *Session) current() (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadCtx, s.generation
}

// Refresh fetches the snapshot now and merges it.
func (s *Session) Refresh(ctx context.Context) error {
	_, gen := s.current()
	return s.refresh(ctx, gen)
}

func (s *Session) refresh(ctx context.Context, gen uint64) error {
	threadID := s.ThreadID()
	if threadID == "" {
		return nil
	}

	if err := s.breaker.Allow(); err != nil {
		observability.Polls.WithLabelValues("skipped").Inc()
		return err
	}

	ctx, span := observability.StartSpan(ctx, "session.refresh", observability.AttrThreadID.String(threadID))
	snapshot, err := s.backend.GetThread(ctx, threadID)
	observability.EndSpan(span, err)

	if err != nil && taskerrors.IsRetryable(err) {
		s.breaker.Record(err)
	} else {
		s.breaker.Record(nil)
	}
	if err != nil {
		observability.Polls.WithLabelValues("failed").Inc()
		s.hub.Publish(telemetry.Event{Type: telemetry.EventPollFailed, SessionID: s.id, ThreadID: threadID, Data: map[string]any{"error": err.Error()}})
		_ = s.logger.Warn(logging.CategorySync, "refresh_failed", err.Error(), map[string]any{"thread_id": threadID})
		return err
	}
	observability.Polls.WithLabelValues("ok").Inc()

	s.applySnapshot(gen, threadID, snapshot)
	return nil
}

// ApplySnapshot merges a snapshot of the current thread into the list.
func (s *Session) ApplySnapshot(snapshot conversation.Snapshot) {
	_, gen := s.current()
	s.applySnapshot(gen, s.ThreadID(), snapshot)
}

func (s *Session) applySnapshot(gen uint64, threadID string, snapshot conversation.Snapshot) {
	s.mu.Lock()
	if gen != s.generation || threadID != s.threadID {
		s.mu.Unlock()
		_ = s.logger.Debug(logging.CategorySync, "snapshot_discarded", "thread changed", map[string]any{"thread_id": threadID})
		return
	}
	if snapshot.ThreadID == "" {
		snapshot.ThreadID = threadID
	}
	res := conversation.ReconcileDetailed(s.messages, snapshot)
	s.messages = res.Messages
	s.loaded = true
	messages := append([]conversation.Message(nil), s.messages...)
	s.mu.Unlock()

	if res.Retired > 0 {
		observability.OptimisticRetired.Add(float64(res.Retired))
	}
	s.animator.Observe(messages)
	s.hub.Publish(telemetry.Event{
		Type:      telemetry.EventSnapshotApplied,
		SessionID: s.id,
		ThreadID:  threadID,
		Data:      map[string]any{"messages": len(messages), "retired": res.Retired},
	})
	_ = s.logger.Debug(logging.CategorySync, "snapshot_applied", "", map[string]any{
		"messages": len(messages),
		"retired":  res.Retired,
	})
}

func (s *Session) onBreakerChange(from, to reliability.CircuitState, lastErr error) {
	data := map[string]any{"from": from.String(), "to": to.String()}
	msg := ""
	if lastErr != nil {
		msg = lastErr.Error()
		data["error"] = msg
	}
	s.hub.Publish(telemetry.Event{Type: telemetry.EventCircuitStateChange, SessionID: s.id, Data: data})
	_ = s.logger.Warn(logging.CategoryNetwork, "circuit_state_change", msg, data)
}

// observe feeds the animator once the thread's history is known, so that
// history is never mistaken for new replies.
func (s *Session) observe() {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return
	}
	messages := append([]conversation.Message(nil), s.messages...)
	s.mu.Unlock()
	s.animator.Observe(messages)
}

// Send appends an optimistic message and delivers it.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	return s.sender.Send(ctx, text)
}

// Retry re-delivers a failed message in place.
func (s *Session) Retry(ctx context.Context, messageID string) error {
	return s.sender.Retry(ctx, messageID)
}

// DismissMessage removes a failed or notice message that only exists locally.
func (s *Session) DismissMessage(messageID string) bool {
	s.mu.Lock()
	i := conversation.IndexOf(s.messages, messageID)
	if i < 0 || !s.messages[i].Optimistic || !s.messages[i].Error {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
	s.mu.Unlock()

	s.hub.Publish(telemetry.Event{Type: telemetry.EventMessageDismissed, SessionID: s.id, MessageID: messageID})
	s.observe()
	return true
}

// SwitchThread moves the session to another conversation. An empty id
// starts a new one on the next send. In-flight polls are abandoned and all
// per-thread state is cleared.
func (s *Session) SwitchThread(threadID string, managed bool) {
	s.timers.CancelAll()
	s.animator.Reset()
	s.ops.Reset()
	s.breaker.Reset()

	s.mu.Lock()
	s.cancel()
	s.generation++
	gen := s.generation
	s.threadCtx, s.cancel = context.WithCancel(s.base)
	s.threadID = threadID
	s.messages = nil
	s.loaded = threadID == ""
	polling := s.polling
	s.mu.Unlock()

	s.sender.SetManaged(managed)
	s.logger.SetThreadID(threadID)
	if threadID == "" {
		s.animator.Observe(nil)
	}
	s.hub.Publish(telemetry.Event{Type: telemetry.EventThreadSwitched, SessionID: s.id, ThreadID: threadID})
	_ = s.logger.Info(logging.CategorySession, "thread_switched", "", map[string]any{"thread_id": threadID, "managed": managed})

	if polling {
		s.schedulePoll(gen, 0)
	}
}

// Suggest asks the backend for operation proposals now.
func (s *Session) Suggest(ctx context.Context) error {
	_, gen := s.current()
	return s.suggest(ctx, gen)
}

func (s *Session) suggest(ctx context.Context, gen uint64) error {
	res, err := s.ops.Suggest(ctx)
	if err != nil {
		return err
	}
	surfaces := conversation.DecodeSurfaces(res.Surfaces)
	if len(surfaces) == 0 {
		return nil
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.messages = append(s.messages, conversation.Message{
		ID:         s.newID(),
		Role:       conversation.RoleAssistant,
		Timestamp:  s.clock.Now(),
		Optimistic: true,
		Surfaces:   surfaces,
	})
	s.mu.Unlock()
	s.observe()
	return nil
}

// Operations returns the operations state.
func (s *Session) Operations() operations.State { return s.ops.State() }

// Approve applies a pending operation.
func (s *Session) Approve(ctx context.Context, localID string) error {
	return s.ops.Approve(ctx, localID)
}

// Edit applies a pending operation with new params.
func (s *Session) Edit(ctx context.Context, localID string, params map[string]any) error {
	return s.ops.Edit(ctx, localID, params)
}

// EditJSON applies a pending operation with params given as JSON.
func (s *Session) EditJSON(ctx context.Context, localID, raw string) error {
	return s.ops.EditJSON(ctx, localID, raw)
}

// Decline rejects a pending operation.
func (s *Session) Decline(ctx context.Context, localID string) error {
	return s.ops.Decline(ctx, localID)
}

// Undo reverts an applied operation.
func (s *Session) Undo(ctx context.Context, localID string) error {
	return s.ops.Undo(ctx, localID)
}

// Invoke approves the operation in an inline op token.
func (s *Session) Invoke(ctx context.Context, raw string) (string, error) {
	return s.ops.Invoke(ctx, raw)
}

// DismissOperationError removes one operation error.
func (s *Session) DismissOperationError(id string) bool {
	return s.ops.DismissError(id)
}
