// Package send delivers user messages: it appends an optimistic copy,
// makes sure a backing thread exists and transmits with bounded retry.
package send

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/odvcencio/taskchat/pkg/backend"
	"github.com/odvcencio/taskchat/pkg/conversation"
	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
	"github.com/odvcencio/taskchat/pkg/logging"
	"github.com/odvcencio/taskchat/pkg/observability"
	"github.com/odvcencio/taskchat/pkg/reliability"
	"github.com/odvcencio/taskchat/pkg/scheduler"
	"github.com/odvcencio/taskchat/pkg/telemetry"
)

//go:generate mockgen -package=send -destination=mock_backend_test.go github.com/odvcencio/taskchat/pkg/send Backend

// Backend is the subset of the backend client the pipeline uses.
type Backend interface {
	GetThread(ctx context.Context, threadID string) (conversation.Snapshot, error)
	CreateThread(ctx context.Context, req backend.CreateThreadRequest) (string, error)
	SendMessage(ctx context.Context, threadID string, req backend.SendMessageRequest) (conversation.RawMessage, error)
}

// Host owns the message list and timers the pipeline writes through.
type Host interface {
	ThreadID() string
	SetThreadID(id string)
	Message(id string) (conversation.Message, bool)
	AppendOptimistic(msg conversation.Message)
	UpdateMessage(id string, fn func(*conversation.Message)) bool
	ScheduleTyping(delay time.Duration, sentAt time.Time)
	CancelTyping()
	RequestRefresh()
	ScheduleSuggest()
}

// Config controls thread creation, retry and typing delay.
type Config struct {
	SourceID string
	Title    string
	// Managed threads are owned by an external context and are never recreated.
	Managed bool

	Retry reliability.RetryPolicy

	TypingBase    time.Duration
	TypingPerWord time.Duration
	TypingMax     time.Duration
}

// DefaultConfig returns the standard send settings.
func DefaultConfig() Config {
	return Config{
		Retry:         reliability.DefaultRetryPolicy(),
		TypingBase:    500 * time.Millisecond,
		TypingPerWord: 50 * time.Millisecond,
		TypingMax:     2 * time.Second,
	}
}

// Pipeline sends messages for one session.
type Pipeline struct {
	backend Backend
	host    Host
	clock   scheduler.Clock
	logger  *logging.Logger
	hub     *telemetry.Hub
	newID   func() string

	mu       sync.Mutex
	cfg      Config
	verified map[string]bool
	group    singleflight.Group
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithHub attaches an event hub.
func WithHub(h *telemetry.Hub) Option { return func(p *Pipeline) { p.hub = h } }

// WithIDGenerator overrides optimistic message id generation.
func WithIDGenerator(fn func() string) Option { return func(p *Pipeline) { p.newID = fn } }

// NewPipeline creates a pipeline. A nil clock uses real time.
func NewPipeline(b Backend, host Host, clock scheduler.Clock, cfg Config, opts ...Option) *Pipeline {
	if clock == nil {
		clock = scheduler.Real{}
	}
	p := &Pipeline{
		backend:  b,
		host:     host,
		clock:    clock,
		cfg:      cfg,
		verified: make(map[string]bool),
	}
	p.newID = func() string {
		return ulid.MustNew(ulid.Timestamp(p.clock.Now()), rand.Reader).String()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetManaged changes thread ownership, used when the session switches thread.
func (p *Pipeline) SetManaged(managed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Managed = managed
}

func (p *Pipeline) config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// TypingDelay is clamp(base + perWord*words, base, max).
func (p *Pipeline) TypingDelay(text string) time.Duration {
	cfg := p.config()
	return TypingDelay(text, cfg.TypingBase, cfg.TypingPerWord, cfg.TypingMax)
}

// TypingDelay computes the typing indicator delay for text.
func TypingDelay(text string, base, perWord, max time.Duration) time.Duration {
	d := base + time.Duration(len(strings.Fields(text)))*perWord
	if d < base {
		d = base
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

// Send appends exactly one optimistic message for text and delivers it. It
// returns the optimistic message id; delivery failures are also recorded on
// the message itself.
func (p *Pipeline) Send(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", taskerrors.New(taskerrors.ErrCodeInvalidInput, "message is empty")
	}

	msg := conversation.Message{
		ID:         p.newID(),
		Role:       conversation.RoleUser,
		Content:    text,
		Timestamp:  p.clock.Now(),
		Optimistic: true,
	}
	p.host.AppendOptimistic(msg)
	p.hub.Publish(telemetry.Event{Type: telemetry.EventMessageOptimistic, MessageID: msg.ID, ThreadID: p.host.ThreadID()})

	return msg.ID, p.deliver(ctx, msg, msg.Timestamp)
}

// Retry re-transmits a failed optimistic message in place.
func (p *Pipeline) Retry(ctx context.Context, id string) error {
	msg, ok := p.host.Message(id)
	if !ok || !msg.Optimistic || !msg.IsUser() {
		return taskerrors.Newf(taskerrors.ErrCodeInvalidInput, "no retryable message %q", id)
	}
	if !msg.Error {
		return taskerrors.Newf(taskerrors.ErrCodeInvalidInput, "message %q has not failed", id)
	}

	p.host.UpdateMessage(id, func(m *conversation.Message) {
		m.Error = false
		m.Retryable = false
		m.ErrorMessage = ""
	})
	p.hub.Publish(telemetry.Event{Type: telemetry.EventMessageRetried, MessageID: id})
	return p.deliver(ctx, msg, p.clock.Now())
}

func (p *Pipeline) deliver(ctx context.Context, msg conversation.Message, sentAt time.Time) error {
	p.host.ScheduleTyping(p.TypingDelay(msg.Content), sentAt)

	threadID, err := p.EnsureThread(ctx)
	if err != nil {
		p.fail(msg.ID, err)
		return err
	}

	if err := p.transmit(ctx, threadID, msg); err != nil {
		p.fail(msg.ID, err)
		return err
	}

	observability.MessagesSent.WithLabelValues("delivered").Inc()
	_ = p.logger.Info(logging.CategorySend, "message_delivered", "", map[string]any{"message_id": msg.ID})
	p.host.RequestRefresh()
	p.host.ScheduleSuggest()
	return nil
}

// transmit sends msg with the retry policy. A missing thread is recreated
// and the message retried against the new id unless the thread is managed.
func (p *Pipeline) transmit(ctx context.Context, threadID string, msg conversation.Message) error {
	cfg := p.config()
	policy := cfg.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, lastErr error) {
		observability.SendRetries.Inc()
		_ = p.logger.Warn(logging.CategorySend, "send_retry", taskerrors.UserMessage(lastErr), map[string]any{
			"message_id": msg.ID,
			"attempt":    attempt,
			"delay_ms":   delay.Milliseconds(),
		})
	}

	req := backend.SendMessageRequest{Role: conversation.RoleUser, Content: msg.Content}
	return policy.Execute(ctx, p.clock, func(ctx context.Context, attempt int) error {
		_, err := p.backend.SendMessage(ctx, threadID, req)
		if err == nil {
			return nil
		}
		if !taskerrors.IsCode(err, taskerrors.ErrCodeThreadNotFound) {
			return err
		}
		if cfg.Managed {
			return reliability.Permanent(err)
		}

		newID, cerr := p.replaceThread(ctx, threadID)
		if cerr != nil {
			return cerr
		}
		threadID = newID
		return taskerrors.Wrap(err, taskerrors.ErrCodeThreadNotFound, "thread recreated").WithRetryable(true)
	})
}

// EnsureThread returns a thread id that exists on the backend, creating one
// when none is held and recreating one that fails verification. Concurrent
// callers share a single create or verify call.
func (p *Pipeline) EnsureThread(ctx context.Context) (string, error) {
	threadID := p.host.ThreadID()
	if threadID == "" {
		return p.createThread(ctx, "missing")
	}

	p.mu.Lock()
	ok := p.verified[threadID]
	p.mu.Unlock()
	if ok {
		return threadID, nil
	}

	_, err, _ := p.group.Do("verify:"+threadID, func() (any, error) {
		_, err := p.backend.GetThread(ctx, threadID)
		return nil, err
	})
	switch {
	case err == nil:
		p.markVerified(threadID)
		return threadID, nil
	case taskerrors.IsCode(err, taskerrors.ErrCodeThreadNotFound):
		if p.config().Managed {
			return "", taskerrors.Wrap(err, taskerrors.ErrCodeThreadNotFound, "managed thread is gone").
				WithUserMessage("This conversation is no longer available")
		}
		return p.replaceThread(ctx, threadID)
	default:
		_ = p.logger.Warn(logging.CategoryNetwork, "thread_verify_failed", err.Error(), map[string]any{"thread_id": threadID})
		return threadID, nil
	}
}

// replaceThread swaps a missing thread for a new one. If another caller has
// already replaced it, the current id is reused.
func (p *Pipeline) replaceThread(ctx context.Context, missing string) (string, error) {
	p.mu.Lock()
	delete(p.verified, missing)
	p.mu.Unlock()

	if current := p.host.ThreadID(); current != "" && current != missing {
		return current, nil
	}
	return p.createThread(ctx, "not_found")
}

func (p *Pipeline) createThread(ctx context.Context, reason string) (string, error) {
	v, err, _ := p.group.Do("create", func() (any, error) {
		if reason == "missing" {
			if id := p.host.ThreadID(); id != "" {
				return id, nil
			}
		}
		cfg := p.config()
		id, err := p.backend.CreateThread(ctx, backend.CreateThreadRequest{SourceID: cfg.SourceID, Title: cfg.Title})
		if err != nil {
			return "", err
		}
		p.host.SetThreadID(id)
		p.markVerified(id)
		observability.ThreadRecreations.WithLabelValues(reason).Inc()
		_ = p.logger.Info(logging.CategorySend, "thread_created", "", map[string]any{"thread_id": id, "reason": reason})
		p.hub.Publish(telemetry.Event{Type: telemetry.EventThreadCreated, ThreadID: id, Data: map[string]any{"reason": reason}})
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Pipeline) markVerified(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verified[id] = true
}

func (p *Pipeline) fail(id string, err error) {
	p.host.UpdateMessage(id, func(m *conversation.Message) {
		m.Error = true
		m.Retryable = true
		m.ErrorMessage = taskerrors.UserMessage(err)
	})
	p.host.CancelTyping()
	observability.MessagesSent.WithLabelValues("failed").Inc()
	_ = p.logger.Error(logging.CategorySend, "send_failed", err.Error(), map[string]any{"message_id": id})
	p.hub.Publish(telemetry.Event{Type: telemetry.EventMessageFailed, MessageID: id, Data: map[string]any{"error": err.Error()}})
}
