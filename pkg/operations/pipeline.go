package operations

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/taskchat/pkg/backend"
	"github.com/odvcencio/taskchat/pkg/conversation"
	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
	"github.com/odvcencio/taskchat/pkg/logging"
	"github.com/odvcencio/taskchat/pkg/observability"
	"github.com/odvcencio/taskchat/pkg/scheduler"
	"github.com/odvcencio/taskchat/pkg/telemetry"
	"github.com/odvcencio/taskchat/pkg/token"
)

//go:generate mockgen -package=operations -destination=mock_backend_test.go github.com/odvcencio/taskchat/pkg/operations Backend

// Backend is the subset of the backend client the pipeline uses.
type Backend interface {
	Suggest(ctx context.Context, threadID string) (backend.SuggestResult, error)
	ApplyOperation(ctx context.Context, action backend.Action, req backend.OperationRequest) (backend.OperationResult, error)
}

// Host receives the pipeline's effects on the conversation.
type Host interface {
	ThreadID() string
	AppendOptimistic(msg conversation.Message)
	RequestRefresh()
}

// Config holds operation settings.
type Config struct {
	// ForcedProject, when set, strips project fields from outgoing params.
	ForcedProject string
}

// Pipeline owns the operations state of one session.
type Pipeline struct {
	backend Backend
	host    Host
	clock   scheduler.Clock
	cfg     Config
	logger  *logging.Logger
	hub     *telemetry.Hub
	newID   func() string

	mu       sync.Mutex
	state    State
	inflight map[string]bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithHub attaches an event hub.
func WithHub(h *telemetry.Hub) Option { return func(p *Pipeline) { p.hub = h } }

// WithIDGenerator overrides the id generator for error notices.
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
		inflight: make(map[string]bool),
	}
	p.newID = func() string {
		return ulid.MustNew(ulid.Timestamp(p.clock.Now()), rand.Reader).String()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a copy of the current operations state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

// Reset clears the state, used when the session switches thread.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{}
	p.inflight = make(map[string]bool)
}

// Suggest asks the backend for proposals and replaces the state with them.
func (p *Pipeline) Suggest(ctx context.Context) (backend.SuggestResult, error) {
	threadID := p.host.ThreadID()
	if threadID == "" {
		return backend.SuggestResult{}, taskerrors.New(taskerrors.ErrCodeInvalidInput, "no thread to suggest for")
	}
	res, err := p.backend.Suggest(ctx, threadID)
	if err != nil {
		_ = p.logger.Warn(logging.CategoryOperations, "suggest_failed", err.Error(), map[string]any{"thread_id": threadID})
		return backend.SuggestResult{}, err
	}
	p.ApplySuggest(res)
	return res, nil
}

// ApplySuggest replaces the whole state with a suggest reply.
func (p *Pipeline) ApplySuggest(res backend.SuggestResult) {
	next := State{
		Applied: fromWire(res.Applied),
		Pending: fromWire(res.Pending),
		Errors:  errorsFromWire(res.Errors),
	}

	p.mu.Lock()
	p.state = next
	p.mu.Unlock()

	p.hub.Publish(telemetry.Event{
		Type: telemetry.EventOperationsReplaced,
		Data: map[string]any{"applied": len(next.Applied), "pending": len(next.Pending), "errors": len(next.Errors)},
	})
	_ = p.logger.Debug(logging.CategoryOperations, "suggest_applied", "", map[string]any{
		"applied": len(next.Applied),
		"pending": len(next.Pending),
		"errors":  len(next.Errors),
	})
}

// Approve applies a pending record.
func (p *Pipeline) Approve(ctx context.Context, localID string) error {
	rec, err := p.claim(localID, false)
	if err != nil {
		return err
	}
	defer p.release(localID)

	params := Sanitize(rec.Params, p.cfg.ForcedProject)
	res, err := p.backend.ApplyOperation(ctx, backend.ActionApprove, backend.OperationRequest{
		ThreadID:  p.host.ThreadID(),
		Operation: rec.wire(params),
	})
	if err != nil {
		return p.fail(rec, backend.ActionApprove, err)
	}

	rec.Detail = res.Detail
	p.mu.Lock()
	p.state.Pending = remove(p.state.Pending, localID)
	p.state.Applied = append(p.state.Applied, rec)
	p.mu.Unlock()

	p.succeeded(rec, backend.ActionApprove, telemetry.EventOperationApplied)
	return nil
}

// Edit applies a pending record with replaced params. The record keeps its
// LocalID.
func (p *Pipeline) Edit(ctx context.Context, localID string, params map[string]any) error {
	rec, err := p.claim(localID, false)
	if err != nil {
		return err
	}
	defer p.release(localID)

	edited := Sanitize(params, p.cfg.ForcedProject)
	res, err := p.backend.ApplyOperation(ctx, backend.ActionEdit, backend.OperationRequest{
		ThreadID:     p.host.ThreadID(),
		Operation:    rec.wire(Sanitize(rec.Params, p.cfg.ForcedProject)),
		EditedParams: edited,
	})
	if err != nil {
		return p.fail(rec, backend.ActionEdit, err)
	}

	rec.Params = edited
	rec.Detail = res.Detail
	p.mu.Lock()
	p.state.Pending = remove(p.state.Pending, localID)
	p.state.Applied = append(p.state.Applied, rec)
	p.mu.Unlock()

	p.succeeded(rec, backend.ActionEdit, telemetry.EventOperationApplied)
	return nil
}

// EditJSON is Edit with params given as raw JSON. Malformed input is
// returned to the caller without contacting the backend.
func (p *Pipeline) EditJSON(ctx context.Context, localID, raw string) error {
	var params map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil || params == nil {
		if err == nil {
			err = fmt.Errorf("expected a JSON object")
		}
		return taskerrors.Wrap(err, taskerrors.ErrCodeInvalidEdit, "invalid edited params").
			WithUserMessage("Edited parameters must be a JSON object")
	}
	if dec.More() {
		return taskerrors.New(taskerrors.ErrCodeInvalidEdit, "trailing data after edited params").
			WithUserMessage("Edited parameters must be a JSON object")
	}
	return p.Edit(ctx, localID, normalizeNumbers(params))
}

// Decline rejects a pending record. It never moves to applied.
func (p *Pipeline) Decline(ctx context.Context, localID string) error {
	rec, err := p.claim(localID, false)
	if err != nil {
		return err
	}
	defer p.release(localID)

	if _, err := p.backend.ApplyOperation(ctx, backend.ActionDecline, backend.OperationRequest{
		ThreadID:  p.host.ThreadID(),
		Operation: rec.wire(Sanitize(rec.Params, p.cfg.ForcedProject)),
	}); err != nil {
		return p.fail(rec, backend.ActionDecline, err)
	}

	p.mu.Lock()
	p.state.Pending = remove(p.state.Pending, localID)
	p.mu.Unlock()

	observability.OperationOutcomes.WithLabelValues(string(backend.ActionDecline), "ok").Inc()
	p.hub.Publish(telemetry.Event{Type: telemetry.EventOperationDeclined, Data: map[string]any{"local_id": localID, "op": rec.Op}})
	_ = p.logger.Info(logging.CategoryOperations, "operation_declined", rec.Op, map[string]any{"local_id": localID})
	return nil
}

// Undo reverts an applied record. On success it leaves applied and does not
// return to pending.
func (p *Pipeline) Undo(ctx context.Context, localID string) error {
	rec, err := p.claim(localID, true)
	if err != nil {
		return err
	}
	defer p.release(localID)

	if _, err := p.backend.ApplyOperation(ctx, backend.ActionUndo, backend.OperationRequest{
		ThreadID:      p.host.ThreadID(),
		Operation:     rec.wire(rec.Params),
		OriginalState: rec.Detail,
	}); err != nil {
		return p.fail(rec, backend.ActionUndo, err)
	}

	p.mu.Lock()
	p.state.Applied = remove(p.state.Applied, localID)
	p.mu.Unlock()

	observability.OperationOutcomes.WithLabelValues(string(backend.ActionUndo), "ok").Inc()
	p.hub.Publish(telemetry.Event{Type: telemetry.EventOperationUndone, Data: map[string]any{"local_id": localID, "op": rec.Op}})
	_ = p.logger.Info(logging.CategoryOperations, "operation_undone", rec.Op, map[string]any{"local_id": localID})
	if rec.Op == OpChat {
		p.host.RequestRefresh()
	}
	return nil
}

// Invoke approves the operation carried by an inline op token. The record is
// added to pending first so a failure leaves it visible with its error.
func (p *Pipeline) Invoke(ctx context.Context, raw string) (string, error) {
	op, ok := token.ToOperation(raw)
	if !ok {
		err := taskerrors.New(taskerrors.ErrCodeInvalidToken, "not an operation token").
			WithContext("token", raw).
			WithUserMessage("That action could not be understood")
		p.notice(taskerrors.UserMessage(err))
		return "", err
	}

	rec := Stamp([]Record{{Op: op.Op, Params: op.Params}})[0]
	p.mu.Lock()
	p.state.Pending = append(p.state.Pending, rec)
	p.mu.Unlock()

	return rec.LocalID, p.Approve(ctx, rec.LocalID)
}

// DismissError removes one error entry.
func (p *Pipeline) DismissError(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.state.Errors {
		if e.ID == id {
			p.state.Errors = append(p.state.Errors[:i:i], p.state.Errors[i+1:]...)
			return true
		}
	}
	return false
}

// claim finds a record and marks it in flight so a second action on the same
// record cannot overlap.
func (p *Pipeline) claim(localID string, applied bool) (Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list, where := p.state.Pending, "pending"
	if applied {
		list, where = p.state.Applied, "applied"
	}
	i := indexOf(list, localID)
	if i < 0 {
		return Record{}, taskerrors.Newf(taskerrors.ErrCodeUnknownRecord, "no %s operation %q", where, localID)
	}
	if p.inflight[localID] {
		return Record{}, taskerrors.Newf(taskerrors.ErrCodeInvalidInput, "operation %q is already in progress", localID)
	}
	p.inflight[localID] = true
	return list[i], nil
}

func (p *Pipeline) release(localID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, localID)
}

func (p *Pipeline) succeeded(rec Record, action backend.Action, event telemetry.EventType) {
	observability.OperationOutcomes.WithLabelValues(string(action), "ok").Inc()
	p.hub.Publish(telemetry.Event{Type: event, Data: map[string]any{"local_id": rec.LocalID, "op": rec.Op, "action": string(action)}})
	_ = p.logger.Info(logging.CategoryOperations, "operation_applied", rec.Op, map[string]any{
		"local_id": rec.LocalID,
		"action":   string(action),
	})
	if rec.Op == OpChat {
		p.host.RequestRefresh()
	}
}

// fail records a backend failure both as a structured error and as an
// error notice in the chat. The record stays where it was.
func (p *Pipeline) fail(rec Record, action backend.Action, cause error) error {
	message := taskerrors.UserMessage(cause)
	if message == "" {
		message = "operation failed"
	}

	entry := Error{ID: p.newID(), Message: message, Op: rec.Op, Params: rec.Params}
	p.mu.Lock()
	p.state.Errors = append(p.state.Errors, entry)
	p.mu.Unlock()

	p.notice(fmt.Sprintf("Could not %s %s: %s", action, rec.Op, message))

	observability.OperationOutcomes.WithLabelValues(string(action), "failed").Inc()
	p.hub.Publish(telemetry.Event{Type: telemetry.EventOperationFailed, Data: map[string]any{
		"local_id": rec.LocalID,
		"op":       rec.Op,
		"action":   string(action),
		"error":    message,
	}})
	_ = p.logger.Error(logging.CategoryOperations, "operation_failed", cause.Error(), map[string]any{
		"local_id": rec.LocalID,
		"op":       rec.Op,
		"action":   string(action),
	})

	return taskerrors.Wrap(cause, taskerrors.ErrCodeOperationFailed, fmt.Sprintf("%s %s", action, rec.Op)).
		WithContext("local_id", rec.LocalID).
		WithUserMessage(message)
}

func (p *Pipeline) notice(text string) {
	p.host.AppendOptimistic(conversation.Message{
		ID:           p.newID(),
		Role:         conversation.RoleAssistant,
		Content:      text,
		Timestamp:    p.clock.Now(),
		Optimistic:   true,
		Error:        true,
		ErrorMessage: text,
	})
}

// normalizeNumbers turns json.Number values into int64 when integral and
// float64 otherwise.
func normalizeNumbers(params map[string]any) map[string]any {
	for k, v := range params {
		params[k] = normalizeValue(v)
	}
	return params
}

// normalizeValue converts json.Number values to int64 or float64, descending
// into objects and arrays.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	case map[string]any:
		return normalizeNumbers(n)
	case []any:
		for i := range n {
			n[i] = normalizeValue(n[i])
		}
		return n
	}
	return v
}
