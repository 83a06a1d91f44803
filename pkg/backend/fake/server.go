// Package fake serves an in-memory chat backend over HTTP. It implements
// every endpoint the engine consumes and is used by the CLI and by tests.
package fake

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/taskchat/pkg/backend"
	"github.com/odvcencio/taskchat/pkg/conversation"
	"github.com/odvcencio/taskchat/pkg/token"
)

type storedMessage struct {
	ID       string
	Role     conversation.Role
	Content  string
	TS       time.Time
	Surfaces json.RawMessage
}

type thread struct {
	id       string
	sourceID string
	title    string
	messages []storedMessage
	applied  []backend.Operation
	declined map[string]bool
}

type failure struct {
	status int
	remain int
}

// Route patterns accepted by FailNext and Calls.
const (
	RouteCreateThread = "/threads"
	RouteGetThread    = "/threads/{threadID}"
	RouteSendMessage  = "/threads/{threadID}/messages"
	RouteSuggest      = "/operations/suggest"
	RouteOperation    = "/operations/{action}"
)

// Server is the fake backend.
type Server struct {
	mu        sync.Mutex
	threads   map[string]*thread
	failures  map[string]*failure
	rejectOps map[string]string
	calls     map[string]int
	seq       int
	now       func() time.Time
	router    chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates an empty fake backend.
func NewServer(opts ...Option) *Server {
	s := &Server{
		threads:   make(map[string]*thread),
		failures:  make(map[string]*failure),
		rejectOps: make(map[string]string),
		calls:     make(map[string]int),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Route("/threads", func(r chi.Router) {
		r.Post("/", s.guard(RouteCreateThread, s.handleCreateThread))
		r.Get("/{threadID}", s.guard(RouteGetThread, s.handleGetThread))
		r.Post("/{threadID}/messages", s.guard(RouteSendMessage, s.handleSendMessage))
	})
	r.Route("/operations", func(r chi.Router) {
		r.Post("/suggest", s.guard(RouteSuggest, s.handleSuggest))
		r.Post("/{action}", s.guard(RouteOperation, s.handleOperation))
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// FailNext makes the next count requests on route fail with status.
func (s *Server) FailNext(pattern string, status, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[pattern] = &failure{status: status, remain: count}
}

// RejectOperation makes every action on op reply ok:false with message.
func (s *Server) RejectOperation(op, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectOps[op] = message
}

// DeleteThread forgets a thread so later requests for it return 404.
func (s *Server) DeleteThread(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
}

// Calls returns how many requests hit a route pattern.
func (s *Server) Calls(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[pattern]
}

// CreateThread creates a thread directly and returns its id.
func (s *Server) CreateThread(sourceID, title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createThreadLocked(sourceID, title).id
}

// AddMessage appends a message to a thread directly.
func (s *Server) AddMessage(threadID string, role conversation.Role, content string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[threadID]
	if !ok {
		return "", false
	}
	return s.appendLocked(th, role, content, nil).ID, true
}

// Applied returns the operations applied on a thread.
func (s *Server) Applied(threadID string) []backend.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	return append([]backend.Operation(nil), th.applied...)
}

// guard counts the request against pattern and serves any injected failure
// before calling next.
func (s *Server) guard(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[pattern]++
		status := 0
		if f, ok := s.failures[pattern]; ok && f.remain > 0 {
			f.remain--
			status = f.status
		}
		s.mu.Unlock()

		if status != 0 {
			respondError(w, status, fmt.Errorf("injected failure"))
			return
		}
		next(w, r)
	}
}

func (s *Server) createThreadLocked(sourceID, title string) *thread {
	th := &thread{
		id:       "th_" + strings.ToLower(s.newID()),
		sourceID: sourceID,
		title:    title,
		declined: make(map[string]bool),
	}
	s.threads[th.id] = th
	return th
}

func (s *Server) appendLocked(th *thread, role conversation.Role, content string, surfaces json.RawMessage) storedMessage {
	s.seq++
	ts := s.now().UTC()
	if n := len(th.messages); n > 0 && !ts.After(th.messages[n-1].TS) {
		ts = th.messages[n-1].TS.Add(time.Millisecond)
	}
	msg := storedMessage{
		ID:       fmt.Sprintf("msg_%d", s.seq),
		Role:     role,
		Content:  content,
		TS:       ts,
		Surfaces: surfaces,
	}
	th.messages = append(th.messages, msg)
	return msg
}

func (s *Server) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), rand.Reader).String()
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req backend.CreateThreadRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	th := s.createThreadLocked(req.SourceID, req.Title)
	snapshot := snapshotOf(th)
	s.mu.Unlock()

	respondJSON(w, map[string]any{"ok": true, "thread": snapshot})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	s.mu.Lock()
	th, ok := s.threads[threadID]
	var snapshot conversation.Snapshot
	if ok {
		snapshot = snapshotOf(th)
	}
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("thread %s not found", threadID))
		return
	}
	respondJSON(w, map[string]any{"ok": true, "thread": snapshot})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	var req backend.SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondJSON(w, map[string]any{"ok": false, "error": "message content is empty"})
		return
	}

	s.mu.Lock()
	th, ok := s.threads[threadID]
	var stored storedMessage
	if ok {
		role := req.Role
		if role == "" {
			role = conversation.RoleUser
		}
		stored = s.appendLocked(th, role, req.Content, nil)
		s.appendLocked(th, conversation.RoleAssistant, reply(req.Content), nil)
	}
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("thread %s not found", threadID))
		return
	}
	respondJSON(w, map[string]any{"ok": true, "message": wireMessage(stored)})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string `json:"threadId"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[req.ThreadID]
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("thread %s not found", req.ThreadID))
		return
	}

	pending := []backend.Operation{}
	errs := []backend.OperationError{}
	var surfaces json.RawMessage
	for _, msg := range th.messages {
		if msg.Role != conversation.RoleUser {
			continue
		}
		title, ok := taskTitle(msg.Content)
		if !ok || th.declined[title] || appliedTitle(th.applied, title) {
			continue
		}
		op := backend.Operation{Op: "create_task", Params: map[string]any{"title": title}}
		if reason, rejected := s.rejectOps[op.Op]; rejected {
			errs = append(errs, backend.OperationError{ID: "err_" + msg.ID, Message: reason, Op: op.Op, Params: op.Params})
			continue
		}
		pending = append(pending, op)
		if strings.Contains(strings.ToLower(msg.Content), "form") {
			surfaces = json.RawMessage(fmt.Sprintf(`[{"type":"task_form","id":%q,"title":%q}]`, msg.ID, title))
		}
	}

	applied := append([]backend.Operation{}, th.applied...)
	respondJSON(w, map[string]any{
		"ok":       true,
		"applied":  applied,
		"pending":  pending,
		"errors":   errs,
		"surfaces": surfaces,
	})
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	action := backend.Action(chi.URLParam(r, "action"))
	if !action.Valid() {
		respondError(w, http.StatusNotFound, fmt.Errorf("unknown action %s", action))
		return
	}
	var req backend.OperationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason, rejected := s.rejectOps[req.Operation.Op]; rejected {
		respondJSON(w, map[string]any{"ok": false, "error": reason})
		return
	}
	th := s.threads[req.ThreadID]

	switch action {
	case backend.ActionApprove, backend.ActionEdit:
		params := req.Operation.Params
		if action == backend.ActionEdit {
			params = req.EditedParams
		}
		s.seq++
		detail := map[string]any{"id": fmt.Sprintf("task_%d", s.seq), "status": "applied"}
		op := backend.Operation{Op: req.Operation.Op, Params: params, LocalID: req.Operation.LocalID, Detail: detail}
		if th != nil {
			th.applied = append(th.applied, op)
			if req.Operation.Op == "chat" {
				if text, ok := params["message"].(string); ok && text != "" {
					s.appendLocked(th, conversation.RoleAssistant, text, nil)
				}
			}
		}
		respondJSON(w, map[string]any{"ok": true, "detail": detail})
	case backend.ActionDecline:
		if th != nil {
			if title, ok := req.Operation.Params["title"].(string); ok {
				th.declined[title] = true
			}
		}
		respondJSON(w, map[string]any{"ok": true})
	case backend.ActionUndo:
		if th != nil {
			id, _ := req.OriginalState["id"].(string)
			kept := th.applied[:0]
			for _, op := range th.applied {
				if (id != "" && op.Detail["id"] == id) || (req.Operation.LocalID != "" && op.LocalID == req.Operation.LocalID) {
					continue
				}
				kept = append(kept, op)
			}
			th.applied = kept
		}
		respondJSON(w, map[string]any{"ok": true})
	}
}

func snapshotOf(th *thread) conversation.Snapshot {
	snapshot := conversation.Snapshot{ThreadID: th.id, Messages: make([]conversation.RawMessage, 0, len(th.messages))}
	for _, msg := range th.messages {
		snapshot.Messages = append(snapshot.Messages, wireMessage(msg))
	}
	return snapshot
}

func wireMessage(msg storedMessage) conversation.RawMessage {
	content := msg.Content
	return conversation.RawMessage{
		ID:       msg.ID,
		Role:     string(msg.Role),
		Content:  &content,
		TS:       conversation.NewWireTime(msg.TS),
		Surfaces: msg.Surfaces,
	}
}

// reply produces the canned assistant answer for a user message. Messages
// that ask for a task get an inline operation proposal.
func reply(content string) string {
	if title, ok := taskTitle(content); ok {
		op := token.Encode(token.KindOp, map[string]string{"type": "create_task", "title": title})
		return "I can create that task for you: " + op
	}
	return "Noted: " + strings.Join(strings.Fields(content), " ")
}

// taskTitle extracts a task title from text like "task: write docs".
func taskTitle(content string) (string, bool) {
	lower := strings.ToLower(content)
	idx := strings.Index(lower, "task")
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(content[idx+len("task"):], " :-")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		rest = "Untitled task"
	}
	return rest, true
}

func appliedTitle(applied []backend.Operation, title string) bool {
	for _, op := range applied {
		if t, ok := op.Params["title"].(string); ok && t == title {
			return true
		}
	}
	return false
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":     false,
		"error":  err.Error(),
		"status": status,
	})
}
