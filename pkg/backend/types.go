// Package backend is the client side of the chat backend: thread retrieval,
// thread creation, message delivery and operation actions.
package backend

import (
	"context"
	"encoding/json"

	"github.com/odvcencio/taskchat/pkg/conversation"
)

// Action names an operation endpoint.
type Action string

const (
	ActionApprove Action = "approve"
	ActionEdit    Action = "edit"
	ActionDecline Action = "decline"
	ActionUndo    Action = "undo"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionEdit, ActionDecline, ActionUndo:
		return true
	}
	return false
}

// Operation is an operation as it travels over the wire.
type Operation struct {
	Op      string         `json:"op"`
	Params  map[string]any `json:"params,omitempty"`
	LocalID string         `json:"localId,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// OperationError is a backend-reported operation failure.
type OperationError struct {
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message"`
	Op      string         `json:"op,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// CreateThreadRequest creates a thread bound to a source.
type CreateThreadRequest struct {
	SourceID string `json:"sourceId,omitempty"`
	Title    string `json:"title,omitempty"`
}

// SendMessageRequest delivers one message.
type SendMessageRequest struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

// SuggestResult is the reply to a suggest pass.
type SuggestResult struct {
	Applied  []Operation      `json:"applied"`
	Pending  []Operation      `json:"pending"`
	Errors   []OperationError `json:"errors"`
	Surfaces json.RawMessage  `json:"surfaces,omitempty"`
}

// OperationRequest is the body of an operation action.
type OperationRequest struct {
	ThreadID      string         `json:"threadId,omitempty"`
	Operation     Operation      `json:"operation"`
	EditedParams  map[string]any `json:"edited_params,omitempty"`
	OriginalState map[string]any `json:"original_state,omitempty"`
}

// OperationResult is the acknowledgement of an operation action.
type OperationResult struct {
	Detail map[string]any `json:"detail,omitempty"`
}

// Client is the backend contract the engine depends on.
type Client interface {
	GetThread(ctx context.Context, threadID string) (conversation.Snapshot, error)
	CreateThread(ctx context.Context, req CreateThreadRequest) (string, error)
	SendMessage(ctx context.Context, threadID string, req SendMessageRequest) (conversation.RawMessage, error)
	Suggest(ctx context.Context, threadID string) (SuggestResult, error)
	ApplyOperation(ctx context.Context, action Action, req OperationRequest) (OperationResult, error)
}

// envelope is the common reply wrapper.
type envelope struct {
	OK     bool                   `json:"ok"`
	Error  string                 `json:"error,omitempty"`
	Thread *conversation.Snapshot `json:"thread,omitempty"`
	Detail map[string]any         `json:"detail,omitempty"`

	Message *conversation.RawMessage `json:"message,omitempty"`

	Applied  []Operation      `json:"applied,omitempty"`
	Pending  []Operation      `json:"pending,omitempty"`
	Errors   []OperationError `json:"errors,omitempty"`
	Surfaces json.RawMessage  `json:"surfaces,omitempty"`
}
