// Package operations tracks assistant-proposed operations from pending to
// applied or declined, including edit before apply and undo after apply.
package operations

import (
	"maps"

	"github.com/google/uuid"

	"github.com/odvcencio/taskchat/pkg/backend"
)

// OpChat is the operation that posts into the conversation; applying it
// always refreshes the thread.
const OpChat = "chat"

// Record is one operation. LocalID is assigned once and survives edits.
type Record struct {
	Op      string         `json:"op"`
	Params  map[string]any `json:"params,omitempty"`
	LocalID string         `json:"localId"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Error is a failed operation, dismissible on its own.
type Error struct {
	ID      string         `json:"id"`
	Message string         `json:"message"`
	Op      string         `json:"op,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// State is the operations view of one conversation.
type State struct {
	Applied []Record `json:"applied"`
	Pending []Record `json:"pending"`
	Errors  []Error  `json:"errors"`
}

// Clone returns a deep-enough copy for callers to read without racing.
func (s State) Clone() State {
	return State{
		Applied: append([]Record(nil), s.Applied...),
		Pending: append([]Record(nil), s.Pending...),
		Errors:  append([]Error(nil), s.Errors...),
	}
}

// Stamp assigns a LocalID to every record lacking one. Records that already
// have one are left untouched, so stamping twice changes nothing.
func Stamp(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		if r.LocalID == "" {
			r.LocalID = uuid.NewString()
		}
		out[i] = r
	}
	return out
}

// Sanitize returns a copy of params without project fields when the caller
// forces a project.
func Sanitize(params map[string]any, forcedProject string) map[string]any {
	out := maps.Clone(params)
	if forcedProject == "" || out == nil {
		return out
	}
	delete(out, "project")
	delete(out, "project_id")
	return out
}

func fromWire(ops []backend.Operation) []Record {
	out := make([]Record, 0, len(ops))
	for _, op := range ops {
		out = append(out, Record{Op: op.Op, Params: op.Params, LocalID: op.LocalID, Detail: op.Detail})
	}
	return Stamp(out)
}

func errorsFromWire(errs []backend.OperationError) []Error {
	out := make([]Error, 0, len(errs))
	for _, e := range errs {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, Error{ID: id, Message: e.Message, Op: e.Op, Params: e.Params})
	}
	return out
}

func (r Record) wire(params map[string]any) backend.Operation {
	return backend.Operation{Op: r.Op, Params: params, LocalID: r.LocalID, Detail: r.Detail}
}

func indexOf(records []Record, localID string) int {
	for i := range records {
		if records[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func remove(records []Record, localID string) []Record {
	i := indexOf(records, localID)
	if i < 0 {
		return records
	}
	out := make([]Record, 0, len(records)-1)
	out = append(out, records[:i]...)
	return append(out, records[i+1:]...)
}
