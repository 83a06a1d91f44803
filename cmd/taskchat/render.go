package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/odvcencio/taskchat/pkg/conversation"
	"github.com/odvcencio/taskchat/pkg/telemetry"
	"github.com/odvcencio/taskchat/pkg/token"
)

// transcript is what the renderer needs from a session.
type transcript interface {
	Messages() []conversation.Message
	IsRevealing(id string) bool
}

// renderer prints each message once it is fully visible.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	src     transcript
	printed map[string]bool
	history bool
}

func newRenderer(out io.Writer, src transcript) *renderer {
	return &renderer{out: out, src: src, printed: make(map[string]bool)}
}

func (r *renderer) run(ctx context.Context, events <-chan telemetry.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handle(ev)
		}
	}
}

func (r *renderer) handle(ev telemetry.Event) {
	switch ev.Type {
	case telemetry.EventTypingShown:
		r.printf("  assistant is typing...\n")
	case telemetry.EventThreadSwitched:
		r.mu.Lock()
		r.printed = make(map[string]bool)
		r.history = false
		r.mu.Unlock()
	case telemetry.EventCircuitStateChange:
		r.printf("  connection %v\n", ev.Data["to"])
	case telemetry.EventSnapshotApplied, telemetry.EventRevealCompleted,
		telemetry.EventMessageFailed, telemetry.EventMessageOptimistic:
		r.render()
	}
}

// render prints every message not yet shown. The first pass prints the whole
// history including user messages; later passes only print what the user did
// not type.
func (r *renderer) render() {
	messages := r.src.Messages()

	r.mu.Lock()
	defer r.mu.Unlock()
	first := !r.history
	for _, m := range messages {
		if r.printed[m.ID] || r.src.IsRevealing(m.ID) {
			continue
		}
		if m.IsUser() && !m.Error && (!first || m.Optimistic) {
			if !m.Optimistic {
				r.printed[m.ID] = true
			}
			continue
		}
		if m.IsUser() && m.Error {
			fmt.Fprintf(r.out, "! not sent: %s (/retry or /dismiss)\n", m.ErrorMessage)
			r.printed[m.ID] = true
			continue
		}
		fmt.Fprintln(r.out, formatMessage(m))
		r.printed[m.ID] = true
	}
	r.history = true
}

func (r *renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func formatMessage(m conversation.Message) string {
	prefix := "assistant> "
	if m.IsUser() {
		prefix = "you> "
	}
	if m.Error {
		prefix = "! "
	}
	text := prefix + token.Strip(m.Content)
	for _, s := range m.Surfaces {
		text += fmt.Sprintf("\n  [%s] %s", s.Type, s.Title)
	}
	for _, tok := range token.Decode(m.Content) {
		if tok.Kind == token.KindOp {
			text += fmt.Sprintf("\n  /invoke %s", tok.Raw)
		}
	}
	return text
}
