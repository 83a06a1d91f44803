package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/odvcencio/taskchat/pkg/conversation"
	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
	"github.com/odvcencio/taskchat/pkg/operations"
)

var errQuit = errors.New("quit")

// chatSession is the part of *session.Session the REPL drives.
type chatSession interface {
	Messages() []conversation.Message
	Operations() operations.State
	Send(ctx context.Context, text string) (string, error)
	Retry(ctx context.Context, messageID string) error
	DismissMessage(messageID string) bool
	Suggest(ctx context.Context) error
	Approve(ctx context.Context, localID string) error
	EditJSON(ctx context.Context, localID, raw string) error
	Decline(ctx context.Context, localID string) error
	Undo(ctx context.Context, localID string) error
	Invoke(ctx context.Context, raw string) (string, error)
	DismissOperationError(id string) bool
}

type command struct {
	name  string
	index int
	arg   string
}

var indexedCommands = map[string]bool{
	"approve": true,
	"edit":    true,
	"decline": true,
	"undo":    true,
}

// parseCommand turns one input line into a command. Lines that do not start
// with a slash are sent as chat messages.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "send", arg: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)

	switch name {
	case "quit", "exit", "q":
		return command{name: "quit"}, nil
	case "ops", "retry", "suggest", "help":
		return command{name: name}, nil
	case "invoke":
		if rest == "" {
			return command{}, fmt.Errorf("usage: /invoke [op type:...]")
		}
		return command{name: name, arg: rest}, nil
	case "dismiss":
		if rest == "" {
			return command{name: name}, nil
		}
		n, err := parseIndex(rest)
		if err != nil {
			return command{}, err
		}
		return command{name: name, index: n}, nil
	}

	if !indexedCommands[name] {
		return command{}, fmt.Errorf("unknown command: /%s", name)
	}
	idxText, arg, _ := strings.Cut(rest, " ")
	n, err := parseIndex(idxText)
	if err != nil {
		return command{}, fmt.Errorf("usage: /%s N: %w", name, err)
	}
	arg = strings.TrimSpace(arg)
	if name == "edit" && arg == "" {
		return command{}, fmt.Errorf("usage: /edit N {json}")
	}
	return command{name: name, index: n, arg: arg}, nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return n, nil
}

func pick[T any](items []T, n int, what string) (T, error) {
	var zero T
	if n < 1 || n > len(items) {
		return zero, taskerrors.Newf(taskerrors.ErrCodeUnknownRecord, "no %s #%d", what, n)
	}
	return items[n-1], nil
}

// execute runs cmd against sess, writing listings to out.
func execute(ctx context.Context, sess chatSession, cmd command, out io.Writer) error {
	state := sess.Operations()
	switch cmd.name {
	case "":
		return nil
	case "quit":
		return errQuit
	case "help":
		printHelp()
		return nil
	case "send":
		_, err := sess.Send(ctx, cmd.arg)
		return err
	case "retry":
		msg, ok := lastFailed(sess.Messages())
		if !ok {
			return fmt.Errorf("nothing to retry")
		}
		return sess.Retry(ctx, msg.ID)
	case "suggest":
		if err := sess.Suggest(ctx); err != nil {
			return err
		}
		printOperations(out, sess.Operations())
		return nil
	case "ops":
		printOperations(out, state)
		return nil
	case "invoke":
		_, err := sess.Invoke(ctx, cmd.arg)
		return err
	case "dismiss":
		if cmd.index == 0 {
			msg, ok := lastFailed(sess.Messages())
			if !ok || !sess.DismissMessage(msg.ID) {
				return fmt.Errorf("nothing to dismiss")
			}
			return nil
		}
		opErr, err := pick(state.Errors, cmd.index, "operation error")
		if err != nil {
			return err
		}
		sess.DismissOperationError(opErr.ID)
		return nil
	case "undo":
		rec, err := pick(state.Applied, cmd.index, "applied operation")
		if err != nil {
			return err
		}
		return sess.Undo(ctx, rec.LocalID)
	}

	rec, err := pick(state.Pending, cmd.index, "pending operation")
	if err != nil {
		return err
	}
	switch cmd.name {
	case "approve":
		return sess.Approve(ctx, rec.LocalID)
	case "edit":
		return sess.EditJSON(ctx, rec.LocalID, cmd.arg)
	case "decline":
		return sess.Decline(ctx, rec.LocalID)
	}
	return fmt.Errorf("unknown command: /%s", cmd.name)
}

// lastFailed returns the most recent local message that failed to send.
func lastFailed(messages []conversation.Message) (conversation.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Optimistic && m.Error && m.IsUser() {
			return m, true
		}
	}
	return conversation.Message{}, false
}

func printOperations(out io.Writer, state operations.State) {
	if len(state.Pending)+len(state.Applied)+len(state.Errors) == 0 {
		fmt.Fprintln(out, "no operations")
		return
	}
	section := func(title string, records []operations.Record) {
		if len(records) == 0 {
			return
		}
		fmt.Fprintf(out, "%s:\n", title)
		for i, rec := range records {
			fmt.Fprintf(out, "  %d. %s %s\n", i+1, rec.Op, formatParams(rec.Params))
		}
	}
	section("pending", state.Pending)
	section("applied", state.Applied)
	if len(state.Errors) > 0 {
		fmt.Fprintln(out, "errors:")
		for i, e := range state.Errors {
			fmt.Fprintf(out, "  %d. %s: %s\n", i+1, e.Op, e.Message)
		}
	}
}

func formatParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}
