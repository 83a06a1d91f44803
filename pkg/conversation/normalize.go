package conversation

import (
	"fmt"
	"time"
)

// Normalize converts a snapshot into confirmed messages. Roles are coerced
// to user or assistant, surfaces are decoded, embeds are derived from ref
// tokens and missing content defaults to empty. A message without a usable
// timestamp inherits the previous message's timestamp (the zero time for the
// first one) and a message without an id gets a positional one. Messages
// repeating an earlier id are dropped. The result depends only on the
// snapshot.
func Normalize(snapshot Snapshot) []Message {
	out := make([]Message, 0, len(snapshot.Messages))
	seen := make(map[string]struct{}, len(snapshot.Messages))
	var prev time.Time

	for i, raw := range snapshot.Messages {
		id := raw.ID
		if id == "" {
			id = fmt.Sprintf("%s#%d", snapshot.ThreadID, i)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		ts := prev
		if raw.TS.Valid {
			ts = raw.TS.Time
		}
		prev = ts

		content := ""
		if raw.Content != nil {
			content = *raw.Content
		}

		msg := Message{
			ID:        id,
			Role:      ParseRole(raw.Role),
			Content:   content,
			Timestamp: ts,
			Embeds:    EmbedsFromContent(content),
		}
		if msg.IsAssistant() {
			msg.Surfaces = DecodeSurfaces(raw.Surfaces)
		}
		out = append(out, msg)
	}
	return out
}
