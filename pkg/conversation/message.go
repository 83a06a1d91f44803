// Package conversation holds the chat message model and the reconciler that
// merges polled thread snapshots with locally optimistic messages.
package conversation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Role is the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps backend role strings onto the two roles the engine knows.
// Anything that is not recognisably the user is treated as the assistant.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "human":
		return RoleUser
	default:
		return RoleAssistant
	}
}

// Message is one entry in a thread's message list.
type Message struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"ts"`
	Optimistic   bool      `json:"optimistic,omitempty"`
	Error        bool      `json:"error,omitempty"`
	Retryable    bool      `json:"retryable,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Embeds       []Embed   `json:"embeds,omitempty"`
	Surfaces     []Surface `json:"surfaces,omitempty"`
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool { return m.Role == RoleUser }

// IsAssistant reports whether the message was written by the assistant.
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }

// HasSurfaces reports whether the message carries interactive surfaces.
func (m Message) HasSurfaces() bool { return len(m.Surfaces) > 0 }

// Fingerprint returns the matching key for the message content.
func (m Message) Fingerprint() string { return Fingerprint(m.Content) }

// Snapshot is an authoritative copy of a thread as returned by a poll.
type Snapshot struct {
	ThreadID string       `json:"id"`
	Messages []RawMessage `json:"messages"`
}

// RawMessage is a message as the backend reports it. Fields are optional
// and loosely typed; Normalize turns them into a Message.
type RawMessage struct {
	ID       string          `json:"id,omitempty"`
	Role     string          `json:"role,omitempty"`
	Content  *string         `json:"content,omitempty"`
	TS       WireTime        `json:"ts,omitzero"`
	Surfaces json.RawMessage `json:"surfaces,omitempty"`
}

// WireTime accepts either an RFC 3339 string or Unix milliseconds. Valid is
// false when the field was absent, null or unparseable.
type WireTime struct {
	Time  time.Time
	Valid bool
}

// NewWireTime wraps t as a valid wire timestamp.
func NewWireTime(t time.Time) WireTime {
	return WireTime{Time: t, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler. Unparseable input leaves the
// value invalid rather than failing the whole snapshot.
func (w *WireTime) UnmarshalJSON(data []byte) error {
	*w = WireTime{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			*w = WireTime{Time: t.UTC(), Valid: true}
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			*w = WireTime{Time: time.UnixMilli(ms).UTC(), Valid: true}
		}
		return nil
	}
	if ms, err := strconv.ParseFloat(string(data), 64); err == nil {
		*w = WireTime{Time: time.UnixMilli(int64(ms)).UTC(), Valid: true}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (w WireTime) MarshalJSON() ([]byte, error) {
	if !w.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(w.Time.UTC().Format(time.RFC3339Nano))
}

// IndexOf returns the position of the message with id, or -1.
func IndexOf(messages []Message, id string) int {
	for i := range messages {
		if messages[i].ID == id {
			return i
		}
	}
	return -1
}
