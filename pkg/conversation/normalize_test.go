package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "hello world", Fingerprint("  Hello \n\t WORLD  "))
	assert.Equal(t, "", Fingerprint("   "))
	assert.Equal(t, "straße", Fingerprint("Straße"))
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleUser, ParseRole("user"))
	assert.Equal(t, RoleUser, ParseRole(" Human "))
	assert.Equal(t, RoleAssistant, ParseRole("assistant"))
	assert.Equal(t, RoleAssistant, ParseRole("system"))
	assert.Equal(t, RoleAssistant, ParseRole(""))
}

func TestNormalizeDefaults(t *testing.T) {
	var snapshot Snapshot
	err := json.Unmarshal([]byte(`{
		"id": "t1",
		"messages": [
			{"role": "user"},
			{"id": "b", "role": "assistant", "content": "see [ref type:task id:7 name:\"Ship it\"]", "ts": "2026-04-10T12:00:05Z"},
			{"id": "c", "role": "assistant", "content": "x", "ts": 1775822410000},
			{"id": "d", "role": "assistant", "content": "y", "ts": "not a time"},
			{"id": "b", "role": "user", "content": "duplicate id"}
		]
	}`), &snapshot)
	require.NoError(t, err)

	got := Normalize(snapshot)
	require.Len(t, got, 4)

	assert.Equal(t, "t1#0", got[0].ID)
	assert.Equal(t, "", got[0].Content)
	assert.True(t, got[0].Timestamp.IsZero())

	assert.Equal(t, time.Date(2026, 4, 10, 12, 0, 5, 0, time.UTC), got[1].Timestamp)
	require.Len(t, got[1].Embeds, 1)
	assert.Equal(t, Embed{Type: "task", ID: "7", Label: "task: Ship it", Raw: `[ref type:task id:7 name:"Ship it"]`}, got[1].Embeds[0])

	assert.Equal(t, time.UnixMilli(1775822410000).UTC(), got[2].Timestamp)
	assert.Equal(t, got[2].Timestamp, got[3].Timestamp, "unparseable ts inherits the previous one")

	for _, m := range got {
		assert.False(t, m.Optimistic)
	}
}

func TestNormalizeIgnoresUserSurfaces(t *testing.T) {
	msg := raw("u", "user", "hi", base)
	msg.Surfaces = json.RawMessage(`[{"type":"form"}]`)
	got := Normalize(Snapshot{Messages: []RawMessage{msg}})
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Surfaces)
}

func TestDecodeSurfaces(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		types []string
	}{
		{"array", `[{"type":"form","title":"New task"},{"type":"card"}]`, []string{"form", "card"}},
		{"single object", `{"type":"form"}`, []string{"form"}},
		{"string encoded", `"[{\"type\":\"picker\"}]"`, []string{"picker"}},
		{"entries without type dropped", `[{"title":"x"},{"type":" "},{"type":"card"}]`, []string{"card"}},
		{"garbage", `[{"type":`, nil},
		{"number", `42`, nil},
		{"null", `null`, nil},
		{"empty", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeSurfaces(json.RawMessage(tt.raw))
			var types []string
			for _, s := range got {
				types = append(types, s.Type)
			}
			assert.Equal(t, tt.types, types)
		})
	}
}

func TestWireTimeMarshal(t *testing.T) {
	data, err := json.Marshal(NewWireTime(base))
	require.NoError(t, err)
	assert.JSONEq(t, `"2026-04-10T12:00:00Z"`, string(data))

	data, err = json.Marshal(WireTime{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestIndexOf(t *testing.T) {
	msgs := []Message{
		{ID: "a", Role: RoleUser, Timestamp: at(1)},
		{ID: "b", Role: RoleAssistant, Timestamp: at(2), Optimistic: true},
		{ID: "c", Role: RoleAssistant, Timestamp: at(3)},
	}
	assert.Equal(t, 2, IndexOf(msgs, "c"))
	assert.Equal(t, -1, IndexOf(msgs, "z"))
}
