package conversation

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func raw(id, role, content string, ts time.Time) RawMessage {
	return RawMessage{ID: id, Role: role, Content: &content, TS: NewWireTime(ts)}
}

func optimisticUser(id, content string, ts time.Time) Message {
	return Message{ID: id, Role: RoleUser, Content: content, Timestamp: ts, Optimistic: true}
}

func TestReconcileHelloScenario(t *testing.T) {
	prior := []Message{optimisticUser("local-1", "Hello", at(1))}

	snapshot := Snapshot{ThreadID: "t1", Messages: []RawMessage{
		raw("srv-1", "user", "  hello ", at(2)),
	}}
	got := Reconcile(prior, snapshot)

	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ID)
	assert.False(t, got[0].Optimistic)
	assert.Equal(t, RoleUser, got[0].Role)
}

func TestReconcileDropsByID(t *testing.T) {
	prior := []Message{optimisticUser("m1", "first", at(1))}
	snapshot := Snapshot{ThreadID: "t1", Messages: []RawMessage{raw("m1", "user", "first (edited)", at(1))}}

	res := ReconcileDetailed(prior, snapshot)
	require.Len(t, res.Messages, 1)
	assert.False(t, res.Messages[0].Optimistic)
	assert.Equal(t, 1, res.Retired)
}

func TestReconcileRetiresOldestFirst(t *testing.T) {
	prior := []Message{
		optimisticUser("late", "ok", at(5)),
		optimisticUser("early", "OK", at(1)),
	}
	snapshot := Snapshot{ThreadID: "t1", Messages: []RawMessage{raw("s1", "user", "ok", at(2))}}

	got := Reconcile(prior, snapshot)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "late", got[1].ID)
	assert.True(t, got[1].Optimistic)
}

func TestReconcileRepeatedTextWaitsForNewConfirmation(t *testing.T) {
	first := Reconcile(nil, Snapshot{ThreadID: "t1", Messages: []RawMessage{raw("s1", "user", "yes", at(1))}})
	prior := append(first, optimisticUser("again", "yes", at(10)))

	stale := Reconcile(prior, Snapshot{ThreadID: "t1", Messages: []RawMessage{raw("s1", "user", "yes", at(1))}})
	require.Len(t, stale, 2)
	assert.Equal(t, "again", stale[1].ID)

	fresh := Reconcile(stale, Snapshot{ThreadID: "t1", Messages: []RawMessage{
		raw("s1", "user", "yes", at(1)),
		raw("s2", "user", "yes", at(11)),
	}})
	require.Len(t, fresh, 2)
	assert.Equal(t, []string{"s1", "s2"}, ids(fresh))
}

func TestReconcileIgnoresConfirmedMessagesMissingFromSnapshot(t *testing.T) {
	prior := []Message{
		{ID: "s1", Role: RoleUser, Content: "ok", Timestamp: at(1)},
		optimisticUser("local-2", "ok", at(5)),
	}
	// the snapshot window no longer holds s1 but does hold the new send
	snapshot := Snapshot{ThreadID: "t1", Messages: []RawMessage{raw("s2", "user", "ok", at(6))}}

	res := ReconcileDetailed(prior, snapshot)
	assert.Equal(t, []string{"s2"}, ids(res.Messages))
	assert.Equal(t, 1, res.Retired)

	again := Reconcile(res.Messages, snapshot)
	assert.Equal(t, res.Messages, again)
}

func TestReconcileKeepsSurfaceMessageUntilSnapshotHasSurfaces(t *testing.T) {
	local := Message{
		ID:         "sugg",
		Role:       RoleAssistant,
		Timestamp:  at(3),
		Optimistic: true,
		Surfaces:   []Surface{{Type: "form"}},
	}
	prior := []Message{local}

	without := Reconcile(prior, Snapshot{ThreadID: "t1", Messages: []RawMessage{
		raw("a1", "assistant", "thinking", at(2)),
	}})
	assert.Equal(t, []string{"a1", "sugg"}, ids(without))

	withSurfaces := raw("a2", "assistant", "here", at(4))
	withSurfaces.Surfaces = json.RawMessage(`[{"type":"form","id":9}]`)
	replaced := Reconcile(without, Snapshot{ThreadID: "t1", Messages: []RawMessage{
		raw("a1", "assistant", "thinking", at(2)),
		withSurfaces,
	}})
	assert.Equal(t, []string{"a1", "a2"}, ids(replaced))
	require.Len(t, replaced[1].Surfaces, 1)
	assert.Equal(t, "9", replaced[1].Surfaces[0].ID)
}

func TestReconcileKeepsLocalErrorNotices(t *testing.T) {
	notice := Message{ID: "n1", Role: RoleAssistant, Content: "approve failed", Timestamp: at(2), Optimistic: true, Error: true}
	got := Reconcile([]Message{notice}, Snapshot{ThreadID: "t1", Messages: []RawMessage{raw("a1", "assistant", "hi", at(1))}})
	assert.Equal(t, []string{"a1", "n1"}, ids(got))
}

func TestReconcileForcesRoleForRecentSend(t *testing.T) {
	prior := []Message{
		optimisticUser("o1", "ping", at(1)),
		optimisticUser("o2", "ping", at(2)),
	}
	snapshot := Snapshot{ThreadID: "t1", Messages: []RawMessage{
		raw("s1", "user", "ping", at(1)),
		raw("s2", "bot", "Ping", at(2)),
	}}

	got := Reconcile(prior, snapshot)
	require.Len(t, got, 3)
	for _, m := range got {
		assert.Equal(t, RoleUser, m.Role, "message %s", m.ID)
	}
	assert.Equal(t, Reconcile(got, snapshot), got)
}

func TestReconcileSortsByTimestamp(t *testing.T) {
	prior := []Message{optimisticUser("o", "later", at(30))}
	got := Reconcile(prior, Snapshot{ThreadID: "t1", Messages: []RawMessage{
		raw("b", "assistant", "second", at(20)),
		raw("a", "user", "first", at(10)),
	}})
	assert.Equal(t, []string{"a", "b", "o"}, ids(got))
}

func TestReconcileIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	words := []string{"hi", "Hi", "ok", "ship it", "  ship   it "}
	roles := []string{"user", "assistant", "human", ""}

	for round := 0; round < 200; round++ {
		var prior []Message
		for i := 0; i < rng.Intn(6); i++ {
			m := optimisticUser(fmt.Sprintf("o%d", i), words[rng.Intn(len(words))], at(rng.Intn(10)))
			if rng.Intn(4) == 0 {
				m.Role = RoleAssistant
				m.Surfaces = []Surface{{Type: "card"}}
			}
			prior = append(prior, m)
		}
		for i := 0; i < rng.Intn(4); i++ {
			prior = append(prior, Message{ID: fmt.Sprintf("c%d", i), Role: RoleUser, Content: words[rng.Intn(len(words))], Timestamp: at(rng.Intn(10))})
		}
		var snapshot Snapshot
		snapshot.ThreadID = "t"
		for i := 0; i < rng.Intn(6); i++ {
			r := raw(fmt.Sprintf("s%d", i), roles[rng.Intn(len(roles))], words[rng.Intn(len(words))], at(rng.Intn(10)))
			if rng.Intn(5) == 0 {
				r.TS = WireTime{}
			}
			if rng.Intn(5) == 0 {
				r.Surfaces = json.RawMessage(`[{"type":"card"}]`)
			}
			snapshot.Messages = append(snapshot.Messages, r)
		}

		once := Reconcile(prior, snapshot)
		twice := Reconcile(once, snapshot)
		require.Equal(t, once, twice, "round %d", round)

		removed := map[string]int{}
		kept := map[string]struct{}{}
		for _, m := range once {
			kept[m.ID] = struct{}{}
		}
		for _, m := range prior {
			if _, ok := kept[m.ID]; !ok && m.Optimistic && m.IsUser() {
				removed[m.Fingerprint()]++
			}
		}
		confirmed := map[string]int{}
		for _, m := range Normalize(snapshot) {
			if m.IsUser() {
				confirmed[m.Fingerprint()]++
			}
		}
		for fp, n := range removed {
			assert.LessOrEqual(t, n, confirmed[fp], "round %d fingerprint %q", round, fp)
		}
	}
}

func ids(messages []Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}
