package conversation

import (
	"sort"
)

// Result describes one reconciliation pass.
type Result struct {
	Messages []Message
	// Retired counts optimistic messages dropped because the snapshot now
	// holds their confirmed copy.
	Retired int
}

// Reconcile merges a snapshot into prior state and returns the new message
// list. It is pure and idempotent: reconciling the result against the same
// snapshot returns the same list.
func Reconcile(prior []Message, snapshot Snapshot) []Message {
	return ReconcileDetailed(prior, snapshot).Messages
}

// ReconcileDetailed is Reconcile with pass statistics.
//
// Optimistic user messages are retired by id when the snapshot carries the
// same id, and otherwise by fingerprint. The fingerprint budget for a bucket
// is the number of snapshot user messages with that fingerprint that are not
// already accounted for by confirmed messages in prior state that the
// snapshot still holds, or by id matches. Within a bucket the oldest optimistic entries are retired first,
// which assumes the backend persists in send order.
func ReconcileDetailed(prior []Message, snapshot Snapshot) Result {
	normalized := Normalize(snapshot)

	snapshotIDs := make(map[string]struct{}, len(normalized))
	snapshotUsers := make(map[string]int)
	snapshotHasSurfaces := false
	for _, m := range normalized {
		snapshotIDs[m.ID] = struct{}{}
		if m.IsUser() {
			snapshotUsers[m.Fingerprint()]++
		}
		if m.IsAssistant() && m.HasSurfaces() {
			snapshotHasSurfaces = true
		}
	}

	confirmedUsers := make(map[string]int)
	var optimistic []Message
	for _, m := range prior {
		if m.Optimistic {
			optimistic = append(optimistic, m)
			continue
		}
		if _, ok := snapshotIDs[m.ID]; ok && m.IsUser() {
			confirmedUsers[m.Fingerprint()]++
		}
	}

	retired := 0
	pending := make([]Message, 0, len(optimistic))
	for _, m := range optimistic {
		if _, ok := snapshotIDs[m.ID]; ok {
			if m.IsUser() {
				confirmedUsers[m.Fingerprint()]++
			}
			retired++
			continue
		}
		pending = append(pending, m)
	}

	matched := matchByFingerprint(pending, snapshotUsers, confirmedUsers)

	survivors := make([]Message, 0, len(pending))
	optimisticUsers := make(map[string]struct{})
	for i, m := range pending {
		if matched[i] {
			retired++
			continue
		}
		if m.IsAssistant() && m.HasSurfaces() && snapshotHasSurfaces {
			continue
		}
		survivors = append(survivors, m)
		if m.IsUser() {
			optimisticUsers[m.Fingerprint()] = struct{}{}
		}
	}

	for i := range normalized {
		if _, ok := optimisticUsers[normalized[i].Fingerprint()]; ok {
			normalized[i].Role = RoleUser
			normalized[i].Surfaces = nil
		}
	}

	merged := make([]Message, 0, len(normalized)+len(survivors))
	merged = append(merged, normalized...)
	merged = append(merged, survivors...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	return Result{Messages: merged, Retired: retired}
}

// matchByFingerprint marks the optimistic user messages in pending that the
// snapshot confirms. The returned slice is parallel to pending.
func matchByFingerprint(pending []Message, snapshotUsers, confirmedUsers map[string]int) []bool {
	buckets := make(map[string][]int)
	for i, m := range pending {
		if !m.IsUser() {
			continue
		}
		fp := m.Fingerprint()
		buckets[fp] = append(buckets[fp], i)
	}

	matched := make([]bool, len(pending))
	for fp, idxs := range buckets {
		budget := snapshotUsers[fp] - confirmedUsers[fp]
		if budget <= 0 {
			continue
		}
		sort.SliceStable(idxs, func(a, b int) bool {
			return pending[idxs[a]].Timestamp.Before(pending[idxs[b]].Timestamp)
		})
		if budget > len(idxs) {
			budget = len(idxs)
		}
		for _, i := range idxs[:budget] {
			matched[i] = true
		}
	}
	return matched
}
