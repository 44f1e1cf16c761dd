package replication

import (
	"sort"

	"github.com/boneybank/boneybank"
)

type pendingItem struct {
	boneybank.PendingEntry
	committed bool
}

// mergePending merges the commands reported during a cleanup into one
// list without duplicates. A command reported as committed by any replica
// is classified as committed. Committed commands come first, each group
// ordered by sequence number.
func mergePending(replies []*boneybank.PendingReply, own []boneybank.PendingEntry) []boneybank.PendingEntry {
	byID := make(map[boneybank.CommandID]pendingItem)
	add := func(en boneybank.PendingEntry, committed bool) {
		cur, ok := byID[en.CommandID]
		switch {
		case !ok,
			committed && !cur.committed,
			committed == cur.committed && en.Seq < cur.Seq:
			byID[en.CommandID] = pendingItem{PendingEntry: en, committed: committed}
		}
	}
	for _, r := range replies {
		for _, en := range r.Committed {
			add(en, true)
		}
		for _, en := range r.Tentative {
			add(en, false)
		}
	}
	for _, en := range own {
		add(en, false)
	}

	items := make([]pendingItem, 0, len(byID))
	for _, it := range byID {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.committed != b.committed {
			return a.committed
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		if a.CommandID.ClientID != b.CommandID.ClientID {
			return a.CommandID.ClientID < b.CommandID.ClientID
		}
		return a.CommandID.ClientSeq < b.CommandID.ClientSeq
	})

	out := make([]boneybank.PendingEntry, len(items))
	for i, it := range items {
		out[i] = it.PendingEntry
	}
	return out
}
