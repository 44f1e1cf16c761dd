package replication

import (
	"testing"

	"github.com/boneybank/boneybank"
	"github.com/google/go-cmp/cmp"
)

func id(client, seq int64) boneybank.CommandID {
	return boneybank.CommandID{ClientID: client, ClientSeq: seq}
}

func TestMergePending(t *testing.T) {
	replies := []*boneybank.PendingReply{
		{
			Committed: []boneybank.PendingEntry{{Seq: 4, CommandID: id(1, 4)}},
			Tentative: []boneybank.PendingEntry{{Seq: 5, CommandID: id(1, 5)}},
			LastSeq:   4,
		},
		{
			Committed: []boneybank.PendingEntry{{Seq: 4, CommandID: id(1, 4)}, {Seq: 5, CommandID: id(2, 1)}},
			Tentative: []boneybank.PendingEntry{{Seq: 6, CommandID: id(1, 4)}},
			LastSeq:   5,
		},
	}
	own := []boneybank.PendingEntry{
		{Seq: 4, CommandID: id(3, 1)},
		{Seq: 7, CommandID: id(1, 5)},
	}

	want := []boneybank.PendingEntry{
		{Seq: 4, CommandID: id(1, 4)},
		{Seq: 5, CommandID: id(2, 1)},
		{Seq: 4, CommandID: id(3, 1)},
		{Seq: 5, CommandID: id(1, 5)},
	}
	if diff := cmp.Diff(want, mergePending(replies, own)); diff != "" {
		t.Fatalf("unexpected pending list (-want +got):\n%s", diff)
	}
}

func TestMergePending_Empty(t *testing.T) {
	if got := mergePending(nil, nil); len(got) != 0 {
		t.Fatalf("expected no pending entries, got %v", got)
	}
}
