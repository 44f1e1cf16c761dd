package replication

import (
	"context"
	"testing"
	"time"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/ledger"
	"github.com/stretchr/testify/require"
)

func deposit(client, seq int64, amount float64) boneybank.Command {
	return boneybank.Command{ID: id(client, seq), Kind: boneybank.OpDeposit, Amount: amount}
}

func TestReplicaLog_Stages(t *testing.T) {
	l := newReplicaLog()
	led := ledger.New()
	a, b := deposit(1, 1, 10), deposit(1, 2, 5)

	require.True(t, l.submit(a))
	require.False(t, l.submit(a), "duplicate submission")
	require.True(t, l.submit(b))

	cmd, ok, _ := l.oldestWaiting()
	require.True(t, ok)
	require.Equal(t, a, cmd)

	require.Equal(t, boneybank.Seq(1), l.nextSeq())
	require.True(t, l.stage(1, 1, 4, a))
	require.Equal(t, boneybank.Seq(2), l.nextSeq())
	require.False(t, l.submit(a), "staged commands are not resubmitted")

	cmd, ok, _ = l.oldestWaiting()
	require.True(t, ok)
	require.Equal(t, b, cmd)

	entry, applied := l.commit(1, a, led.Apply)
	require.True(t, applied)
	require.Equal(t, 10.0, entry.result.Balance)
	require.Equal(t, boneybank.Seq(1), l.lastCommitted())
	require.Empty(t, l.tentativeEntries())

	_, applied = l.commit(3, a, led.Apply)
	require.False(t, applied, "a command is applied once")
	require.True(t, l.alias(3))
	require.Equal(t, boneybank.Seq(3), l.lastCommitted())
	require.Equal(t, 10.0, led.Balance())
	require.False(t, l.stage(4, 1, 4, a), "committed commands are not staged")
}

func TestReplicaLog_UnstageReturnsToWaiting(t *testing.T) {
	l := newReplicaLog()
	a := deposit(1, 1, 10)
	require.True(t, l.submit(a))
	require.True(t, l.stage(1, 1, 4, a))

	l.unstage(2, a.ID)
	require.Len(t, l.tentativeEntries(), 1, "unstage ignores a mismatched seq")

	l.unstage(1, a.ID)
	require.Empty(t, l.tentativeEntries())
	cmd, ok, _ := l.oldestWaiting()
	require.True(t, ok)
	require.Equal(t, a, cmd)
}

func TestReplicaLog_StageReplacesSupersededEntry(t *testing.T) {
	l := newReplicaLog()
	a, b := deposit(1, 1, 10), deposit(2, 1, 20)
	l.submit(a)
	l.submit(b)

	l.stage(1, 1, 4, a)
	l.stage(2, 1, 4, a)
	require.Equal(t, []boneybank.PendingEntry{{Seq: 2, CommandID: a.ID}}, l.tentativeEntries())

	l.stage(2, 2, 5, b)
	require.Equal(t, []boneybank.PendingEntry{{Seq: 2, CommandID: b.ID}}, l.tentativeEntries())

	cmd, ok, _ := l.oldestWaiting()
	require.True(t, ok)
	require.Equal(t, a, cmd, "the superseded command waits again")
}

func TestReplicaLog_TentativeAtMatchesPrimary(t *testing.T) {
	l := newReplicaLog()
	a, b := deposit(1, 1, 10), deposit(2, 1, 20)
	l.submit(a)
	l.submit(b)
	l.stage(1, 1, 4, a)

	short, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	_, ok := l.tentativeAt(short, 1, 2, 5)
	require.False(t, ok, "staged by the primary of another slot")

	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	got := make(chan boneybank.Command, 1)
	go func() {
		if cmd, ok := l.tentativeAt(ctx, 1, 2, 5); ok {
			got <- cmd
		}
	}()
	l.stage(1, 2, 5, b)
	require.Equal(t, b, <-got)
}

func TestReplicaLog_CommitKeepsPositionsIncreasing(t *testing.T) {
	l := newReplicaLog()
	led := ledger.New()

	l.commit(5, deposit(1, 1, 1), led.Apply)
	e, applied := l.commit(3, deposit(1, 2, 1), led.Apply)
	require.True(t, applied)
	require.Equal(t, boneybank.Seq(6), e.key)
	require.Equal(t, boneybank.Seq(5), l.lastCommitted())

	var keys []boneybank.Seq
	for _, c := range l.committedAfter(0) {
		keys = append(keys, c.key)
	}
	require.Equal(t, []boneybank.Seq{5, 6}, keys)
	require.Len(t, l.committedAfter(5), 1)
}

func TestReplicaLog_Waits(t *testing.T) {
	l := newReplicaLog()
	a := deposit(1, 1, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan boneybank.Command, 1)
	go func() {
		cmd, err := l.payload(ctx, a.ID)
		if err == nil {
			got <- cmd
		}
	}()
	time.Sleep(5 * time.Millisecond)
	l.submit(a)
	require.Equal(t, a, <-got)

	done := make(chan boneybank.Result, 1)
	go func() {
		res, err := l.waitCommitted(ctx, a.ID)
		if err == nil {
			done <- res
		}
	}()
	l.stage(1, 1, 4, a)
	cmd, ok := l.tentativeAt(ctx, 1, 1, 4)
	require.True(t, ok)
	l.commit(1, cmd, ledger.New().Apply)
	require.Equal(t, boneybank.Result{Balance: 10}, <-done)

	short, cancelShort := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelShort()
	_, ok = l.tentativeAt(short, 2, 1, 4)
	require.False(t, ok)
}
