package replication

import (
	"context"
	"sort"
	"sync"

	"github.com/boneybank/boneybank"
	"github.com/google/btree"
)

// committedEntry is a committed command with the result of applying it.
type committedEntry struct {
	key    boneybank.Seq // position in the local log
	seq    boneybank.Seq // sequence number assigned by the primary
	cmd    boneybank.Command
	result boneybank.Result
}

func committedLess(a, b committedEntry) bool { return a.key < b.key }

// tentativeEntry is a command staged by the primary of a slot.
type tentativeEntry struct {
	cmd     boneybank.Command
	slot    boneybank.Slot
	primary boneybank.NodeID
}

// replicaLog holds the commands of one replica in their three stages.
// Methods touching several stages lock them in the order waiting,
// tentative, committed.
type replicaLog struct {
	waitingMu   sync.Mutex
	waiting     map[boneybank.CommandID]waitingCommand
	arrivals    uint64
	waitingCh   chan struct{}

	tentativeMu sync.Mutex
	tentative   map[boneybank.Seq]tentativeEntry
	tentativeID map[boneybank.CommandID]boneybank.Seq
	tentativeCh chan struct{}

	committedMu sync.Mutex
	committed   *btree.BTreeG[committedEntry]
	committedID map[boneybank.CommandID]committedEntry
	aliases     map[boneybank.Seq]boneybank.CommandID
	frontier    boneybank.Seq // highest primary seq known as committed
	committedCh chan struct{}
}

type waitingCommand struct {
	cmd     boneybank.Command
	arrival uint64
}

func newReplicaLog() *replicaLog {
	return &replicaLog{
		waiting:     make(map[boneybank.CommandID]waitingCommand),
		waitingCh:   make(chan struct{}),
		tentative:   make(map[boneybank.Seq]tentativeEntry),
		tentativeID: make(map[boneybank.CommandID]boneybank.Seq),
		tentativeCh: make(chan struct{}),
		committed:   btree.NewG(16, committedLess),
		committedID: make(map[boneybank.CommandID]committedEntry),
		aliases:     make(map[boneybank.Seq]boneybank.CommandID),
		committedCh: make(chan struct{}),
	}
}

func broadcast(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}

// submit adds a command received from a client to the waiting set unless
// the replica already holds it in any stage.
func (l *replicaLog) submit(cmd boneybank.Command) bool {
	l.waitingMu.Lock()
	defer l.waitingMu.Unlock()
	l.tentativeMu.Lock()
	defer l.tentativeMu.Unlock()
	l.committedMu.Lock()
	defer l.committedMu.Unlock()

	if _, ok := l.waiting[cmd.ID]; ok {
		return false
	}
	if _, ok := l.tentativeID[cmd.ID]; ok {
		return false
	}
	if _, ok := l.committedID[cmd.ID]; ok {
		return false
	}
	l.arrivals++
	l.waiting[cmd.ID] = waitingCommand{cmd: cmd, arrival: l.arrivals}
	broadcast(&l.waitingCh)
	return true
}

// oldestWaiting returns the first command that arrived and is still
// waiting, and a channel closed on the next arrival.
func (l *replicaLog) oldestWaiting() (boneybank.Command, bool, <-chan struct{}) {
	l.waitingMu.Lock()
	defer l.waitingMu.Unlock()

	var (
		oldest waitingCommand
		found  bool
	)
	for _, w := range l.waiting {
		if !found || w.arrival < oldest.arrival {
			oldest, found = w, true
		}
	}
	return oldest.cmd, found, l.waitingCh
}

// payload returns the command with id from the tentative log or the
// waiting set, blocking until the client delivers it.
func (l *replicaLog) payload(ctx context.Context, id boneybank.CommandID) (boneybank.Command, error) {
	for {
		l.waitingMu.Lock()
		w, ok := l.waiting[id]
		ch := l.waitingCh
		l.tentativeMu.Lock()
		seq, staged := l.tentativeID[id]
		var cmd boneybank.Command
		if staged {
			cmd = l.tentative[seq].cmd
		}
		l.tentativeMu.Unlock()
		l.waitingMu.Unlock()

		if staged {
			return cmd, nil
		}
		if ok {
			return w.cmd, nil
		}
		select {
		case <-ctx.Done():
			return boneybank.Command{}, ctx.Err()
		case <-ch:
		}
	}
}

// stage moves cmd into the tentative log at seq on behalf of the primary
// of slot. An earlier tentative copy of the same command is discarded. A
// different command staged at seq by a superseded primary goes back to the
// waiting set. It returns false if cmd is already committed.
func (l *replicaLog) stage(seq boneybank.Seq, slot boneybank.Slot, primary boneybank.NodeID, cmd boneybank.Command) bool {
	l.waitingMu.Lock()
	defer l.waitingMu.Unlock()
	l.tentativeMu.Lock()
	defer l.tentativeMu.Unlock()
	l.committedMu.Lock()
	defer l.committedMu.Unlock()

	delete(l.waiting, cmd.ID)
	if _, ok := l.committedID[cmd.ID]; ok {
		return false
	}
	if old, ok := l.tentativeID[cmd.ID]; ok {
		delete(l.tentative, old)
	}
	if prev, ok := l.tentative[seq]; ok && prev.cmd.ID != cmd.ID {
		delete(l.tentativeID, prev.cmd.ID)
		l.arrivals++
		l.waiting[prev.cmd.ID] = waitingCommand{cmd: prev.cmd, arrival: l.arrivals}
		broadcast(&l.waitingCh)
	}
	l.tentative[seq] = tentativeEntry{cmd: cmd, slot: slot, primary: primary}
	l.tentativeID[cmd.ID] = seq
	broadcast(&l.tentativeCh)
	return true
}

// unstage returns a tentative command to the waiting set.
func (l *replicaLog) unstage(seq boneybank.Seq, id boneybank.CommandID) {
	l.waitingMu.Lock()
	defer l.waitingMu.Unlock()
	l.tentativeMu.Lock()
	defer l.tentativeMu.Unlock()

	t, ok := l.tentative[seq]
	if !ok || t.cmd.ID != id {
		return
	}
	delete(l.tentative, seq)
	delete(l.tentativeID, id)
	l.arrivals++
	l.waiting[id] = waitingCommand{cmd: t.cmd, arrival: l.arrivals}
	broadcast(&l.waitingCh)
}

// tentativeAt returns the command the primary of slot staged at seq,
// waiting up to ctx for it to land. Entries staged by another primary or
// in another slot are not returned.
func (l *replicaLog) tentativeAt(ctx context.Context, seq boneybank.Seq, slot boneybank.Slot, primary boneybank.NodeID) (boneybank.Command, bool) {
	for {
		l.tentativeMu.Lock()
		t, ok := l.tentative[seq]
		ch := l.tentativeCh
		l.tentativeMu.Unlock()
		if ok && t.slot == slot && t.primary == primary {
			return t.cmd, true
		}
		select {
		case <-ctx.Done():
			return boneybank.Command{}, false
		case <-ch:
		}
	}
}

func (l *replicaLog) tentativeEntries() []boneybank.PendingEntry {
	l.tentativeMu.Lock()
	defer l.tentativeMu.Unlock()
	out := make([]boneybank.PendingEntry, 0, len(l.tentative))
	for seq, t := range l.tentative {
		out = append(out, boneybank.PendingEntry{Seq: seq, CommandID: t.cmd.ID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// commit moves cmd into the committed log under seq and applies it. A
// command that is already committed is recorded as an alias of seq and
// not applied again. The returned bool reports whether cmd was applied.
func (l *replicaLog) commit(seq boneybank.Seq, cmd boneybank.Command, apply func(boneybank.Command) boneybank.Result) (committedEntry, bool) {
	l.waitingMu.Lock()
	defer l.waitingMu.Unlock()
	l.tentativeMu.Lock()
	defer l.tentativeMu.Unlock()
	l.committedMu.Lock()
	defer l.committedMu.Unlock()

	delete(l.waiting, cmd.ID)
	if old, ok := l.tentativeID[cmd.ID]; ok {
		delete(l.tentative, old)
		delete(l.tentativeID, cmd.ID)
	}
	if seq > l.frontier {
		l.frontier = seq
	}

	if e, ok := l.committedID[cmd.ID]; ok {
		if e.seq != seq {
			l.aliases[seq] = cmd.ID
		}
		return e, false
	}

	key := seq
	if last, ok := l.committed.Max(); ok && key <= last.key {
		key = last.key + 1
	}
	e := committedEntry{key: key, seq: seq, cmd: cmd, result: apply(cmd)}
	l.committed.ReplaceOrInsert(e)
	l.committedID[cmd.ID] = e
	broadcast(&l.committedCh)
	return e, true
}

// acked marks seq as committed for a command that was committed earlier
// under another sequence number.
func (l *replicaLog) acked(seq boneybank.Seq, id boneybank.CommandID) {
	l.committedMu.Lock()
	defer l.committedMu.Unlock()
	if e, ok := l.committedID[id]; ok && e.seq != seq {
		l.aliases[seq] = id
	}
}

// alias reports whether seq names a command committed under another
// sequence number, and marks it as committed.
func (l *replicaLog) alias(seq boneybank.Seq) bool {
	l.committedMu.Lock()
	defer l.committedMu.Unlock()
	if _, ok := l.aliases[seq]; !ok {
		return false
	}
	if seq > l.frontier {
		l.frontier = seq
	}
	return true
}

func (l *replicaLog) isCommitted(id boneybank.CommandID) bool {
	l.committedMu.Lock()
	defer l.committedMu.Unlock()
	_, ok := l.committedID[id]
	return ok
}

func (l *replicaLog) result(id boneybank.CommandID) (boneybank.Result, bool) {
	l.committedMu.Lock()
	defer l.committedMu.Unlock()
	e, ok := l.committedID[id]
	return e.result, ok
}

// waitCommitted blocks until the command id is committed.
func (l *replicaLog) waitCommitted(ctx context.Context, id boneybank.CommandID) (boneybank.Result, error) {
	for {
		l.committedMu.Lock()
		e, ok := l.committedID[id]
		ch := l.committedCh
		l.committedMu.Unlock()
		if ok {
			return e.result, nil
		}
		select {
		case <-ctx.Done():
			return boneybank.Result{}, ctx.Err()
		case <-ch:
		}
	}
}

func (l *replicaLog) lastCommitted() boneybank.Seq {
	l.committedMu.Lock()
	defer l.committedMu.Unlock()
	return l.frontier
}

// nextSeq returns the sequence number a primary assigns to its next
// command.
func (l *replicaLog) nextSeq() boneybank.Seq {
	l.tentativeMu.Lock()
	defer l.tentativeMu.Unlock()
	l.committedMu.Lock()
	defer l.committedMu.Unlock()

	next := l.frontier
	if last, ok := l.committed.Max(); ok && last.key > next {
		next = last.key
	}
	for seq := range l.tentative {
		if seq > next {
			next = seq
		}
	}
	return next + 1
}

// committedAfter returns the committed entries whose local position is
// above after, in order.
func (l *replicaLog) committedAfter(after boneybank.Seq) []committedEntry {
	l.committedMu.Lock()
	defer l.committedMu.Unlock()
	var out []committedEntry
	l.committed.AscendGreaterOrEqual(committedEntry{key: after + 1}, func(e committedEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

type logCounts struct {
	waiting   int
	tentative int
	committed int
}

func (l *replicaLog) counts() logCounts {
	l.waitingMu.Lock()
	defer l.waitingMu.Unlock()
	l.tentativeMu.Lock()
	defer l.tentativeMu.Unlock()
	l.committedMu.Lock()
	defer l.committedMu.Unlock()
	return logCounts{
		waiting:   len(l.waiting),
		tentative: len(l.tentative),
		committed: l.committed.Len(),
	}
}
