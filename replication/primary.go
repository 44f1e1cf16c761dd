package replication

import (
	"context"
	"sync"
	"time"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/pkg/quorum"
	"go.uber.org/zap"
)

// replicate runs the two-phase broadcast for cmd at the next sequence
// number. It returns false when a backup refused the round, no majority
// acknowledged it, or this replica stopped being primary.
func (e *Engine) replicate(ctx context.Context, slot boneybank.Slot, cmd boneybank.Command) (bool, error) {
	start := time.Now()
	defer func() { e.metrics.replicateDur.Observe(time.Since(start).Seconds()) }()

	seq := e.log.nextSeq()
	if !e.log.stage(seq, slot, e.id, cmd) {
		// Committed meanwhile, by a recovery.
		return true, nil
	}

	req := boneybank.TentativeRequest{Seq: seq, Slot: slot, Primary: e.id, CommandID: cmd.ID}
	c := quorum.New(e.need())
	e.fanout(ctx, c, func(ctx context.Context, p boneybank.ReplicaService) {
		ok, err := p.Tentative(ctx, req)
		switch {
		case err != nil:
			c.Ignore()
		case ok:
			c.Ack()
		default:
			c.Kill()
		}
	})
	ok, err := c.Wait(ctx)
	if err == nil && ok && !e.stillPrimary(slot) {
		ok = false
	}
	e.metrics.rounds.WithLabelValues(outcome(ok && err == nil)).Inc()
	if err != nil || !ok {
		e.log.unstage(seq, cmd.ID)
		return false, err
	}

	e.apply(seq, cmd)
	e.broadcastCommit(ctx, boneybank.CommitRequest{Seq: seq, Slot: slot, Primary: e.id})
	return true, nil
}

// broadcastCommit sends req to every peer without waiting for a majority.
// Peers that miss it are repaired by a later cleanup or recovery.
func (e *Engine) broadcastCommit(ctx context.Context, req boneybank.CommitRequest) {
	peers := e.peerList()
	c := quorum.New(len(peers))
	e.fanout(ctx, c, func(ctx context.Context, p boneybank.ReplicaService) {
		if ok, err := p.Commit(ctx, req); err == nil && ok {
			c.Ack()
			return
		}
		c.Ignore()
	})
	c.Linger(ctx, e.clock.Clock, len(peers), e.CommitGrace)
}

// redrive repeats both phases for an entry this primary has committed so
// that lagging backups converge. Refusals are ignored.
func (e *Engine) redrive(ctx context.Context, slot boneybank.Slot, entry committedEntry) {
	peers := e.peerList()
	c := quorum.New(len(peers))
	req := boneybank.TentativeRequest{Seq: entry.seq, Slot: slot, Primary: e.id, CommandID: entry.cmd.ID}
	e.fanout(ctx, c, func(ctx context.Context, p boneybank.ReplicaService) {
		if _, err := p.Tentative(ctx, req); err != nil {
			e.Logger.Debug("Redrive not accepted", zap.Int64("seq", int64(entry.seq)), zap.Error(err))
		}
		c.Ignore()
	})
	c.Linger(ctx, e.clock.Clock, len(peers), e.CommitGrace)
	e.broadcastCommit(ctx, boneybank.CommitRequest{Seq: entry.seq, Slot: slot, Primary: e.id})
}

// cleanup brings the group up to date before a newly promoted primary
// serves new commands. It asks every backup for the commands it holds,
// repeats the rounds of local commits the slowest responders lack, and
// replicates every command reported by any responder that this replica
// has not committed.
func (e *Engine) cleanup(ctx context.Context, slot boneybank.Slot) (bool, error) {
	last := e.log.lastCommitted()
	req := boneybank.PendingRequest{LastKnown: last, Slot: slot, Primary: e.id}

	var (
		mu      sync.Mutex
		replies []*boneybank.PendingReply
	)
	c := quorum.New(e.need())
	e.fanout(ctx, c, func(ctx context.Context, p boneybank.ReplicaService) {
		reply, err := p.ListPending(ctx, req)
		if err != nil {
			c.Ignore()
			return
		}
		mu.Lock()
		replies = append(replies, reply)
		mu.Unlock()
		c.Ack()
	})
	if ok, err := c.Wait(ctx); err != nil || !ok {
		return false, err
	}

	mu.Lock()
	got := append([]*boneybank.PendingReply(nil), replies...)
	mu.Unlock()

	low := last
	for _, r := range got {
		if r.LastSeq < low {
			low = r.LastSeq
		}
	}
	log := e.Logger.With(zap.Int64("slot", int64(slot)))
	log.Info("Cleanup started",
		zap.Int("responders", len(got)),
		zap.Int64("last_committed", int64(last)),
		zap.Int64("low_water", int64(low)))

	for _, entry := range e.log.committedAfter(low) {
		e.redrive(ctx, slot, entry)
	}

	for _, p := range mergePending(got, e.log.tentativeEntries()) {
		if e.log.isCommitted(p.CommandID) {
			continue
		}
		cmd, err := e.log.payload(ctx, p.CommandID)
		if err != nil {
			return false, err
		}
		if ok, err := e.replicate(ctx, slot, cmd); err != nil || !ok {
			return false, err
		}
		log.Debug("Replicated pending command", zap.Stringer("command", cmd), zap.Int64("reported_seq", int64(p.Seq)))
	}
	return true, nil
}
