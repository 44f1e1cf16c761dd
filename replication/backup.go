package replication

import (
	"context"
	"fmt"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/kit/platform/errors"
	"go.uber.org/zap"
)

// recognizes reports whether primary is the primary of slot and, if slot
// has ended, of the current slot too. Earlier slots this replica never
// resolved are resolved on the way.
func (e *Engine) recognizes(ctx context.Context, slot boneybank.Slot, primary boneybank.NodeID) (bool, error) {
	p, err := e.resolver.Resolve(ctx, slot)
	if err != nil {
		return false, err
	}
	if p != primary {
		return false, nil
	}
	for s := slot - 1; s >= 1; s-- {
		if _, ok := e.resolver.Known(s); ok {
			break
		}
		if _, err := e.resolver.Resolve(ctx, s); err != nil {
			return false, err
		}
	}
	if cur := e.clock.Current(); cur > slot {
		p, err := e.resolver.Resolve(ctx, cur)
		if err != nil {
			return false, err
		}
		return p == primary, nil
	}
	return true, nil
}

// Tentative stages the command req.CommandID at req.Seq. It blocks until
// the client request carrying the command reaches this replica.
func (e *Engine) Tentative(ctx context.Context, req boneybank.TentativeRequest) (bool, error) {
	const op = "replication.Tentative"
	if e.clock.Frozen(e.id) {
		return false, errors.Unavailable(op)
	}
	if err := e.waitRecovered(ctx); err != nil {
		return false, err
	}

	if ok, err := e.recognizes(ctx, req.Slot, req.Primary); err != nil || !ok {
		if err == nil {
			e.metrics.rejections.WithLabelValues("not-primary").Inc()
		}
		return false, err
	}
	if last := e.log.lastCommitted(); req.Seq > last+1 {
		e.metrics.rejections.WithLabelValues("gap").Inc()
		e.Logger.Info("Missing commits, recovering",
			zap.Int64("seq", int64(req.Seq)),
			zap.Int64("last_committed", int64(last)),
			zap.Stringer("primary", req.Primary))
		e.recoverAsync(req.Primary)
		return false, &errors.Error{
			Code: errors.EGap,
			Op:   op,
			Msg:  fmt.Sprintf("seq %d is beyond last committed seq %d", req.Seq, last),
		}
	}
	if e.log.isCommitted(req.CommandID) {
		e.log.acked(req.Seq, req.CommandID)
		return true, nil
	}

	cmd, err := e.log.payload(ctx, req.CommandID)
	if err != nil {
		return false, err
	}
	if !e.log.stage(req.Seq, req.Slot, req.Primary, cmd) {
		e.log.acked(req.Seq, req.CommandID)
	}
	return true, nil
}

// Commit commits the command staged at req.Seq and applies it.
func (e *Engine) Commit(ctx context.Context, req boneybank.CommitRequest) (bool, error) {
	const op = "replication.Commit"
	if e.clock.Frozen(e.id) {
		return false, errors.Unavailable(op)
	}
	if err := e.waitRecovered(ctx); err != nil {
		return false, err
	}
	if ok, err := e.recognizes(ctx, req.Slot, req.Primary); err != nil || !ok {
		return false, err
	}
	if e.log.alias(req.Seq) {
		return true, nil
	}

	wctx, cancel := context.WithTimeout(ctx, e.CommitWait)
	cmd, ok := e.log.tentativeAt(wctx, req.Seq, req.Slot, req.Primary)
	cancel()
	if !ok {
		return req.Seq <= e.log.lastCommitted(), nil
	}
	e.apply(req.Seq, cmd)
	return true, nil
}

// RecoverState returns the committed entries after lastKnown, in order.
func (e *Engine) RecoverState(ctx context.Context, lastKnown boneybank.Seq) ([]boneybank.Entry, error) {
	if e.clock.Frozen(e.id) {
		return nil, errors.Unavailable("replication.RecoverState")
	}
	committed := e.log.committedAfter(lastKnown)
	out := make([]boneybank.Entry, len(committed))
	for i, c := range committed {
		out[i] = boneybank.Entry{Seq: c.seq, Command: c.cmd}
	}
	return out, nil
}

// ListPending reports the commands this replica holds to a newly promoted
// primary.
func (e *Engine) ListPending(ctx context.Context, req boneybank.PendingRequest) (*boneybank.PendingReply, error) {
	const op = "replication.ListPending"
	if e.clock.Frozen(e.id) {
		return nil, errors.Unavailable(op)
	}
	if err := e.waitRecovered(ctx); err != nil {
		return nil, err
	}
	ok, err := e.recognizes(ctx, req.Slot, req.Primary)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &errors.Error{
			Code: errors.EConflict,
			Op:   op,
			Msg:  fmt.Sprintf("replica %s is not primary of slot %d", req.Primary, req.Slot),
		}
	}

	reply := &boneybank.PendingReply{
		Tentative: e.log.tentativeEntries(),
		LastSeq:   e.log.lastCommitted(),
	}
	for _, c := range e.log.committedAfter(req.LastKnown) {
		reply.Committed = append(reply.Committed, boneybank.PendingEntry{Seq: c.seq, CommandID: c.cmd.ID})
	}
	return reply, nil
}

func (e *Engine) beginRecovery() bool {
	e.recoveryMu.Lock()
	defer e.recoveryMu.Unlock()
	if e.recovering {
		return false
	}
	e.recovering = true
	e.recovered = make(chan struct{})
	return true
}

func (e *Engine) endRecovery() {
	e.recoveryMu.Lock()
	defer e.recoveryMu.Unlock()
	e.recovering = false
	close(e.recovered)
}

// waitRecovered blocks while a recovery is in progress.
func (e *Engine) waitRecovered(ctx context.Context) error {
	e.recoveryMu.Lock()
	recovering, ch := e.recovering, e.recovered
	e.recoveryMu.Unlock()
	if !recovering {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (e *Engine) isRecovering() bool {
	e.recoveryMu.Lock()
	defer e.recoveryMu.Unlock()
	return e.recovering
}

func (e *Engine) recoverAsync(primary boneybank.NodeID) {
	ctx := e.baseContext()
	go func() {
		if err := e.recover(ctx, primary); err != nil && ctx.Err() == nil {
			e.Logger.Warn("Recovery failed", zap.Stringer("primary", primary), zap.Error(err))
		}
	}()
}

// recover commits the entries primary has committed after the last one
// known here. Each command is committed with the payload received from its
// client, waiting for it if needed. Only one recovery runs at a time.
func (e *Engine) recover(ctx context.Context, primary boneybank.NodeID) (err error) {
	if !e.beginRecovery() {
		return nil
	}
	defer e.endRecovery()
	defer func() { e.metrics.recoveries.WithLabelValues(outcome(err == nil)).Inc() }()

	p, ok := e.peer(primary)
	if !ok {
		return fmt.Errorf("recovering from replica %s: not a peer", primary)
	}
	last := e.log.lastCommitted()
	entries, err := p.RecoverState(ctx, last)
	if err != nil {
		return fmt.Errorf("recovering from replica %s: %w", primary, err)
	}

	for _, en := range entries {
		if e.log.isCommitted(en.Command.ID) {
			e.log.commit(en.Seq, en.Command, e.ledger.Apply)
			continue
		}
		cmd, err := e.log.payload(ctx, en.Command.ID)
		if err != nil {
			return err
		}
		e.apply(en.Seq, cmd)
	}
	e.Logger.Info("Recovered",
		zap.Stringer("primary", primary),
		zap.Int64("from", int64(last)),
		zap.Int("entries", len(entries)))
	return nil
}
