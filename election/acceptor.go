package election

import (
	"context"

	"github.com/boneybank/boneybank"
	"go.uber.org/zap"
)

// Prepare promises not to accept proposals below req.ReadTS. The reply
// carries the value already accepted for the slot, if any.
func (e *Engine) Prepare(ctx context.Context, req boneybank.PrepareRequest) (*boneybank.PrepareReply, error) {
	if e.clock.Frozen(e.id) {
		return &boneybank.PrepareReply{Status: boneybank.StatusFrozen, Slot: req.Slot}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ReadTS < e.readTS {
		return &boneybank.PrepareReply{
			Status:   boneybank.StatusKill,
			Slot:     req.Slot,
			Promised: e.readTS,
		}, nil
	}
	e.readTS = req.ReadTS
	if e.readTS > e.ballot {
		e.ballot = e.readTS
		e.metrics.ballot.Set(float64(e.ballot))
	}

	reply := &boneybank.PrepareReply{
		Status:   boneybank.StatusNotFound,
		Slot:     req.Slot,
		Promised: e.readTS,
	}
	if acc, ok := e.accepted[req.Slot]; ok {
		reply.Status = boneybank.StatusOk
		reply.Value = acc.value
		reply.WriteTS = acc.writeTS
	}
	return reply, nil
}

// Propose accepts req if its ballot is the one currently promised and the
// slot has not been decided for another value.
func (e *Engine) Propose(ctx context.Context, req boneybank.ProposeRequest) (*boneybank.AcceptorReply, error) {
	if e.clock.Frozen(e.id) {
		return &boneybank.AcceptorReply{Status: boneybank.StatusFrozen, Slot: req.Slot}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kill := &boneybank.AcceptorReply{Status: boneybank.StatusKill, Slot: req.Slot, Promised: e.readTS}
	if req.WriteTS != e.readTS {
		return kill, nil
	}
	if v, ok := e.decisions.get(req.Slot); ok && v != req.Value {
		return kill, nil
	}

	e.writeTS = req.WriteTS
	e.accepted[req.Slot] = acceptedValue{value: req.Value, writeTS: req.WriteTS}
	return &boneybank.AcceptorReply{Status: boneybank.StatusOk, Slot: req.Slot, Promised: e.readTS}, nil
}

// Commit records the decision for a slot and wakes every caller waiting
// on it. A slot keeps its first decision: a commit for another value, or
// one below the promised ballot for an undecided slot, is killed.
func (e *Engine) Commit(ctx context.Context, req boneybank.DecisionRequest) (*boneybank.AcceptorReply, error) {
	if e.clock.Frozen(e.id) {
		return &boneybank.AcceptorReply{Status: boneybank.StatusFrozen, Slot: req.Slot}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	reply := &boneybank.AcceptorReply{Status: boneybank.StatusOk, Slot: req.Slot, Promised: e.readTS}
	if v, ok := e.decisions.get(req.Slot); ok {
		if v != req.Value {
			e.Logger.Warn("Conflicting decision rejected",
				zap.Int64("slot", int64(req.Slot)),
				zap.Stringer("decided", v),
				zap.Stringer("proposed", req.Value),
				zap.Int64("write_ts", req.WriteTS))
			reply.Status = boneybank.StatusKill
		}
		return reply, nil
	}
	if req.WriteTS < e.readTS {
		reply.Status = boneybank.StatusKill
		return reply, nil
	}

	if req.WriteTS > e.writeTS {
		e.writeTS = req.WriteTS
	}
	e.accepted[req.Slot] = acceptedValue{value: req.Value, writeTS: req.WriteTS}
	e.decisions.set(req.Slot, req.Value)
	e.metrics.decisions.Inc()
	e.metrics.decided.Set(float64(e.decisions.lastContiguous()))
	e.Logger.Info("Recorded primary",
		zap.Int64("slot", int64(req.Slot)),
		zap.Stringer("primary", req.Value),
		zap.Int64("write_ts", req.WriteTS))
	return reply, nil
}
