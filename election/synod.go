package election

import (
	"context"
	"sync"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/pkg/quorum"
	"go.uber.org/zap"
)

type phase int

const (
	phaseIdle phase = iota
	phasePrepare
	phasePropose
	phaseCommit
)

func (p phase) String() string {
	switch p {
	case phasePrepare:
		return "prepare"
	case phasePropose:
		return "propose"
	case phaseCommit:
		return "commit"
	default:
		return "idle"
	}
}

// round identifies the phase this node is currently running. Replies are
// only counted while the round that sent them is still current.
type round struct {
	phase phase
	slot  boneybank.Slot
	gen   uint64
}

func (e *Engine) begin(p phase, slot boneybank.Slot) (round, []boneybank.Acceptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.round = round{phase: p, slot: slot, gen: e.round.gen + 1}
	as := make([]boneybank.Acceptor, 0, len(e.acceptors))
	for _, a := range e.acceptors {
		as = append(as, a)
	}
	return e.round, as
}

func (e *Engine) current(r round) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round == r
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.round = round{gen: e.round.gen + 1}
}

// broadcast calls fn on every acceptor concurrently and settles the
// returned counter. fn reports each reply on the counter; replies for a
// round that is no longer current are ignored. If every acceptor answered
// without a majority, the counter is killed.
func (e *Engine) broadcast(ctx context.Context, r round, as []boneybank.Acceptor, fn func(context.Context, boneybank.Acceptor, replies)) *quorum.Counter {
	c := quorum.New(boneybank.Quorum(len(e.members)))
	var wg sync.WaitGroup
	for _, a := range as {
		wg.Add(1)
		go func(a boneybank.Acceptor) {
			defer wg.Done()
			fn(ctx, a, &guarded{Counter: c, ok: func() bool { return e.current(r) }})
		}(a)
	}
	go func() {
		wg.Wait()
		c.Kill()
	}()
	return c
}

// replies is the view of a round counter handed to reply handlers.
type replies interface {
	Ack()
	Kill()
	Ignore()
}

// guarded drops replies once its round is stale.
type guarded struct {
	*quorum.Counter
	ok func() bool
}

func (g *guarded) Ack() {
	if !g.ok() {
		g.Counter.Ignore()
		return
	}
	g.Counter.Ack()
}

func (g *guarded) Kill() {
	if !g.ok() {
		g.Counter.Ignore()
		return
	}
	g.Counter.Kill()
}

// runSynod runs one attempt at deciding d. It returns false when the
// attempt was aborted by a rejection or a missing majority.
func (e *Engine) runSynod(ctx context.Context, d decree, role Role, ballot int64) (bool, error) {
	defer e.end()
	log := e.Logger.With(zap.Int64("slot", int64(d.slot)), zap.Int64("ballot", ballot))

	value := d.guess
	if role == LeaderNeedsPrepare || ballot != 1 {
		v, ok, err := e.prepare(ctx, d.slot, ballot)
		if err != nil || !ok {
			return false, err
		}
		if v != boneybank.NoNode {
			value = v
		}
	}

	if ok, err := e.propose(ctx, d.slot, ballot, value); err != nil || !ok {
		return false, err
	}

	if ok, err := e.commit(ctx, d.slot, ballot, value); err != nil || !ok {
		return false, err
	}
	log.Info("Decree committed", zap.Stringer("primary", value))
	return true, nil
}

func (e *Engine) record(p phase, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "aborted"
	}
	e.metrics.rounds.WithLabelValues(p.String(), outcome).Inc()
}

func (e *Engine) abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forcePrepare = true
}

// prepare runs phase one and returns the accepted value with the highest
// write timestamp among the promises, or NoNode.
func (e *Engine) prepare(ctx context.Context, slot boneybank.Slot, ballot int64) (boneybank.NodeID, bool, error) {
	r, as := e.begin(phasePrepare, slot)

	var (
		mu      sync.Mutex
		value   = boneybank.NoNode
		writeTS int64
	)
	c := e.broadcast(ctx, r, as, func(ctx context.Context, a boneybank.Acceptor, rep replies) {
		reply, err := a.Prepare(ctx, boneybank.PrepareRequest{ReadTS: ballot, Slot: slot})
		if err != nil || reply.Slot != slot {
			rep.Ignore()
			return
		}
		switch reply.Status {
		case boneybank.StatusKill:
			e.observe(reply.Promised)
			rep.Kill()
		case boneybank.StatusOk:
			mu.Lock()
			if value == boneybank.NoNode || reply.WriteTS > writeTS {
				value, writeTS = reply.Value, reply.WriteTS
			}
			mu.Unlock()
			rep.Ack()
		case boneybank.StatusNotFound:
			rep.Ack()
		default:
			rep.Ignore()
		}
	})
	ok, err := c.Wait(ctx)
	e.record(phasePrepare, ok)
	if err != nil || !ok {
		e.abort()
		return boneybank.NoNode, false, err
	}

	e.mu.Lock()
	e.forcePrepare = false
	e.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	return value, true, nil
}

func (e *Engine) propose(ctx context.Context, slot boneybank.Slot, ballot int64, value boneybank.NodeID) (bool, error) {
	r, as := e.begin(phasePropose, slot)
	c := e.broadcast(ctx, r, as, func(ctx context.Context, a boneybank.Acceptor, rep replies) {
		reply, err := a.Propose(ctx, boneybank.ProposeRequest{WriteTS: ballot, Slot: slot, Value: value})
		if err != nil || reply.Slot != slot {
			rep.Ignore()
			return
		}
		switch reply.Status {
		case boneybank.StatusKill:
			e.observe(reply.Promised)
			rep.Kill()
		case boneybank.StatusOk:
			rep.Ack()
		default:
			rep.Ignore()
		}
	})
	ok, err := c.Wait(ctx)
	e.record(phasePropose, ok)
	if err != nil || !ok {
		e.abort()
	}
	return ok, err
}

func (e *Engine) commit(ctx context.Context, slot boneybank.Slot, ballot int64, value boneybank.NodeID) (bool, error) {
	r, as := e.begin(phaseCommit, slot)
	c := e.broadcast(ctx, r, as, func(ctx context.Context, a boneybank.Acceptor, rep replies) {
		reply, err := a.Commit(ctx, boneybank.DecisionRequest{WriteTS: ballot, Slot: slot, Value: value})
		if err != nil || reply.Slot != slot {
			rep.Ignore()
			return
		}
		switch reply.Status {
		case boneybank.StatusKill:
			e.observe(reply.Promised)
			rep.Kill()
		case boneybank.StatusOk:
			rep.Ack()
		default:
			rep.Ignore()
		}
	})
	ok, err := c.Wait(ctx)
	e.record(phaseCommit, ok)
	if err != nil {
		return false, err
	}
	if !ok {
		e.abort()
		return false, nil
	}
	// The local acceptor normally recorded it already.
	if v, _ := e.decisions.set(slot, value); v != value {
		return false, nil
	}
	return true, nil
}
