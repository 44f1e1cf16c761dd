// Package election implements the election nodes that decide, slot by slot,
// which replica acts as primary. Every node is an acceptor for all decrees
// and proposes its own decrees while the role rotation makes it leader.
package election

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/kit/platform/errors"
	"github.com/boneybank/boneybank/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultRetryDelay is the pause before a leader retries a failed decree.
const DefaultRetryDelay = 20 * time.Millisecond

// Role is the part a node plays for the decree it is about to run.
type Role int

const (
	NotLeader Role = iota
	// LeaderFirstTerm may propose directly.
	LeaderFirstTerm
	// LeaderNeedsPrepare must run a prepare phase first.
	LeaderNeedsPrepare
)

func (r Role) String() string {
	switch r {
	case LeaderFirstTerm:
		return "leader-first-term"
	case LeaderNeedsPrepare:
		return "leader-needs-prepare"
	default:
		return "not-leader"
	}
}

type acceptedValue struct {
	value   boneybank.NodeID
	writeTS int64
}

// Engine is one election node.
type Engine struct {
	id      boneybank.NodeID
	members []boneybank.NodeID
	clock   *schedule.Clock

	mu           sync.Mutex
	ballot       int64 // candidate counter for the role rotation
	readTS       int64 // highest prepare promised
	writeTS      int64 // highest proposal accepted
	accepted     map[boneybank.Slot]acceptedValue
	forcePrepare bool
	round        round
	acceptors    map[boneybank.NodeID]boneybank.Acceptor

	decisions *decisionLog
	queue     *decreeQueue
	metrics   *engineMetrics

	// RetryDelay is the pause before a leader retries a failed decree.
	RetryDelay time.Duration

	Logger *zap.Logger
}

// NewEngine returns the election node id of the group members, driven by
// clock. Peers are added with Connect before the engine runs.
func NewEngine(id boneybank.NodeID, members []boneybank.NodeID, clock *schedule.Clock) *Engine {
	ms := append([]boneybank.NodeID(nil), members...)
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })

	e := &Engine{
		id:         id,
		members:    ms,
		clock:      clock,
		ballot:     1,
		readTS:     1,
		accepted:   make(map[boneybank.Slot]acceptedValue),
		acceptors:  make(map[boneybank.NodeID]boneybank.Acceptor),
		decisions:  newDecisionLog(),
		queue:      newDecreeQueue(),
		metrics:    newEngineMetrics(),
		RetryDelay: DefaultRetryDelay,
		Logger:     zap.NewNop(),
	}
	e.acceptors[id] = e
	e.metrics.ballot.Set(1)
	return e
}

// ID returns the node id.
func (e *Engine) ID() boneybank.NodeID { return e.id }

// Connect registers the acceptors of the other members.
func (e *Engine) Connect(peers map[boneybank.NodeID]boneybank.Acceptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, a := range peers {
		if id == e.id {
			continue
		}
		e.acceptors[id] = a
	}
}

// PrometheusCollectors returns the engine metrics.
func (e *Engine) PrometheusCollectors() []prometheus.Collector {
	return e.metrics.PrometheusCollectors()
}

// candidate maps a ballot onto a member by rotation.
func (e *Engine) candidate(ballot int64) boneybank.NodeID {
	n := int64(len(e.members))
	return e.members[(ballot-1)%n]
}

// Role computes the role of this node for the next decree. Suspected
// candidates other than this node are skipped by advancing the ballot.
func (e *Engine) Role() (Role, int64) {
	row := e.clock.Row()
	frozen := e.clock.Frozen(e.id)

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < len(e.members); i++ {
		c := e.candidate(e.ballot)
		if c == e.id || !row.IsSuspected(c) {
			break
		}
		e.ballot++
	}
	e.metrics.ballot.Set(float64(e.ballot))

	if e.candidate(e.ballot) != e.id || frozen {
		return NotLeader, e.ballot
	}
	// Only ballot 1 has no earlier ballot whose accepted values a new
	// slot could hide, so every later ballot prepares each slot.
	if e.forcePrepare || e.ballot != 1 {
		return LeaderNeedsPrepare, e.ballot
	}
	return LeaderFirstTerm, e.ballot
}

// observe adopts a ballot seen in a promise or a rejection.
func (e *Engine) observe(promised int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if promised > e.ballot {
		e.ballot = promised
		e.metrics.ballot.Set(float64(promised))
	}
}

// Resolve returns the primary decided for slot. The first call for an
// undecided slot queues a decree proposing guess; every call then waits
// for the decision, whichever node leads it.
func (e *Engine) Resolve(ctx context.Context, slot boneybank.Slot, guess boneybank.NodeID) (boneybank.NodeID, error) {
	if e.clock.Frozen(e.id) {
		return boneybank.NoNode, errors.Unavailable("election.Resolve")
	}
	if slot < 1 {
		return boneybank.NoNode, errors.Invalid("election.Resolve", "slot %d out of range", slot)
	}
	if v, ok := e.decisions.get(slot); ok {
		return v, nil
	}
	if e.queue.push(decree{slot: slot, guess: guess}) {
		e.metrics.pending.Set(float64(e.queue.len()))
	}
	return e.decisions.wait(ctx, slot)
}

// Decision returns the decision recorded for slot, if any.
func (e *Engine) Decision(slot boneybank.Slot) (boneybank.NodeID, bool) {
	return e.decisions.get(slot)
}

// Decisions returns a copy of every decision recorded by this node.
func (e *Engine) Decisions() map[boneybank.Slot]boneybank.NodeID {
	return e.decisions.snapshot()
}

// Run processes queued decrees in slot order until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		d, err := e.queue.next(ctx, e.decisions)
		if err != nil {
			return err
		}
		e.metrics.pending.Set(float64(e.queue.len()))
		if err := e.decide(ctx, d); err != nil {
			return err
		}
	}
}

// decide runs d until its slot has a decision. A node that does not lead
// waits for the decision or for the next slot, which may change its role.
func (e *Engine) decide(ctx context.Context, d decree) error {
	start := time.Now()
	defer func() { e.metrics.decreeDur.Observe(time.Since(start).Seconds()) }()

	log := e.Logger.With(zap.Int64("slot", int64(d.slot)))
	for {
		decided := e.decisions.notify()
		if v, ok := e.decisions.get(d.slot); ok {
			log.Debug("Slot decided", zap.Stringer("primary", v))
			return nil
		}
		slotChanged := e.clock.Changed()

		role, ballot := e.Role()
		if role == NotLeader {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-decided:
			case <-slotChanged:
			}
			continue
		}

		ok, err := e.runSynod(ctx, d, role, ballot)
		if err != nil {
			return err
		}
		if ok {
			continue
		}

		log.Debug("Decree aborted, retrying", zap.Int64("ballot", ballot))
		timer := e.clock.Clock.Timer(e.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-decided:
			timer.Stop()
		case <-timer.C:
		}
	}
}
