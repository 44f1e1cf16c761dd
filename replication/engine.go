// Package replication implements the replicas of the bank. The primary of
// each slot replicates client commands to the backups in two phases; a
// newly promoted primary first runs a cleanup, and a replica that missed
// slots recovers the commits it lacks from the primary.
package replication

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/ledger"
	"github.com/boneybank/boneybank/pkg/quorum"
	"github.com/boneybank/boneybank/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	// DefaultCommitWait bounds how long a backup waits for a tentative
	// entry when its commit arrives first.
	DefaultCommitWait = 200 * time.Millisecond

	// DefaultCommitGrace bounds how long a primary lingers on the replies
	// of a broadcast it does not need a majority for.
	DefaultCommitGrace = 50 * time.Millisecond
)

// Resolver returns the primary of a slot.
type Resolver interface {
	Resolve(ctx context.Context, slot boneybank.Slot) (boneybank.NodeID, error)
	Known(slot boneybank.Slot) (boneybank.NodeID, bool)
}

// Engine is one replica.
type Engine struct {
	id       boneybank.NodeID
	replicas []boneybank.NodeID
	clock    *schedule.Clock
	resolver Resolver
	ledger   *ledger.Ledger
	log      *replicaLog
	metrics  *engineMetrics

	mu    sync.Mutex
	peers map[boneybank.NodeID]boneybank.ReplicaService
	base  context.Context

	// transition serializes the entry actions of successive slots.
	transition  sync.Mutex
	lastSlot    boneybank.Slot
	needCleanup bool

	// serving allows one two-phase round at a time.
	serving sync.Mutex

	recoveryMu sync.Mutex
	recovering bool
	recovered  chan struct{}

	CommitWait  time.Duration
	CommitGrace time.Duration

	Logger *zap.Logger
}

// NewEngine returns the replica id of the group replicas.
func NewEngine(id boneybank.NodeID, replicas []boneybank.NodeID, clock *schedule.Clock, resolver Resolver) *Engine {
	rs := append([]boneybank.NodeID(nil), replicas...)
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })

	return &Engine{
		id:          id,
		replicas:    rs,
		clock:       clock,
		resolver:    resolver,
		ledger:      ledger.New(),
		log:         newReplicaLog(),
		metrics:     newEngineMetrics(),
		peers:       make(map[boneybank.NodeID]boneybank.ReplicaService),
		base:        context.Background(),
		CommitWait:  DefaultCommitWait,
		CommitGrace: DefaultCommitGrace,
		Logger:      zap.NewNop(),
	}
}

// ID returns the replica id.
func (e *Engine) ID() boneybank.NodeID { return e.id }

// Connect registers the other replicas of the group.
func (e *Engine) Connect(peers map[boneybank.NodeID]boneybank.ReplicaService) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range peers {
		if id == e.id {
			continue
		}
		e.peers[id] = p
	}
}

// PrometheusCollectors returns the engine metrics.
func (e *Engine) PrometheusCollectors() []prometheus.Collector {
	return e.metrics.PrometheusCollectors()
}

func (e *Engine) peer(id boneybank.NodeID) (boneybank.ReplicaService, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.peers[id]
	return p, ok
}

func (e *Engine) peerList() []boneybank.ReplicaService {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]boneybank.ReplicaService, 0, len(e.peers))
	for _, id := range e.replicas {
		if p, ok := e.peers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) baseContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.base
}

// need returns the acknowledgements a round needs from peers, the
// primary counting for itself.
func (e *Engine) need() int {
	return boneybank.Quorum(len(e.replicas)) - 1
}

// Run performs the entry actions of every slot this replica is not frozen
// in, and serves client commands while it is primary, until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.base = ctx
	e.mu.Unlock()

	for {
		changed := e.clock.Changed()
		if slot := e.clock.Current(); slot > 0 && !e.clock.Frozen(e.id) {
			serve, err := e.enterSlot(ctx, slot)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.Logger.Warn("Failed to enter slot", zap.Int64("slot", int64(slot)), zap.Error(err))
			} else if serve {
				go e.drain(ctx, slot)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// enterSlot resolves the primary of slot and runs cleanup or recovery
// when the primary changed or this replica missed the previous slot. It
// reports whether this replica should serve commands as primary.
func (e *Engine) enterSlot(ctx context.Context, slot boneybank.Slot) (bool, error) {
	e.transition.Lock()
	defer e.transition.Unlock()

	primary, err := e.resolver.Resolve(ctx, slot)
	if err != nil {
		return false, err
	}
	missed := slot > 1 && e.lastSlot != slot-1
	prev := boneybank.NoNode
	if slot > 1 {
		if prev, err = e.resolver.Resolve(ctx, slot-1); err != nil {
			return false, err
		}
	}
	e.lastSlot = slot

	log := e.Logger.With(zap.Int64("slot", int64(slot)), zap.Stringer("primary", primary))
	log.Info("Entered slot", zap.Stringer("previous_primary", prev), zap.Bool("missed_previous", missed))

	if primary != e.id {
		e.needCleanup = false
		if missed && primary == prev {
			if err := e.recover(ctx, primary); err != nil {
				log.Warn("Recovery failed", zap.Error(err))
			}
		}
		return false, nil
	}

	if prev != e.id {
		e.needCleanup = true
	}
	if e.needCleanup {
		e.serving.Lock()
		ok, err := e.cleanup(ctx, slot)
		e.serving.Unlock()
		e.metrics.cleanups.WithLabelValues(outcome(ok && err == nil)).Inc()
		if err != nil || !ok {
			if ctx.Err() == nil {
				log.Warn("Cleanup did not complete", zap.Error(err))
			}
			return false, err
		}
		e.needCleanup = false
		log.Info("Cleanup completed")
	}
	return true, nil
}

// drain replicates waiting commands in arrival order while this replica
// is primary of slot. It stops at the end of the slot or when a round is
// aborted.
func (e *Engine) drain(ctx context.Context, slot boneybank.Slot) {
	e.serving.Lock()
	defer e.serving.Unlock()

	for {
		changed := e.clock.Changed()
		if e.clock.Current() != slot || e.clock.Frozen(e.id) {
			return
		}
		cmd, ok, arrived := e.log.oldestWaiting()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				return
			case <-arrived:
			}
			continue
		}

		ok, err := e.replicate(ctx, slot, cmd)
		if err != nil || !ok {
			if ctx.Err() == nil {
				e.Logger.Info("Stopped serving slot",
					zap.Int64("slot", int64(slot)),
					zap.Stringer("command", cmd),
					zap.Error(err))
			}
			return
		}
	}
}

// stillPrimary reports whether this replica may finalize a round started
// as primary of slot.
func (e *Engine) stillPrimary(slot boneybank.Slot) bool {
	if e.clock.Frozen(e.id) {
		return false
	}
	cur := e.clock.Current()
	if cur == slot {
		return true
	}
	p, ok := e.resolver.Known(cur)
	return ok && p == e.id
}

// fanout calls fn for every peer concurrently. The counter is killed once
// every peer has answered, which fails it if no majority acknowledged.
func (e *Engine) fanout(ctx context.Context, c *quorum.Counter, fn func(context.Context, boneybank.ReplicaService)) {
	var wg sync.WaitGroup
	for _, p := range e.peerList() {
		wg.Add(1)
		go func(p boneybank.ReplicaService) {
			defer wg.Done()
			fn(ctx, p)
		}(p)
	}
	go func() {
		wg.Wait()
		c.Kill()
	}()
}

// apply commits cmd under seq and applies it to the ledger.
func (e *Engine) apply(seq boneybank.Seq, cmd boneybank.Command) committedEntry {
	entry, applied := e.log.commit(seq, cmd, e.ledger.Apply)
	if applied {
		e.metrics.commits.Inc()
		e.metrics.balance.Set(entry.result.Balance)
		e.Logger.Debug("Committed command",
			zap.Int64("seq", int64(seq)),
			zap.Int64("position", int64(entry.key)),
			zap.Stringer("command", cmd),
			zap.Float64("balance", entry.result.Balance))
	} else {
		e.metrics.duplicates.Inc()
	}
	e.metrics.frontier.Set(float64(e.log.lastCommitted()))
	return entry
}
