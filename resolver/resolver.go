// Package resolver finds the primary replica of a slot by asking the
// election nodes.
package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/schedule"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Resolver asks every election node concurrently and keeps the first
// answer. Decisions are immutable, so answers are cached per slot.
type Resolver struct {
	self     boneybank.NodeID
	replicas []boneybank.NodeID
	nodes    []boneybank.ElectionService
	clock    *schedule.Clock

	mu    sync.Mutex
	known map[boneybank.Slot]boneybank.NodeID

	// Context bounds the calls left running after the first answer.
	Context context.Context

	Logger *zap.Logger
}

// New returns a resolver for the replica self of the group replicas.
func New(self boneybank.NodeID, replicas []boneybank.NodeID, clock *schedule.Clock, nodes []boneybank.ElectionService) *Resolver {
	return &Resolver{
		self:     self,
		replicas: append([]boneybank.NodeID(nil), replicas...),
		nodes:    nodes,
		clock:    clock,
		known:    make(map[boneybank.Slot]boneybank.NodeID),
		Context:  context.Background(),
		Logger:   zap.NewNop(),
	}
}

// Known returns the primary of slot if it has been resolved.
func (r *Resolver) Known(slot boneybank.Slot) (boneybank.NodeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.known[slot]
	return v, ok
}

func (r *Resolver) learn(slot boneybank.Slot, primary boneybank.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[slot] = primary
}

// Guess returns the value proposed when slot is resolved: the primary of
// the previous slot unless it is suspected, otherwise the lowest replica
// not suspected in slot, otherwise this replica.
func (r *Resolver) Guess(slot boneybank.Slot) boneybank.NodeID {
	if prev, ok := r.Known(slot - 1); ok && !r.clock.Suspected(slot, prev) {
		return prev
	}
	if c := r.clock.Schedule().Unsuspected(slot, r.replicas); len(c) > 0 {
		return c[0]
	}
	return r.self
}

type answer struct {
	primary boneybank.NodeID
	err     error
}

// Resolve returns the primary of slot. Every election node is asked and
// the first successful answer wins; the other calls keep running under
// r.Context so that each node still queues the decree.
func (r *Resolver) Resolve(ctx context.Context, slot boneybank.Slot) (boneybank.NodeID, error) {
	if v, ok := r.Known(slot); ok {
		return v, nil
	}
	if len(r.nodes) == 0 {
		return boneybank.NoNode, fmt.Errorf("resolving slot %d: no election nodes", slot)
	}

	guess := r.Guess(slot)
	answers := make(chan answer, len(r.nodes))
	for _, n := range r.nodes {
		go func(n boneybank.ElectionService) {
			v, err := n.Resolve(r.Context, slot, guess)
			answers <- answer{primary: v, err: err}
		}(n)
	}

	var errs error
	for range r.nodes {
		select {
		case <-ctx.Done():
			return boneybank.NoNode, ctx.Err()
		case a := <-answers:
			if a.err != nil {
				errs = multierr.Append(errs, a.err)
				continue
			}
			r.learn(slot, a.primary)
			r.Logger.Debug("Resolved primary",
				zap.Int64("slot", int64(slot)),
				zap.Stringer("guess", guess),
				zap.Stringer("primary", a.primary))
			return a.primary, nil
		}
	}
	return boneybank.NoNode, fmt.Errorf("resolving slot %d: %w", slot, errs)
}
