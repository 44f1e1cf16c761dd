package inmem

import (
	"context"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/election"
	"github.com/boneybank/boneybank/replication"
	"github.com/boneybank/boneybank/resolver"
	"github.com/boneybank/boneybank/schedule"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Cluster is a complete system of election nodes and replicas sharing one
// slot clock and one Network.
type Cluster struct {
	Clock     *schedule.Clock
	Network   *Network
	Elections map[boneybank.NodeID]*election.Engine
	Replicas  map[boneybank.NodeID]*replication.Engine

	resolvers []*resolver.Resolver
}

// NewCluster builds the nodes for the given ids over sched. The clock is
// not started; tests advance it by hand.
func NewCluster(elections, replicas []boneybank.NodeID, sched *schedule.Schedule, log *zap.Logger) *Cluster {
	c := &Cluster{
		Clock:     schedule.NewClock(sched, 0),
		Network:   NewNetwork(),
		Elections: make(map[boneybank.NodeID]*election.Engine),
		Replicas:  make(map[boneybank.NodeID]*replication.Engine),
	}
	c.Clock.Logger = log

	for _, id := range elections {
		e := election.NewEngine(id, elections, c.Clock)
		e.Logger = log.With(zap.String("service", "election"), zap.Stringer("node", id))
		e.Connect(c.Network.Acceptors(elections))
		c.Network.AddElection(id, e)
		c.Elections[id] = e
	}

	for _, id := range replicas {
		r := resolver.New(id, replicas, c.Clock, c.Network.Elections(elections))
		r.Logger = log.With(zap.String("service", "resolver"), zap.Stringer("node", id))
		c.resolvers = append(c.resolvers, r)

		e := replication.NewEngine(id, replicas, c.Clock, r)
		e.Logger = log.With(zap.String("service", "replication"), zap.Stringer("node", id))
		e.Connect(c.Network.Replicas(replicas))
		c.Network.AddReplica(id, e)
		c.Replicas[id] = e
	}
	return c
}

// Advance moves every node to the next slot.
func (c *Cluster) Advance() (boneybank.Slot, error) {
	return c.Clock.Advance()
}

// Run runs every engine until ctx is done.
func (c *Cluster) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range c.resolvers {
		r.Context = ctx
	}
	for _, e := range c.Elections {
		e := e
		g.Go(func() error { return e.Run(ctx) })
	}
	for _, e := range c.Replicas {
		e := e
		g.Go(func() error { return e.Run(ctx) })
	}
	return g.Wait()
}
