package election_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/election"
	"github.com/boneybank/boneybank/kit/platform/errors"
	"github.com/boneybank/boneybank/schedule"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

var members = []boneybank.NodeID{1, 2, 3}

// cluster is a group of election engines wired directly to each other.
type cluster struct {
	clock   *schedule.Clock
	engines map[boneybank.NodeID]*election.Engine
}

func newCluster(t *testing.T, rows ...schedule.Row) *cluster {
	t.Helper()

	c := &cluster{
		clock:   schedule.NewClock(schedule.New(rows), time.Hour),
		engines: make(map[boneybank.NodeID]*election.Engine),
	}
	peers := make(map[boneybank.NodeID]boneybank.Acceptor)
	for _, id := range members {
		e := election.NewEngine(id, members, c.clock)
		e.Logger = zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
		e.RetryDelay = time.Millisecond
		c.engines[id] = e
		peers[id] = e
	}
	for _, e := range c.engines {
		e.Connect(peers)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range c.engines {
		e := e
		g.Go(func() error { return e.Run(ctx) })
	}
	t.Cleanup(func() {
		cancel()
		require.ErrorIs(t, g.Wait(), context.Canceled)
	})
	return c
}

func (c *cluster) advance(t *testing.T) {
	t.Helper()
	_, err := c.clock.Advance()
	require.NoError(t, err)
}

func resolve(t *testing.T, e *election.Engine, slot boneybank.Slot, guess boneybank.NodeID) boneybank.NodeID {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := e.Resolve(ctx, slot, guess)
	require.NoError(t, err)
	return v
}

func TestEngine_Role(t *testing.T) {
	clock := schedule.NewClock(schedule.New([]schedule.Row{
		schedule.NewRow(nil, nil),
		schedule.NewRow(nil, []boneybank.NodeID{1}),
		schedule.NewRow([]boneybank.NodeID{2}, []boneybank.NodeID{1}),
	}), time.Hour)

	e1 := election.NewEngine(1, members, clock)
	e2 := election.NewEngine(2, members, clock)

	role, _ := e1.Role()
	require.Equal(t, election.NotLeader, role, "every node is frozen before the first slot")

	_, err := clock.Advance()
	require.NoError(t, err)
	role, ballot := e1.Role()
	require.Equal(t, election.LeaderFirstTerm, role)
	require.Equal(t, int64(1), ballot)
	role, _ = e2.Role()
	require.Equal(t, election.NotLeader, role)

	_, err = clock.Advance()
	require.NoError(t, err)
	role, _ = e1.Role()
	require.Equal(t, election.LeaderFirstTerm, role, "a node never skips itself")
	role, ballot = e2.Role()
	require.Equal(t, election.LeaderNeedsPrepare, role)
	require.Equal(t, int64(2), ballot)

	_, err = clock.Advance()
	require.NoError(t, err)
	role, _ = e2.Role()
	require.Equal(t, election.NotLeader, role, "a frozen node does not lead")
}

func TestEngine_ResolveFirstTerm(t *testing.T) {
	c := newCluster(t, schedule.NewRow(nil, nil))
	c.advance(t)

	var wg sync.WaitGroup
	got := make([]boneybank.NodeID, len(members))
	for i, id := range members {
		wg.Add(1)
		go func(i int, e *election.Engine) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			v, err := e.Resolve(ctx, 1, boneybank.NodeID(4+i))
			if err == nil {
				got[i] = v
			}
		}(i, c.engines[id])
	}
	wg.Wait()

	for _, v := range got {
		require.Equal(t, got[0], v)
	}
	require.Contains(t, []boneybank.NodeID{4, 5, 6}, got[0])

	// A later call observes the decision without running a decree.
	require.Equal(t, got[0], resolve(t, c.engines[2], 1, 9))
}

func TestEngine_ResolveWithSuspectedLeader(t *testing.T) {
	c := newCluster(t,
		schedule.NewRow(nil, nil),
		schedule.NewRow([]boneybank.NodeID{1}, []boneybank.NodeID{1}),
	)
	c.advance(t)
	for _, id := range members {
		require.Equal(t, boneybank.NodeID(4), resolve(t, c.engines[id], 1, 4))
	}

	c.advance(t)
	for _, id := range []boneybank.NodeID{2, 3} {
		require.Equal(t, boneybank.NodeID(5), resolve(t, c.engines[id], 2, 5))
	}

	role, ballot := c.engines[2].Role()
	require.Equal(t, election.LeaderNeedsPrepare, role, "ballots above the first prepare every slot")
	require.Equal(t, int64(2), ballot)
}

func TestEngine_ResolveFillsGaps(t *testing.T) {
	c := newCluster(t, schedule.NewRow(nil, nil), schedule.NewRow(nil, nil))
	c.advance(t)
	c.advance(t)

	for _, id := range members {
		id := id
		go func() { _, _ = c.engines[id].Resolve(context.Background(), 2, 6) }()
	}
	require.Equal(t, boneybank.NodeID(6), resolve(t, c.engines[1], 2, 6))

	v, ok := c.engines[1].Decision(1)
	require.True(t, ok, "earlier slot decided before the later one")
	require.Equal(t, boneybank.NodeID(6), v)
	require.Eventually(t, func() bool {
		return len(c.engines[3].Decisions()) == 2
	}, 5*time.Second, time.Millisecond)
}

func TestEngine_ResolveFrozen(t *testing.T) {
	clock := schedule.NewClock(schedule.New([]schedule.Row{
		schedule.NewRow([]boneybank.NodeID{1}, nil),
	}), time.Hour)
	e := election.NewEngine(1, members, clock)

	_, err := e.Resolve(context.Background(), 1, 4)
	require.True(t, errors.IsUnavailable(err))

	_, err = clock.Advance()
	require.NoError(t, err)
	_, err = e.Resolve(context.Background(), 1, 4)
	require.True(t, errors.IsUnavailable(err))
}

func TestEngine_Acceptor(t *testing.T) {
	ctx := context.Background()
	clock := schedule.NewClock(schedule.New([]schedule.Row{schedule.NewRow(nil, nil)}), time.Hour)
	_, err := clock.Advance()
	require.NoError(t, err)
	e := election.NewEngine(2, members, clock)

	prep, err := e.Prepare(ctx, boneybank.PrepareRequest{ReadTS: 3, Slot: 1})
	require.NoError(t, err)
	require.Equal(t, boneybank.StatusNotFound, prep.Status)
	require.Equal(t, int64(3), prep.Promised)

	prep, err = e.Prepare(ctx, boneybank.PrepareRequest{ReadTS: 2, Slot: 1})
	require.NoError(t, err)
	require.Equal(t, boneybank.StatusKill, prep.Status, "stale prepare")
	require.Equal(t, int64(3), prep.Promised)

	acc, err := e.Propose(ctx, boneybank.ProposeRequest{WriteTS: 2, Slot: 1, Value: 4})
	require.NoError(t, err)
	require.Equal(t, boneybank.StatusKill, acc.Status, "proposal below the promise")

	acc, err = e.Propose(ctx, boneybank.ProposeRequest{WriteTS: 3, Slot: 1, Value: 5})
	require.NoError(t, err)
	require.Equal(t, boneybank.StatusOk, acc.Status)

	prep, err = e.Prepare(ctx, boneybank.PrepareRequest{ReadTS: 4, Slot: 1})
	require.NoError(t, err)
	require.Equal(t, boneybank.StatusOk, prep.Status)
	require.Equal(t, boneybank.NodeID(5), prep.Value)
	require.Equal(t, int64(3), prep.WriteTS)

	acc, err = e.Commit(ctx, boneybank.DecisionRequest{WriteTS: 3, Slot: 2, Value: 5})
	require.NoError(t, err)
	require.Equal(t, boneybank.StatusKill, acc.Status, "commit below the promise")

	acc, err = e.Commit(ctx, boneybank.DecisionRequest{WriteTS: 4, Slot: 1, Value: 5})
	require.NoError(t, err)
	require.Equal(t, boneybank.StatusOk, acc.Status)
	acc, err = e.Commit(ctx, boneybank.DecisionRequest{WriteTS: 5, Slot: 1, Value: 6})
	require.NoError(t, err)
	require.Equal(t, boneybank.StatusKill, acc.Status, "conflicting decision")
	acc, err = e.Commit(ctx, boneybank.DecisionRequest{WriteTS: 1, Slot: 1, Value: 5})
	require.NoError(t, err)
	require.Equal(t, boneybank.StatusOk, acc.Status, "late commit of the decided value")

	v, ok := e.Decision(1)
	require.True(t, ok)
	require.Equal(t, boneybank.NodeID(5), v, "a slot keeps its first decision")
	require.Equal(t, map[boneybank.Slot]boneybank.NodeID{1: 5}, e.Decisions())
}
