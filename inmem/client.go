package inmem

import (
	"context"

	"github.com/boneybank/boneybank"
)

type electionClient struct {
	network *Network
	id      boneybank.NodeID
}

func (c *electionClient) Resolve(ctx context.Context, slot boneybank.Slot, guess boneybank.NodeID) (primary boneybank.NodeID, err error) {
	err = c.network.Retry.Do(ctx, func() error {
		node, err := c.network.election(c.id)
		if err != nil {
			return err
		}
		primary, err = node.Resolve(ctx, slot, guess)
		return err
	})
	return primary, err
}

func (c *electionClient) Prepare(ctx context.Context, req boneybank.PrepareRequest) (reply *boneybank.PrepareReply, err error) {
	err = c.network.Retry.Do(ctx, func() error {
		node, err := c.network.election(c.id)
		if err != nil {
			return err
		}
		reply, err = node.Prepare(ctx, req)
		return err
	})
	return reply, err
}

func (c *electionClient) Propose(ctx context.Context, req boneybank.ProposeRequest) (reply *boneybank.AcceptorReply, err error) {
	err = c.network.Retry.Do(ctx, func() error {
		node, err := c.network.election(c.id)
		if err != nil {
			return err
		}
		reply, err = node.Propose(ctx, req)
		return err
	})
	return reply, err
}

func (c *electionClient) Commit(ctx context.Context, req boneybank.DecisionRequest) (reply *boneybank.AcceptorReply, err error) {
	err = c.network.Retry.Do(ctx, func() error {
		node, err := c.network.election(c.id)
		if err != nil {
			return err
		}
		reply, err = node.Commit(ctx, req)
		return err
	})
	return reply, err
}

type replicaClient struct {
	network *Network
	id      boneybank.NodeID
}

func (c *replicaClient) do(ctx context.Context, fn func(ReplicaNode) error) error {
	return c.network.Retry.Do(ctx, func() error {
		node, err := c.network.replica(c.id)
		if err != nil {
			return err
		}
		return fn(node)
	})
}

func (c *replicaClient) Tentative(ctx context.Context, req boneybank.TentativeRequest) (ok bool, err error) {
	err = c.do(ctx, func(n ReplicaNode) (err error) {
		ok, err = n.Tentative(ctx, req)
		return err
	})
	return ok, err
}

func (c *replicaClient) Commit(ctx context.Context, req boneybank.CommitRequest) (ok bool, err error) {
	err = c.do(ctx, func(n ReplicaNode) (err error) {
		ok, err = n.Commit(ctx, req)
		return err
	})
	return ok, err
}

func (c *replicaClient) RecoverState(ctx context.Context, lastKnown boneybank.Seq) (entries []boneybank.Entry, err error) {
	err = c.do(ctx, func(n ReplicaNode) (err error) {
		entries, err = n.RecoverState(ctx, lastKnown)
		return err
	})
	return entries, err
}

func (c *replicaClient) ListPending(ctx context.Context, req boneybank.PendingRequest) (reply *boneybank.PendingReply, err error) {
	err = c.do(ctx, func(n ReplicaNode) (err error) {
		reply, err = n.ListPending(ctx, req)
		return err
	})
	return reply, err
}

func (c *replicaClient) ReadBalance(ctx context.Context, cred boneybank.Credentials) (reply *boneybank.BalanceReply, err error) {
	err = c.do(ctx, func(n ReplicaNode) (err error) {
		reply, err = n.ReadBalance(ctx, cred)
		return err
	})
	return reply, err
}

func (c *replicaClient) Deposit(ctx context.Context, cred boneybank.Credentials, amount float64) (reply *boneybank.BalanceReply, err error) {
	err = c.do(ctx, func(n ReplicaNode) (err error) {
		reply, err = n.Deposit(ctx, cred, amount)
		return err
	})
	return reply, err
}

func (c *replicaClient) Withdrawal(ctx context.Context, cred boneybank.Credentials, amount float64) (reply *boneybank.WithdrawalReply, err error) {
	err = c.do(ctx, func(n ReplicaNode) (err error) {
		reply, err = n.Withdrawal(ctx, cred, amount)
		return err
	})
	return reply, err
}
