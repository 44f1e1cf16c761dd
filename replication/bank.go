package replication

import (
	"context"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/kit/platform/errors"
)

var _ boneybank.BankService = (*Engine)(nil)
var _ boneybank.ReplicaService = (*Engine)(nil)

// ReadBalance returns the balance once the read has been committed.
func (e *Engine) ReadBalance(ctx context.Context, cred boneybank.Credentials) (*boneybank.BalanceReply, error) {
	res, err := e.execute(ctx, "replication.ReadBalance", boneybank.Command{
		ID:   cred.CommandID(),
		Kind: boneybank.OpReadBalance,
	})
	if err != nil {
		return nil, err
	}
	return &boneybank.BalanceReply{Balance: res.Balance, Role: e.role()}, nil
}

// Deposit adds amount to the balance.
func (e *Engine) Deposit(ctx context.Context, cred boneybank.Credentials, amount float64) (*boneybank.BalanceReply, error) {
	res, err := e.execute(ctx, "replication.Deposit", boneybank.Command{
		ID:     cred.CommandID(),
		Kind:   boneybank.OpDeposit,
		Amount: amount,
	})
	if err != nil {
		return nil, err
	}
	return &boneybank.BalanceReply{Balance: res.Balance, Role: e.role()}, nil
}

// Withdrawal takes amount from the balance if the balance covers it.
func (e *Engine) Withdrawal(ctx context.Context, cred boneybank.Credentials, amount float64) (*boneybank.WithdrawalReply, error) {
	res, err := e.execute(ctx, "replication.Withdrawal", boneybank.Command{
		ID:     cred.CommandID(),
		Kind:   boneybank.OpWithdrawal,
		Amount: amount,
	})
	if err != nil {
		return nil, err
	}
	return &boneybank.WithdrawalReply{Withdrawn: res.Withdrawn, Balance: res.Balance, Role: e.role()}, nil
}

// execute hands cmd to the replication protocol and waits until it is
// committed here. A command that was committed before returns its
// original result.
func (e *Engine) execute(ctx context.Context, op string, cmd boneybank.Command) (boneybank.Result, error) {
	if e.clock.Frozen(e.id) {
		return boneybank.Result{}, errors.Unavailable(op)
	}
	if cmd.Amount < 0 {
		return boneybank.Result{}, errors.Invalid(op, "amount %g must not be negative", cmd.Amount)
	}
	if res, ok := e.log.result(cmd.ID); ok {
		return res, nil
	}
	e.log.submit(cmd)
	return e.log.waitCommitted(ctx, cmd.ID)
}

func (e *Engine) role() boneybank.ServerRole {
	if p, ok := e.resolver.Known(e.clock.Current()); ok && p == e.id {
		return boneybank.RolePrimary
	}
	return boneybank.RoleBackup
}

// Status returns a view of the replica state.
func (e *Engine) Status() boneybank.ReplicaStatus {
	slot := e.clock.Current()
	primary, _ := e.resolver.Known(slot)
	counts := e.log.counts()
	return boneybank.ReplicaStatus{
		ID:           e.id,
		Slot:         slot,
		Primary:      primary,
		Frozen:       e.clock.Frozen(e.id),
		Recovering:   e.isRecovering(),
		Balance:      e.ledger.Balance(),
		CommittedSeq: e.log.lastCommitted(),
		Committed:    counts.committed,
		Tentative:    counts.tentative,
		Waiting:      counts.waiting,
	}
}

// Committed returns the committed log in order.
func (e *Engine) Committed() []boneybank.Entry {
	committed := e.log.committedAfter(boneybank.NoSeq)
	out := make([]boneybank.Entry, len(committed))
	for i, c := range committed {
		out[i] = boneybank.Entry{Seq: c.key, Command: c.cmd}
	}
	return out
}
