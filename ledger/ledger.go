// Package ledger holds the account balance that committed commands are
// applied to.
package ledger

import (
	"sync"

	"github.com/boneybank/boneybank"
)

// Ledger is a single account balance.
type Ledger struct {
	mu      sync.Mutex
	balance float64
	applied int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Apply applies cmd and returns the resulting balance. A withdrawal that
// the balance does not cover changes nothing and withdraws zero.
func (l *Ledger) Apply(cmd boneybank.Command) boneybank.Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.applied++
	var withdrawn float64
	switch cmd.Kind {
	case boneybank.OpDeposit:
		l.balance += cmd.Amount
	case boneybank.OpWithdrawal:
		if cmd.Amount <= l.balance {
			l.balance -= cmd.Amount
			withdrawn = cmd.Amount
		}
	}
	return boneybank.Result{Balance: l.balance, Withdrawn: withdrawn}
}

// Balance returns the current balance.
func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Applied returns the number of commands applied.
func (l *Ledger) Applied() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied
}
