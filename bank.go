package boneybank

import "context"

// ServerRole tells a client whether the replica that answered was the
// primary of the current slot.
type ServerRole string

const (
	RolePrimary ServerRole = "primary"
	RoleBackup  ServerRole = "backup"
)

// BankService is the client-facing surface of a replica. Every call blocks
// until the command has been committed and applied locally.
type BankService interface {
	ReadBalance(ctx context.Context, cred Credentials) (*BalanceReply, error)
	Deposit(ctx context.Context, cred Credentials, amount float64) (*BalanceReply, error)
	Withdrawal(ctx context.Context, cred Credentials, amount float64) (*WithdrawalReply, error)
}

// BalanceReply answers ReadBalance and Deposit.
type BalanceReply struct {
	Balance float64    `json:"balance"`
	Role    ServerRole `json:"role"`
}

// WithdrawalReply answers Withdrawal. Withdrawn is zero when the balance did
// not cover the amount.
type WithdrawalReply struct {
	Withdrawn float64    `json:"withdrawn"`
	Balance   float64    `json:"balance"`
	Role      ServerRole `json:"role"`
}
