package boneybank

import "fmt"

// OpKind is the operation a command performs on the ledger.
type OpKind int

const (
	OpUnknown OpKind = iota
	OpReadBalance
	OpDeposit
	OpWithdrawal
)

func (k OpKind) String() string {
	switch k {
	case OpReadBalance:
		return "read-balance"
	case OpDeposit:
		return "deposit"
	case OpWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// CommandID identifies a command. The pair is the idempotency key of the
// ledger: a command id is committed at most once.
type CommandID struct {
	ClientID  int64 `json:"clientID"`
	ClientSeq int64 `json:"clientSeq"`
}

func (id CommandID) String() string {
	return fmt.Sprintf("%d:%d", id.ClientID, id.ClientSeq)
}

// Credentials accompany every client request.
type Credentials struct {
	ClientID       int64 `json:"clientID"`
	SequenceNumber int64 `json:"sequenceNumber"`
}

// CommandID returns the id of the command carried by a request with c.
func (c Credentials) CommandID() CommandID {
	return CommandID{ClientID: c.ClientID, ClientSeq: c.SequenceNumber}
}

// Command is a client operation as received by a replica.
type Command struct {
	ID     CommandID `json:"id"`
	Kind   OpKind    `json:"kind"`
	Amount float64   `json:"amount"`
}

func (c Command) String() string {
	return fmt.Sprintf("{%s %s %g}", c.ID, c.Kind, c.Amount)
}

// Entry is a command placed at a sequence number.
type Entry struct {
	Seq     Seq     `json:"seq"`
	Command Command `json:"command"`
}

// Result is the outcome of applying a command to the ledger.
type Result struct {
	Balance   float64 `json:"balance"`
	Withdrawn float64 `json:"withdrawn"`
}
