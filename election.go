package boneybank

import "context"

// Status is an acceptor's answer to a Paxos message.
type Status int

const (
	StatusOk Status = iota
	// StatusKill tells a proposer that its ballot has been superseded.
	StatusKill
	// StatusFrozen is reported by an acceptor that is frozen this slot.
	StatusFrozen
	// StatusNotFound is a promise that carries no previously accepted value.
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusKill:
		return "kill"
	case StatusFrozen:
		return "frozen"
	case StatusNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// ElectionService decides which replica is the primary of each slot.
type ElectionService interface {
	// Resolve returns the primary decided for slot, starting a decree with
	// guess as the proposed value if none has been started. It blocks until
	// the slot is decided.
	Resolve(ctx context.Context, slot Slot, guess NodeID) (NodeID, error)
}

// Acceptor is the acceptor role of an election node.
type Acceptor interface {
	Prepare(ctx context.Context, req PrepareRequest) (*PrepareReply, error)
	Propose(ctx context.Context, req ProposeRequest) (*AcceptorReply, error)
	Commit(ctx context.Context, req DecisionRequest) (*AcceptorReply, error)
}

// PrepareRequest is phase one of a decree.
type PrepareRequest struct {
	ReadTS int64 `json:"readTS"`
	Slot   Slot  `json:"slot"`
}

// PrepareReply answers a PrepareRequest. Value and WriteTS are set when the
// acceptor had already accepted a value for the slot. Promised is the
// highest ballot the acceptor has promised; on StatusKill it tells the
// proposer which ballot superseded it.
type PrepareReply struct {
	Status   Status `json:"status"`
	Slot     Slot   `json:"slot"`
	Value    NodeID `json:"value"`
	WriteTS  int64  `json:"writeTS"`
	Promised int64  `json:"promised"`
}

// ProposeRequest is phase two of a decree.
type ProposeRequest struct {
	WriteTS int64  `json:"writeTS"`
	Slot    Slot   `json:"slot"`
	Value   NodeID `json:"value"`
}

// DecisionRequest announces the value chosen for a slot.
type DecisionRequest struct {
	WriteTS int64  `json:"writeTS"`
	Slot    Slot   `json:"slot"`
	Value   NodeID `json:"value"`
}

// AcceptorReply answers a ProposeRequest or a DecisionRequest.
type AcceptorReply struct {
	Status   Status `json:"status"`
	Slot     Slot   `json:"slot"`
	Promised int64  `json:"promised"`
}
