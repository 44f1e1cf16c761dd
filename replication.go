package boneybank

import "context"

// ReplicaService is the replica-to-replica surface of the replication
// protocol.
type ReplicaService interface {
	// Tentative asks a backup to stage the command with id at seq. A false
	// ack means the backup does not recognize the sender as primary for the
	// slot, or is missing earlier commits.
	Tentative(ctx context.Context, req TentativeRequest) (bool, error)
	// Commit asks a backup to commit the command staged at seq.
	Commit(ctx context.Context, req CommitRequest) (bool, error)
	// RecoverState returns every committed entry after lastKnown, in order.
	RecoverState(ctx context.Context, lastKnown Seq) ([]Entry, error)
	// ListPending returns the committed entries after req.LastKnown and all
	// tentative entries, for a newly promoted primary.
	ListPending(ctx context.Context, req PendingRequest) (*PendingReply, error)
}

// TentativeRequest is the first phase of replicating one command.
type TentativeRequest struct {
	Seq       Seq       `json:"seq"`
	Slot      Slot      `json:"slot"`
	Primary   NodeID    `json:"primary"`
	CommandID CommandID `json:"commandID"`
}

// CommitRequest is the second phase of replicating one command.
type CommitRequest struct {
	Seq     Seq    `json:"seq"`
	Slot    Slot   `json:"slot"`
	Primary NodeID `json:"primary"`
}

// PendingRequest is sent by a new primary during cleanup.
type PendingRequest struct {
	LastKnown Seq    `json:"lastKnown"`
	Slot      Slot   `json:"slot"`
	Primary   NodeID `json:"primary"`
}

// PendingEntry names a command by id at the sequence number a replica holds
// it under.
type PendingEntry struct {
	Seq       Seq       `json:"seq"`
	CommandID CommandID `json:"commandID"`
}

// PendingReply answers a PendingRequest.
type PendingReply struct {
	Committed []PendingEntry `json:"committed"`
	Tentative []PendingEntry `json:"tentative"`
	// LastSeq is the highest sequence number the replica holds, committed
	// or tentative.
	LastSeq Seq `json:"lastSeq"`
}
