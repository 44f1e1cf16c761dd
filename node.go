// Package boneybank defines the domain types and service interfaces of a
// replicated bank ledger whose primary replica is chosen, slot by slot, by a
// separate group of election nodes running Paxos.
package boneybank

import "strconv"

// NodeID identifies an election node or a replica. Ids are unique across
// both groups and start at 1.
type NodeID int

// NoNode is the zero NodeID; it never names a real node.
const NoNode NodeID = 0

func (id NodeID) String() string { return strconv.Itoa(int(id)) }

// Slot is the ordinal of a fixed-length time slot. The first slot is 1.
type Slot int64

// Seq is a sequence number assigned by a primary to a command. It defines
// the order in which commands are applied to the ledger.
type Seq int64

// NoSeq is reported when a replica holds no committed command.
const NoSeq Seq = 0

// Quorum returns the size of a strict majority of n nodes.
func Quorum(n int) int {
	return n/2 + 1
}
