package boneybank

// ReplicaStatus is a point-in-time view of one replica.
type ReplicaStatus struct {
	ID         NodeID  `json:"id"`
	Slot       Slot    `json:"slot"`
	Primary    NodeID  `json:"primary"`
	Frozen     bool    `json:"frozen"`
	Recovering bool    `json:"recovering"`
	Balance    float64 `json:"balance"`
	// CommittedSeq is the highest sequence number known as committed.
	CommittedSeq Seq `json:"committedSeq"`
	Committed    int `json:"committed"`
	Tentative    int `json:"tentative"`
	Waiting      int `json:"waiting"`
}
