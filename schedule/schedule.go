// Package schedule holds the static freeze/suspicion schedule shared by all
// nodes and the clock that walks through it one slot at a time.
package schedule

import (
	"sort"

	"github.com/boneybank/boneybank"
)

// Row is the state of every node during one slot.
type Row struct {
	Frozen    map[boneybank.NodeID]bool
	Suspected map[boneybank.NodeID]bool
}

// NewRow returns a row in which the given nodes are frozen or suspected.
func NewRow(frozen, suspected []boneybank.NodeID) Row {
	r := Row{
		Frozen:    make(map[boneybank.NodeID]bool, len(frozen)),
		Suspected: make(map[boneybank.NodeID]bool, len(suspected)),
	}
	for _, id := range frozen {
		r.Frozen[id] = true
	}
	for _, id := range suspected {
		r.Suspected[id] = true
	}
	return r
}

// IsFrozen reports whether id cannot serve any request during the slot.
func (r Row) IsFrozen(id boneybank.NodeID) bool { return r.Frozen[id] }

// IsSuspected reports whether id is suspected of having crashed during the slot.
func (r Row) IsSuspected(id boneybank.NodeID) bool { return r.Suspected[id] }

// Schedule is an immutable sequence of rows; slot 1 is the first row.
type Schedule struct {
	rows []Row
}

// New returns a schedule over a copy of rows.
func New(rows []Row) *Schedule {
	s := &Schedule{rows: make([]Row, len(rows))}
	copy(s.rows, rows)
	return s
}

// Len returns the number of slots in the schedule.
func (s *Schedule) Len() int { return len(s.rows) }

// Row returns the row of slot, or false if the slot is outside the schedule.
func (s *Schedule) Row(slot boneybank.Slot) (Row, bool) {
	if slot < 1 || int(slot) > len(s.rows) {
		return Row{}, false
	}
	return s.rows[slot-1], true
}

// Unsuspected returns, in increasing order, the ids among candidates that
// are not suspected during slot.
func (s *Schedule) Unsuspected(slot boneybank.Slot, candidates []boneybank.NodeID) []boneybank.NodeID {
	row, _ := s.Row(slot)
	var out []boneybank.NodeID
	for _, id := range candidates {
		if !row.IsSuspected(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
