package election

import (
	"context"
	"sync"

	"github.com/boneybank/boneybank"
)

// decisionLog is the append-only slot -> primary map of one election node.
type decisionLog struct {
	mu      sync.Mutex
	m       map[boneybank.Slot]boneybank.NodeID
	last    boneybank.Slot // highest slot decided with no gap below it
	changed chan struct{}
}

func newDecisionLog() *decisionLog {
	return &decisionLog{
		m:       make(map[boneybank.Slot]boneybank.NodeID),
		changed: make(chan struct{}),
	}
}

func (d *decisionLog) get(slot boneybank.Slot) (boneybank.NodeID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.m[slot]
	return v, ok
}

// set records value for slot unless a decision exists already, in which
// case the existing value is returned with false.
func (d *decisionLog) set(slot boneybank.Slot, value boneybank.NodeID) (boneybank.NodeID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v, ok := d.m[slot]; ok {
		return v, false
	}
	d.m[slot] = value
	for {
		if _, ok := d.m[d.last+1]; !ok {
			break
		}
		d.last++
	}
	close(d.changed)
	d.changed = make(chan struct{})
	return value, true
}

func (d *decisionLog) lastContiguous() boneybank.Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// notify returns a channel closed on the next recorded decision.
func (d *decisionLog) notify() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changed
}

// wait blocks until slot is decided.
func (d *decisionLog) wait(ctx context.Context, slot boneybank.Slot) (boneybank.NodeID, error) {
	for {
		d.mu.Lock()
		v, ok := d.m[slot]
		ch := d.changed
		d.mu.Unlock()
		if ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return boneybank.NoNode, ctx.Err()
		case <-ch:
		}
	}
}

func (d *decisionLog) snapshot() map[boneybank.Slot]boneybank.NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[boneybank.Slot]boneybank.NodeID, len(d.m))
	for k, v := range d.m {
		out[k] = v
	}
	return out
}
