package election

import (
	"context"
	"sync"

	"github.com/boneybank/boneybank"
	"github.com/google/btree"
)

// decree is a request to decide one slot.
type decree struct {
	slot  boneybank.Slot
	guess boneybank.NodeID
}

func decreeLess(a, b decree) bool { return a.slot < b.slot }

// decreeQueue holds pending decrees ordered by slot.
type decreeQueue struct {
	mu      sync.Mutex
	tree    *btree.BTreeG[decree]
	changed chan struct{}
}

func newDecreeQueue() *decreeQueue {
	return &decreeQueue{
		tree:    btree.NewG(8, decreeLess),
		changed: make(chan struct{}),
	}
}

// push queues d unless a decree for the same slot is already queued.
func (q *decreeQueue) push(d decree) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tree.Has(d) {
		return false
	}
	q.tree.ReplaceOrInsert(d)
	close(q.changed)
	q.changed = make(chan struct{})
	return true
}

func (q *decreeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// next blocks until the lowest queued decree directly follows the last
// decided slot, removes it and returns it. Decrees for slots that were
// decided in the meantime are dropped. When the lowest decree leaves a gap
// behind the decided prefix, the missing slots are queued with the same
// guess so that decisions stay gapless.
func (q *decreeQueue) next(ctx context.Context, decisions *decisionLog) (decree, error) {
	for {
		decided := decisions.notify()
		last := decisions.lastContiguous()

		q.mu.Lock()
		head, ok := q.tree.Min()
		queued := q.changed
		if ok {
			switch {
			case head.slot <= last:
				q.tree.DeleteMin()
				q.mu.Unlock()
				continue
			case head.slot == last+1:
				q.tree.DeleteMin()
				q.mu.Unlock()
				return head, nil
			default:
				for s := last + 1; s < head.slot; s++ {
					q.tree.ReplaceOrInsert(decree{slot: s, guess: head.guess})
				}
				q.mu.Unlock()
				continue
			}
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return decree{}, ctx.Err()
		case <-queued:
		case <-decided:
		}
	}
}
