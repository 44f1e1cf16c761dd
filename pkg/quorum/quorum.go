// Package quorum provides the reply counter used by broadcast rounds that
// need a strict majority of acknowledgements.
package quorum

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Counter counts the replies of one broadcast round. The round succeeds once
// need acknowledgements have arrived and fails as soon as one participant
// rejects it. Replies that arrive after the round is settled are ignored.
type Counter struct {
	mu      sync.Mutex
	need    int
	acks    int
	replies int
	killed  bool
	done    chan struct{}
	settled bool
	replied chan struct{}
}

// New returns a counter that succeeds after need acknowledgements. A counter
// with need <= 0 has already succeeded.
func New(need int) *Counter {
	c := &Counter{
		need:    need,
		done:    make(chan struct{}),
		replied: make(chan struct{}),
	}
	if need <= 0 {
		c.settle()
	}
	return c
}

// Ack records a positive reply.
func (c *Counter) Ack() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply()
	if c.settled {
		return
	}
	c.acks++
	if c.acks >= c.need {
		c.settle()
	}
}

// Kill records a rejection, which fails the round unless it has already
// succeeded.
func (c *Counter) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply()
	if c.settled {
		return
	}
	c.killed = true
	c.settle()
}

// Ignore records a reply that counts neither way.
func (c *Counter) Ignore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply()
}

func (c *Counter) reply() {
	c.replies++
	close(c.replied)
	c.replied = make(chan struct{})
}

func (c *Counter) settle() {
	c.settled = true
	close(c.done)
}

// Wait blocks until the round is settled. It returns true if a majority
// acknowledged and false if the round was killed. There is no timeout: if a
// majority never answers, Wait only returns when ctx is done.
func (c *Counter) Wait(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.done:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.killed, nil
}

// Linger waits up to grace on clk for total replies to arrive, whatever
// their outcome. It never fails the round.
func (c *Counter) Linger(ctx context.Context, clk clock.Clock, total int, grace time.Duration) {
	timer := clk.Timer(grace)
	defer timer.Stop()
	for {
		c.mu.Lock()
		n, ch := c.replies, c.replied
		c.mu.Unlock()
		if n >= total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-ch:
		}
	}
}

// Acks returns the number of positive replies counted so far.
func (c *Counter) Acks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acks
}
