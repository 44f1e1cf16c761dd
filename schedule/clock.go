package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/boneybank/boneybank"
	"go.uber.org/zap"
)

// ErrScheduleExhausted is returned once the clock moves past the last slot.
// It marks the intended end of a simulation run.
var ErrScheduleExhausted = errors.New("schedule exhausted")

// Clock advances a slot cursor over a schedule. The cursor starts at 0,
// meaning "before the first slot".
type Clock struct {
	mu      sync.Mutex
	sched   *Schedule
	slot    boneybank.Slot
	changed chan struct{}

	period time.Duration

	// Clock is an abstraction of the time package. By default it will use
	// a real-time clock but a mock clock can be used for testing.
	Clock clock.Clock

	Logger *zap.Logger
}

// NewClock returns a clock over sched that advances every period once run.
func NewClock(sched *Schedule, period time.Duration) *Clock {
	return &Clock{
		sched:   sched,
		period:  period,
		changed: make(chan struct{}),
		Clock:   clock.New(),
		Logger:  zap.NewNop(),
	}
}

// Schedule returns the schedule the clock walks through.
func (c *Clock) Schedule() *Schedule { return c.sched }

// Period returns the slot duration.
func (c *Clock) Period() time.Duration { return c.period }

// Current returns the current slot.
func (c *Clock) Current() boneybank.Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot
}

// Row returns the row of the current slot; it is empty before the first slot.
func (c *Clock) Row() Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, _ := c.sched.Row(c.slot)
	return row
}

// Frozen reports whether id is frozen in the current slot. Every node is
// frozen before the first slot so that nothing is served early.
func (c *Clock) Frozen(id boneybank.NodeID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == 0 {
		return true
	}
	row, _ := c.sched.Row(c.slot)
	return row.IsFrozen(id)
}

// Suspected reports whether id is suspected during slot.
func (c *Clock) Suspected(slot boneybank.Slot, id boneybank.NodeID) bool {
	row, _ := c.sched.Row(slot)
	return row.IsSuspected(id)
}

// Changed returns a channel that is closed on the next slot change.
func (c *Clock) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Advance moves the cursor to the next slot and wakes every waiter. It
// returns ErrScheduleExhausted, without moving, when the current slot is
// the last one.
func (c *Clock) Advance() (boneybank.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(c.slot) >= c.sched.Len() {
		return c.slot, ErrScheduleExhausted
	}
	c.slot++
	close(c.changed)
	c.changed = make(chan struct{})
	return c.slot, nil
}

// Run waits until start, enters slot 1 and then advances once per period.
// It returns ErrScheduleExhausted when the last slot has elapsed, or the
// context error if ctx is done first.
func (c *Clock) Run(ctx context.Context, start time.Time) error {
	if d := start.Sub(c.Clock.Now()); d > 0 {
		c.Logger.Info("Waiting for start time", zap.Time("start", start), zap.Duration("in", d))
		timer := c.Clock.Timer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	ticker := c.Clock.Ticker(c.period)
	defer ticker.Stop()

	for {
		slot, err := c.Advance()
		if err != nil {
			c.Logger.Info("No more slots left", zap.Int64("last_slot", int64(slot)))
			return err
		}
		c.Logger.Info("Starting slot", zap.Int64("slot", int64(slot)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
