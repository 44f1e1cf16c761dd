package wg_timeout

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// WaitGroupTimeout waits for wg until timeout elapses on clk or ctx is
// done. It reports whether wg finished in time. The wait on wg itself
// keeps running in the background until wg is done.
func WaitGroupTimeout(ctx context.Context, clk clock.Clock, wg *sync.WaitGroup, timeout time.Duration) bool {
	c := make(chan struct{})

	go func() {
		defer close(c)
		wg.Wait()
	}()

	timer := clk.Timer(timeout)
	defer timer.Stop()

	select {
	case <-c:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
