// Package retry repeats calls to nodes that are frozen for the current
// slot.
package retry

import (
	"context"
	"time"

	"github.com/boneybank/boneybank/kit/platform/errors"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInterval    = 50 * time.Millisecond
	DefaultMaxInterval = time.Second
)

// Policy configures the exponential backoff between attempts.
type Policy struct {
	Interval    time.Duration
	MaxInterval time.Duration
}

// NewPolicy returns the default policy.
func NewPolicy() Policy {
	return Policy{
		Interval:    DefaultInterval,
		MaxInterval: DefaultMaxInterval,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Interval > 0 {
		b.InitialInterval = p.Interval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// Do calls fn until it returns an error other than EUnavailable, or ctx is
// done. There is no limit on the number of attempts.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !errors.IsUnavailable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}
