package quorum_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/boneybank/boneybank/pkg/quorum"
	"github.com/stretchr/testify/require"
)

func TestCounter_Majority(t *testing.T) {
	c := quorum.New(2)
	go func() {
		c.Ack()
		c.Ack()
		c.Kill() // late reply after success must not flip the outcome
	}()
	ok, err := c.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCounter_KillAborts(t *testing.T) {
	c := quorum.New(3)
	c.Ack()
	c.Kill()
	c.Ack()
	c.Ack()
	ok, err := c.Wait(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, c.Acks())
}

func TestCounter_ZeroNeed(t *testing.T) {
	ok, err := quorum.New(0).Wait(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCounter_WaitHonorsContext(t *testing.T) {
	c := quorum.New(2)
	c.Ack()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCounter_Linger(t *testing.T) {
	mock := clock.NewMock()
	c := quorum.New(1)
	go func() {
		c.Ignore()
		c.Ack()
	}()
	c.Linger(context.Background(), mock, 2, time.Second)
	require.Equal(t, 1, c.Acks())

	// not enough replies: linger gives up after grace
	c = quorum.New(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Linger(context.Background(), mock, 3, 20*time.Millisecond)
	}()
	require.Eventually(t, func() bool {
		mock.Add(20 * time.Millisecond)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
}
