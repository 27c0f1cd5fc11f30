package cmdchannel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRunsJobsInFIFOOrder(t *testing.T) {
	c := New("dance", time.Second)
	c.Start()
	defer c.Stop()

	var order []int
	done := make(chan struct{})

	for i := 0; i < 3; i++ {
		i := i
		job := NewJob("net", "#chan", "user", "dance", func(ctx context.Context) error {
			order = append(order, i)
			if i == 2 {
				close(done)
			}
			return nil
		})
		require.NoError(t, c.Enqueue(job))
		assert.Equal(t, OutcomeOK, job.Wait())
	}

	<-done
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestChannelTimesOutAWedgedJob(t *testing.T) {
	c := New("fnord", 20*time.Millisecond)
	c.Start()
	defer c.Stop()

	job := NewJob("net", "#chan", "user", "fnord", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, c.Enqueue(job))
	assert.Equal(t, OutcomeTimeout, job.Wait())
}

func TestChannelRecoversAPanickingJob(t *testing.T) {
	c := New("calc", time.Second)
	c.Start()
	defer c.Stop()

	job := NewJob("net", "#chan", "user", "calc", func(ctx context.Context) error {
		panic("divide by zero")
	})
	require.NoError(t, c.Enqueue(job))
	assert.Equal(t, OutcomeCrashed, job.Wait())

	// the worker must still be alive for the next job
	next := NewJob("net", "#chan", "user", "calc", func(ctx context.Context) error { return nil })
	require.NoError(t, c.Enqueue(next))
	assert.Equal(t, OutcomeOK, next.Wait())
}

func TestChannelDropsJobsAfterMarkUnloaded(t *testing.T) {
	c := New("fail", time.Second)
	c.Start()
	defer c.Stop()
	c.MarkUnloaded()

	called := false
	job := NewJob("net", "#chan", "user", "fail", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, c.Enqueue(job))
	assert.Equal(t, OutcomeDropped, job.Wait())
	assert.False(t, called)
}

func TestEnqueueAfterStopIsRejected(t *testing.T) {
	c := New("help", time.Second)
	c.Start()
	c.Stop()

	err := c.Enqueue(NewJob("net", "#chan", "user", "help", func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrChannelClosed)
}
