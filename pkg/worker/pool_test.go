package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Otis-Lab-MUSC/reacher/metric"
)

func TestPoolProcessesSubmittedWork(t *testing.T) {
	var mu sync.Mutex
	var got []int

	pool := NewPool(2, 16, func(_ context.Context, n int) error {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 5)

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(5), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestSingleWorkerPreservesOrder(t *testing.T) {
	var got []int

	pool := NewPool(1, 64, func(_ context.Context, n int) error {
		got = append(got, n)
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))

	require.Len(t, got, 20)
	for i, n := range got {
		assert.Equal(t, i, n)
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 4, func(_ context.Context, _ int) error { return nil })
	err := pool.Submit(1)
	assert.ErrorIs(t, err, ErrPoolNotStarted)
}

func TestSubmitAfterStop(t *testing.T) {
	pool := NewPool(1, 4, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(time.Second))

	err := pool.Submit(1)
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	// First item occupies the worker, second fills the queue.
	require.NoError(t, pool.Submit(1))
	// Give the worker time to pick up the first item.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pool.Submit(2))

	err := pool.Submit(3)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Rejected)

	close(block)
	require.NoError(t, pool.Stop(time.Second))
}

func TestStopDrainsQueuedWork(t *testing.T) {
	var mu sync.Mutex
	count := 0

	pool := NewPool(1, 64, func(_ context.Context, _ int) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}

func TestStopTimeout(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 4, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	time.Sleep(10 * time.Millisecond)

	err := pool.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	close(block)
}

func TestStopIdempotent(t *testing.T) {
	pool := NewPool(1, 4, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(time.Second))
	require.NoError(t, pool.Stop(time.Second))
}

func TestStoppedReportsShutdown(t *testing.T) {
	pool := NewPool(1, 4, func(_ context.Context, _ int) error { return nil })
	assert.False(t, pool.Stopped())

	require.NoError(t, pool.Start(context.Background()))
	assert.False(t, pool.Stopped())

	require.NoError(t, pool.Stop(time.Second))
	assert.True(t, pool.Stopped())
}

func TestFailedWorkCounted(t *testing.T) {
	pool := NewPool(1, 4, func(_ context.Context, n int) error {
		if n%2 == 1 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(4), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
}

func TestPoolMetricsRegistered(t *testing.T) {
	registry := metric.NewRegistry()
	pool := NewPool(1, 4, func(_ context.Context, _ int) error { return nil },
		WithMetrics[int](registry, "dispatch"))

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	require.NoError(t, pool.Stop(time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["dispatch_submitted_total"])
	assert.True(t, names["dispatch_processed_total"])
}
