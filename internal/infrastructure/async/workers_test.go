package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPreservesOrder(t *testing.T) {
	wp := NewWorkerPool(3)
	items := []int{5, 1, 4, 2, 3}

	out, err := Map(context.Background(), wp, items, func(ctx context.Context, v int) int {
		time.Sleep(time.Duration(v) * time.Millisecond)
		return v * 10
	})
	require.NoError(t, err)
	assert.Equal(t, []int{50, 10, 40, 20, 30}, out)
}

func TestRunBoundsConcurrency(t *testing.T) {
	wp := NewWorkerPool(2)
	var running, peak int32

	err := wp.Run(context.Background(), 10, func(ctx context.Context, i int) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, int32(2))
}

func TestRunStopsOnCancel(t *testing.T) {
	wp := NewWorkerPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32

	err := wp.Run(ctx, 100, func(ctx context.Context, i int) {
		if atomic.AddInt32(&calls, 1) == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, atomic.LoadInt32(&calls), int32(100))
}

func TestDefaultWorkers(t *testing.T) {
	assert.Greater(t, NewWorkerPool(0).Workers(), 0)
	out, err := Map(context.Background(), NewWorkerPool(4), []string{}, func(ctx context.Context, s string) int { return len(s) })
	require.NoError(t, err)
	assert.Empty(t, out)
}
