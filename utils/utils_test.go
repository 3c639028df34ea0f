package utils

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, 1.235, FormatFloat(1.23456, 3))
	assert.Equal(t, 1.2, FormatFloat(1.23456, 1))
	assert.True(t, math.IsNaN(FormatFloat(math.NaN(), 3)))
	assert.True(t, math.IsInf(FormatFloat(math.Inf(1), 3), 1))
}

func TestParallelRangeCoversEveryIndex(t *testing.T) {
	for _, n := range []int{0, 1, 100, 10000, 12345} {
		seen := make([]int32, n)
		var calls int32
		err := ParallelRange(context.Background(), n, func(lo, hi int) error {
			atomic.AddInt32(&calls, 1)
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
			return nil
		})
		require.NoError(t, err)
		for i, v := range seen {
			require.Equalf(t, int32(1), v, "n=%d index %d visited %d times", n, i, v)
		}
		if n == 0 {
			assert.Zero(t, calls)
		}
	}
}

func TestParallelRangeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ParallelRange(ctx, 100000, func(lo, hi int) error { return nil })
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
