package utils

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

func FormatFloat(f float64, round int32) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	p := math.Pow(10, float64(round))
	return math.Round(f*p) / p
}

// rows below this are handled on the calling goroutine
const minParallelRows = 2048

// ParallelRange splits [0, n) into contiguous chunks and calls fn on each chunk,
// using at most GOMAXPROCS goroutines. fn must only write to indexes in [lo, hi).
func ParallelRange(ctx context.Context, n int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	workers := runtime.GOMAXPROCS(0)
	if n < minParallelRows || workers == 1 {
		return fn(0, n)
	}

	chunk := (n + workers - 1) / workers
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}
