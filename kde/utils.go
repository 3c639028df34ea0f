package kde

import (
	"math"
	"sort"

	"github.com/uyouii/cytometry-algorithms/model"
)

func factorial(n int) float64 {
	result := 1.0
	for i := 2; i <= n; i++ {
		result *= float64(i)
	}
	return result
}

func linspace(start, stop float64, num int) []float64 {
	if num < 2 {
		return []float64{start}
	}
	step := (stop - start) / float64(num-1)
	grid := make([]float64, num)
	for i := 0; i < num; i++ {
		grid[i] = start + float64(i)*step
	}
	return grid
}

func Clip(x []float64, weights []float64, clip *model.Clip) ([]float64, []float64) {
	if len(x) != len(weights) || clip == nil {
		// do nothing
		return x, weights
	}

	resX, resWeight := []float64{}, []float64{}
	n := len(x)
	for i := 0; i < n; i++ {
		if x[i] >= clip.Lower && x[i] <= clip.Upper {
			resX = append(resX, x[i])
			resWeight = append(resWeight, weights[i])
		}
	}
	return resX, resWeight
}

func InitOnes(n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = 1
	}
	return res
}

// sortedCopy returns x and weights sorted together by x, the inputs are not touched.
func sortedCopy(x, weights []float64) ([]float64, []float64) {
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	sx, sw := make([]float64, len(x)), make([]float64, len(x))
	for k, i := range order {
		sx[k] = x[i]
		sw[k] = weights[i]
	}
	return sx, sw
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
