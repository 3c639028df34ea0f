package kde

import (
	"fmt"
	"math"
	"sort"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate/quad"
)

type KDEOptions struct {
	Kernel    Kernel
	BandWidth BandWidth

	// An adjustment factor for the bw. Bandwidth becomes bw * adjust.
	BandWidthAdjust float64

	// Defines the length of the grid past the lowest and highest values
	// of x so that the kernel goes to zero. The end points are
	// ``min(x) - cut * bw`` and ``max(x) + cut * bw``.
	Cut float64

	// If GridSize is 0, max(len(x), DefaultGridSize) is used.
	GridSize int

	Clip *model.Clip
}

func DefaultKDEOptions() KDEOptions {
	return KDEOptions{
		Kernel:          NewGaussianKernel(),
		BandWidth:       SilvermanBandWidth{},
		BandWidthAdjust: 1.0,
		Cut:             DefaultCut,
		GridSize:        DefaultGridSize,
	}
}

type KDEUnivariate struct {
	// sorted copy of the observations and their weights
	Endog   []float64
	Weights []float64

	gridSize int
	bwAdjust float64
	cut      float64
	kernel   Kernel
	bwRule   BandWidth

	density []model.Density
	cdf     []model.Cdf
	grid    []float64
	bw      float64
	fitted  bool
}

// NewKDEUnivariate copies endog and weights, the caller's slices are never reordered.
func NewKDEUnivariate(endog []float64, weights []float64, opts KDEOptions) (*KDEUnivariate, error) {
	if len(endog) == 0 {
		return nil, fmt.Errorf("%w: no observations", common.ErrorInvalidValue)
	}
	if !allFinite(endog) {
		return nil, fmt.Errorf("%w: observations must be finite", common.ErrorInvalidValue)
	}

	if len(weights) == 0 {
		weights = InitOnes(len(endog))
	} else if len(weights) != len(endog) {
		return nil, fmt.Errorf("%w: %d weights for %d observations",
			common.ErrorDimensionMismatch, len(weights), len(endog))
	}
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("%w: weights must be non-negative", common.ErrorInvalidValue)
		}
	}

	endog, weights = sortedCopy(endog, weights)
	if opts.Clip != nil {
		endog, weights = Clip(endog, weights, opts.Clip)
	}
	if floats.Sum(weights) <= 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", common.ErrorDegenerateSample)
	}

	if opts.Kernel == nil {
		opts.Kernel = NewGaussianKernel()
	}
	if opts.BandWidth == nil {
		opts.BandWidth = SilvermanBandWidth{}
	}
	if opts.BandWidthAdjust == 0 {
		opts.BandWidthAdjust = 1
	}
	if opts.Cut == 0 {
		opts.Cut = DefaultCut
	}
	gridSize := opts.GridSize
	if gridSize == 0 {
		gridSize = max(len(endog), DefaultGridSize)
	}
	if gridSize < 2 {
		return nil, fmt.Errorf("%w: grid size must be at least 2", common.ErrorInvalidValue)
	}

	return &KDEUnivariate{
		Endog:    endog,
		Weights:  weights,
		gridSize: gridSize,
		bwAdjust: opts.BandWidthAdjust,
		cut:      opts.Cut,
		kernel:   opts.Kernel,
		bwRule:   opts.BandWidth,
	}, nil
}

func (kde *KDEUnivariate) Kdensity() ([]model.Density, float64, error) {
	if kde.fitted {
		return kde.density, kde.bw, nil
	}

	bw, err := kde.bwRule.BandWidth(kde.Endog)
	if err != nil {
		return nil, 0, err
	}
	bw = bw * kde.bwAdjust
	if !(bw > 0) {
		return nil, 0, fmt.Errorf("%w: bandwidth %v", common.ErrorDegenerateSample, bw)
	}

	a := floats.Min(kde.Endog) - kde.cut*bw
	b := floats.Max(kde.Endog) + kde.cut*bw
	grid := linspace(a, b, kde.gridSize)

	dens := Evaluate(kde.Endog, kde.Weights, grid, kde.kernel, bw)

	res := make([]model.Density, len(grid))
	for i := range grid {
		res[i] = model.Density{
			X:     grid[i],
			Value: dens[i],
		}
	}

	kde.density = res
	kde.bw = bw
	kde.grid = grid
	kde.fitted = true

	return res, bw, nil
}

func (kde *KDEUnivariate) Grid() []float64 {
	return kde.grid
}

func (kde *KDEUnivariate) BandWidth() float64 {
	return kde.bw
}

// Density evaluates the estimate at a single point, fitting it first if needed.
func (kde *KDEUnivariate) Density(x float64) (float64, error) {
	if !kde.fitted {
		if _, _, err := kde.Kdensity(); err != nil {
			return 0, err
		}
	}
	return Evaluate(kde.Endog, kde.Weights, []float64{x}, kde.kernel, kde.bw)[0], nil
}

func (kde *KDEUnivariate) Cdf() ([]model.Cdf, error) {
	if !kde.fitted {
		if _, _, err := kde.Kdensity(); err != nil {
			return nil, err
		}
	}

	if len(kde.cdf) > 0 {
		return kde.cdf, nil
	}

	f := func(x float64) float64 {
		return Evaluate(kde.Endog, kde.Weights, []float64{x}, kde.kernel, kde.bw)[0]
	}

	res := make([]model.Cdf, 0, len(kde.grid))
	res = append(res, model.Cdf{X: kde.grid[0], Value: 0})

	var cumSum float64
	for i := 1; i < len(kde.grid); i++ {
		integral := quad.Fixed(f, kde.grid[i-1], kde.grid[i], cdfIntegrationPoints, nil, 0)
		cumSum += integral
		res = append(res, model.Cdf{
			X:     kde.grid[i],
			Value: cumSum,
		})
	}

	kde.cdf = res
	return res, nil
}

func (kde *KDEUnivariate) Quantile(p float64) (*model.QuantileValue, error) {
	if p < 0 || p > 1 || math.IsNaN(p) {
		return nil, fmt.Errorf("%w: quantile %v outside [0, 1]", common.ErrorInvalidValue, p)
	}
	cdf, err := kde.Cdf()
	if err != nil {
		return nil, err
	}

	if p <= cdf[0].Value {
		return &model.QuantileValue{
			Quantile: p,
			Value:    cdf[0].X,
		}, nil
	}

	if p >= cdf[len(cdf)-1].Value {
		return &model.QuantileValue{
			Quantile: p,
			Value:    cdf[len(cdf)-1].X,
		}, nil
	}

	for i := 1; i < len(cdf); i++ {
		if cdf[i].Value > p {
			lowerX, lowerP := cdf[i-1].X, cdf[i-1].Value
			upperX, upperP := cdf[i].X, cdf[i].Value
			value := lowerX + (upperX-lowerX)*(p-lowerP)/(upperP-lowerP)
			return &model.QuantileValue{
				Quantile: p,
				Value:    value,
			}, nil
		}
	}
	return &model.QuantileValue{
		Quantile: p,
		Value:    cdf[len(cdf)-1].X,
	}, nil
}

// Evaluate returns the weighted kernel density of the sorted observations x at
// every grid point. Only observations within the kernel window are visited.
func Evaluate(x, weights, grid []float64, kernel Kernel, bw float64) []float64 {
	q := floats.Sum(weights)
	window := evaluationWindow(kernel, bw)

	dens := make([]float64, len(grid))
	if q <= 0 {
		return dens
	}
	for i, g := range grid {
		lo := sort.SearchFloat64s(x, g-window)
		var sum float64
		for j := lo; j < len(x) && x[j] <= g+window; j++ {
			sum += kernel.Shape((x[j]-g)/bw) * weights[j]
		}
		dens[i] = sum / (q * bw)
	}
	return dens
}
