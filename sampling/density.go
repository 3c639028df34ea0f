package sampling

import (
	"context"
	"fmt"
	"sort"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/neighbours"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type DensityOptions struct {
	// Features used to measure density, empty means every column.
	Features []string
	// Alpha scales the median nearest neighbour distance into the density radius.
	Alpha  float64
	Metric string
	// TreeSample is the share of rows the neighbourhoods are counted in.
	TreeSample SampleSize
	// OutlierDensity is the percentile of local densities treated as noise.
	OutlierDensity float64
	// TargetDensity is the percentile of local densities below which events are always kept.
	TargetDensity float64
	Src           rand.Source
}

func DefaultDensityOptions() DensityOptions {
	return DensityOptions{
		Alpha:          5,
		Metric:         neighbours.MetricManhattan,
		TreeSample:     Fraction(0.1),
		OutlierDensity: 1,
		TargetDensity:  5,
	}
}

// ProbDownsample is the probability of keeping an event of local density
// local: 0 at or below the outlier density, 1 up to the target density and
// target/local above it.
func ProbDownsample(local, target, outlier float64) float64 {
	if local <= outlier {
		return 0
	}
	if local <= target {
		return 1
	}
	return target / local
}

// DensityProbabilityAssignment estimates the local density of every row of
// data as the number of sample rows within alpha times the median distance to
// the second nearest sample row, and maps it to a retention probability.
func DensityProbabilityAssignment(ctx context.Context, sample, data *mat.Dense, opts DensityOptions) ([]float64, error) {
	if sample == nil || data == nil {
		return nil, fmt.Errorf("%w: empty data", common.ErrorInvalidValue)
	}
	sRows, sCols := sample.Dims()
	rows, cols := data.Dims()
	if sCols != cols {
		return nil, fmt.Errorf("%w: sample has %d features, data %d", common.ErrorDimensionMismatch, sCols, cols)
	}
	if sRows < 2 {
		return nil, fmt.Errorf("%w: need at least 2 sample rows, got %d", common.ErrorDegenerateSample, sRows)
	}
	if opts.OutlierDensity < 0 || opts.TargetDensity > 100 || opts.OutlierDensity > opts.TargetDensity {
		return nil, fmt.Errorf("%w: density percentiles must satisfy 0 <= outlier <= target <= 100",
			common.ErrorInvalidValue)
	}
	norm, err := neighbours.Metric(opts.Metric)
	if err != nil {
		return nil, err
	}

	tree := neighbours.NewTree(sample, norm)
	dist := make([]float64, rows)
	err = utils.ParallelRange(ctx, rows, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			q := data.RawRowView(i)
			nn := tree.KNearest(q, 2)
			dist[i] = floats.Distance(sample.RawRowView(nn[1]), q, norm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Float64s(dist)
	radius := stat.Quantile(0.5, stat.Empirical, dist, nil) * opts.Alpha

	ld := make([]float64, rows)
	err = utils.ParallelRange(ctx, rows, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			ld[i] = float64(tree.CountWithin(data.RawRowView(i), radius))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sorted := append([]float64(nil), ld...)
	sort.Float64s(sorted)
	od := stat.Quantile(opts.OutlierDensity/100, stat.Empirical, sorted, nil)
	td := stat.Quantile(opts.TargetDensity/100, stat.Empirical, sorted, nil)

	prob := make([]float64, rows)
	for i, l := range ld {
		prob[i] = ProbDownsample(l, td, od)
	}
	utils.GetLogger(ctx).Debug("density probability assignment", zap.Float64("radius", radius),
		zap.Float64("outlierDensity", od), zap.Float64("targetDensity", td))
	return prob, nil
}

func (opts DensityOptions) probabilities(ctx context.Context, frame *model.Frame) ([]float64, error) {
	tree, err := UniformDownsample(ctx, frame, opts.TreeSample, opts.Src)
	if err != nil {
		return nil, err
	}
	sample, err := tree.Select(opts.Features)
	if err != nil {
		return nil, err
	}
	data, err := frame.Select(opts.Features)
	if err != nil {
		return nil, err
	}
	return DensityProbabilityAssignment(ctx, sample, data, opts)
}

// DensityDependentDownsample keeps rare populations by sampling events with
// probability inversely related to their local density. When every
// probability is zero it falls back to uniform sampling.
func DensityDependentDownsample(ctx context.Context, frame *model.Frame, size SampleSize, opts DensityOptions) (*model.Frame, error) {
	logger := utils.GetLogger(ctx)

	rows := frame.Rows()
	if !size.IsFraction() && size.count >= rows {
		logger.Warn("requested sample size >= size of frame", zap.Stringer("sampleSize", size), zap.Int("n", rows))
		return frame.Clone(), nil
	}
	n, err := size.Resolve(rows)
	if err != nil {
		return nil, err
	}

	prob, err := opts.probabilities(ctx, frame)
	if err != nil {
		return nil, err
	}
	if floats.Sum(prob) == 0 {
		logger.Warn("density dependent downsampling failed, weights sum to zero; defaulting to uniform sampling")
		return UniformDownsample(ctx, frame, size, opts.Src)
	}

	idx := weightedIndexes(prob, n, opts.Src)
	if len(idx) < n {
		logger.Warn("fewer events with a non-zero retention probability than requested",
			zap.Int("requested", n), zap.Int("returned", len(idx)))
	}
	return frame.Subset(idx), nil
}
