// Package landmark aligns one dimensional samples on their density peaks.
//
// Every sample is summarised by the locations of its main density peaks
// (landmarks). Registration maps each sample's landmarks onto the mean
// landmarks with a monotone piecewise linear warp, which removes batch
// shifts in a channel while keeping the order of events.
package landmark

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/kde"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// merged peaks closer than this are treated as equal to the threshold
const mergeTolerance = 1e-9

type Options struct {
	Peaks kde.PeakOptions
	// MergeThreshold merges peaks whose gap is at most this value, 0 disables merging.
	MergeThreshold float64
}

func DefaultOptions() Options {
	return Options{
		Peaks:          kde.DefaultPeakOptions(),
		MergeThreshold: 0.1,
	}
}

// MergePeaks sorts the peaks and replaces every run of peaks separated by at
// most threshold with the run's mean.
func MergePeaks(peaks []float64, threshold float64) []float64 {
	merged, _ := mergeGroups(peaks, threshold)
	return merged
}

// mergeGroups is MergePeaks that also reports, for every input peak, the
// index of the merged peak it went into.
func mergeGroups(peaks []float64, threshold float64) ([]float64, []int) {
	groups := make([]int, len(peaks))
	if len(peaks) == 0 {
		return []float64{}, groups
	}
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return peaks[order[a]] < peaks[order[b]] })

	res := []float64{}
	group := []float64{peaks[order[0]]}
	for _, i := range order[1:] {
		p := peaks[i]
		if p-group[len(group)-1] > threshold+mergeTolerance {
			res = append(res, stat.Mean(group, nil))
			group = group[:0]
		}
		group = append(group, p)
		groups[i] = len(res)
	}
	return append(res, stat.Mean(group, nil)), groups
}

// mergeHeights merges locs and credits each merged peak with the height of
// its highest member.
func mergeHeights(locs, heights []float64, threshold float64) ([]float64, []float64) {
	merged, groups := mergeGroups(locs, threshold)
	mergedHeights := make([]float64, len(merged))
	for i, g := range groups {
		mergedHeights[g] = math.Max(mergedHeights[g], heights[i])
	}
	return merged, mergedHeights
}

type LandmarkRegistration struct {
	opts Options

	// Landmarks holds the fitted landmarks of every sample, one row per sample.
	Landmarks [][]float64
	// Target is the mean landmark position the samples are aligned to.
	Target []float64

	domains [][2]float64
	fitted  bool
}

func NewLandmarkRegistration(opts Options) *LandmarkRegistration {
	return &LandmarkRegistration{opts: opts}
}

// Fit finds the landmarks of every sample. All samples keep the same number of
// landmarks: the smallest count found, choosing each sample's highest peaks.
func (r *LandmarkRegistration) Fit(ctx context.Context, samples [][]float64) error {
	logger := utils.GetLogger(ctx)

	if len(samples) == 0 {
		return fmt.Errorf("%w: no samples to register", common.ErrorInvalidValue)
	}

	type found struct {
		locs    []float64
		heights []float64
	}
	all := make([]found, len(samples))
	k := math.MaxInt
	for i, x := range samples {
		locs, heights, err := r.peaks(ctx, x)
		if err != nil {
			logger.Error("landmark peaks failed", zap.Int("sample", i), zap.Error(err))
			return fmt.Errorf("sample %d: %w", i, err)
		}
		all[i] = found{locs: locs, heights: heights}
		k = min(k, len(locs))
	}
	if k == 0 {
		return fmt.Errorf("%w: at least one sample has no density peak", common.ErrorDegenerateSample)
	}

	r.Landmarks = make([][]float64, len(samples))
	r.domains = make([][2]float64, len(samples))
	for i, f := range all {
		r.Landmarks[i] = topLandmarks(f.locs, f.heights, k)
		r.domains[i] = [2]float64{floats.Min(samples[i]), floats.Max(samples[i])}
	}

	r.Target = make([]float64, k)
	for j := 0; j < k; j++ {
		for i := range r.Landmarks {
			r.Target[j] += r.Landmarks[i][j]
		}
		r.Target[j] /= float64(len(r.Landmarks))
	}
	r.fitted = true

	logger.Info("landmark registration fitted", zap.Int("samples", len(samples)),
		zap.Int("landmarks", k), zap.Float64s("target", r.Target))
	return nil
}

// Transform estimates the landmarks of x and warps x onto the fitted target.
func (r *LandmarkRegistration) Transform(ctx context.Context, x []float64) ([]float64, error) {
	if !r.fitted {
		return nil, common.ErrorNotFitted
	}
	locs, heights, err := r.peaks(ctx, x)
	if err != nil {
		return nil, err
	}
	if len(locs) < len(r.Target) {
		return nil, fmt.Errorf("%w: found %d landmarks, need %d",
			common.ErrorDegenerateSample, len(locs), len(r.Target))
	}
	landmarks := topLandmarks(locs, heights, len(r.Target))
	domain := [2]float64{floats.Min(x), floats.Max(x)}
	return warpAll(x, landmarks, r.Target, domain)
}

// TransformSample warps x with the landmarks fitted for sample i.
func (r *LandmarkRegistration) TransformSample(i int, x []float64) ([]float64, error) {
	if !r.fitted {
		return nil, common.ErrorNotFitted
	}
	if i < 0 || i >= len(r.Landmarks) {
		return nil, fmt.Errorf("%w: sample %d out of range", common.ErrorInvalidValue, i)
	}
	return warpAll(x, r.Landmarks[i], r.Target, r.domains[i])
}

// Warp evaluates the warping function of sample i at every grid point.
func (r *LandmarkRegistration) Warp(i int, grid []float64) ([]float64, error) {
	return r.TransformSample(i, grid)
}

func (r *LandmarkRegistration) peaks(ctx context.Context, x []float64) ([]float64, []float64, error) {
	dp, err := kde.DensityPeaks(ctx, x, r.opts.Peaks)
	if err != nil {
		return nil, nil, err
	}
	locs, heights := dp.PeakLocations(), dp.PeakHeights()
	if r.opts.MergeThreshold <= 0 || len(locs) < 2 {
		return locs, heights, nil
	}

	merged, mergedHeights := mergeHeights(locs, heights, r.opts.MergeThreshold)
	return merged, mergedHeights, nil
}

// topLandmarks keeps the k highest peaks, returned by location.
func topLandmarks(locs, heights []float64, k int) []float64 {
	order := make([]int, len(locs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return heights[order[a]] > heights[order[b]] })

	res := make([]float64, 0, k)
	for _, i := range order[:k] {
		res = append(res, locs[i])
	}
	sort.Float64s(res)
	return res
}

// warpAll maps every value through the piecewise linear function passing
// through (domain min, landmarks..., domain max) -> (domain min, target..., domain max).
// Values outside the domain are shifted with the nearest segment's slope.
func warpAll(x, landmarks, target []float64, domain [2]float64) ([]float64, error) {
	knotsX := []float64{}
	knotsY := []float64{}
	if domain[0] < landmarks[0] && domain[0] < target[0] {
		knotsX = append(knotsX, domain[0])
		knotsY = append(knotsY, domain[0])
	}
	knotsX = append(knotsX, landmarks...)
	knotsY = append(knotsY, target...)
	if domain[1] > landmarks[len(landmarks)-1] && domain[1] > target[len(target)-1] {
		knotsX = append(knotsX, domain[1])
		knotsY = append(knotsY, domain[1])
	}
	for i := 1; i < len(knotsX); i++ {
		if !(knotsX[i] > knotsX[i-1]) || !(knotsY[i] > knotsY[i-1]) {
			return nil, fmt.Errorf("%w: landmarks do not give a monotone warp", common.ErrorDegenerateSample)
		}
	}

	res := make([]float64, len(x))
	for i, v := range x {
		res[i] = interpolate(knotsX, knotsY, v)
	}
	return res, nil
}

func interpolate(xs, ys []float64, v float64) float64 {
	if len(xs) == 1 {
		return v + ys[0] - xs[0]
	}
	j := sort.SearchFloat64s(xs, v)
	switch {
	case j == 0:
		j = 1
	case j >= len(xs):
		j = len(xs) - 1
	}
	x0, x1 := xs[j-1], xs[j]
	y0, y1 := ys[j-1], ys[j]
	return y0 + (v-x0)*(y1-y0)/(x1-x0)
}
