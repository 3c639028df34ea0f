package kde

import (
	"context"
	"fmt"
	"sort"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

type PeakOptions struct {
	KDEOptions

	// MinHeight is the lowest accepted peak as a fraction of the global maximum density.
	MinHeight float64
	// MinDistance is the smallest number of grid steps between two accepted peaks.
	MinDistance int
}

func DefaultPeakOptions() PeakOptions {
	return PeakOptions{
		KDEOptions:  DefaultKDEOptions(),
		MinHeight:   DefaultMinHeight,
		MinDistance: DefaultMinDistance,
	}
}

// DensityPeaks fits a density over a grid and returns the grid, the density and
// the indexes of the peaks that reach MinHeight * max(density) and are at least
// MinDistance grid steps apart. No peak above the threshold is a valid, empty result.
func DensityPeaks(ctx context.Context, x []float64, opts PeakOptions) (res *model.DensityPeaks, err error) {
	logger := utils.GetLogger(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("DensityPeaks recover panic error!", zap.Any("err", r),
				zap.String("panic info", utils.GetPanicInfo()), zap.Int("n", len(x)))
			res, err = nil, fmt.Errorf("%w: %v", common.ErrorInternal, r)
		}
	}()

	if len(x) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", common.ErrorDegenerateSample, len(x))
	}
	if opts.MinHeight < 0 {
		return nil, fmt.Errorf("%w: negative peak height %v", common.ErrorInvalidValue, opts.MinHeight)
	}

	k, err := NewKDEUnivariate(x, nil, opts.KDEOptions)
	if err != nil {
		logger.Error("NewKDEUnivariate failed", zap.Error(err))
		return nil, err
	}
	dens, bw, err := k.Kdensity()
	if err != nil {
		logger.Error("kde fit failed", zap.Error(err), zap.Int("n", len(x)))
		return nil, err
	}

	values := make([]float64, len(dens))
	for i, d := range dens {
		values[i] = d.Value
	}
	threshold := opts.MinHeight * floats.Max(values)
	peaks := FindPeaks(values, threshold, opts.MinDistance)

	logger.Debug("density peaks", zap.Float64("bw", bw), zap.Int("peaks", len(peaks)))

	return &model.DensityPeaks{
		Grid:      k.Grid(),
		Density:   values,
		Peaks:     peaks,
		BandWidth: bw,
	}, nil
}

// FindPeaks returns the ascending indexes of local maxima of y whose value is at
// least minHeight. A flat top counts once, at its middle sample. When two peaks
// are closer than minDistance samples the lower one is dropped.
func FindPeaks(y []float64, minHeight float64, minDistance int) []int {
	peaks := []int{}
	n := len(y)

	for i := 1; i < n-1; i++ {
		if !(y[i-1] < y[i]) {
			continue
		}
		ahead := i + 1
		for ahead < n-1 && y[ahead] == y[i] {
			ahead++
		}
		if y[ahead] < y[i] {
			peaks = append(peaks, (i+ahead-1)/2)
			i = ahead - 1
		}
	}

	filtered := peaks[:0]
	for _, p := range peaks {
		if y[p] >= minHeight {
			filtered = append(filtered, p)
		}
	}
	peaks = filtered

	if minDistance <= 1 || len(peaks) < 2 {
		return peaks
	}

	// highest first, ties favour the leftmost peak
	priority := make([]int, len(peaks))
	for i := range priority {
		priority[i] = i
	}
	sort.SliceStable(priority, func(a, b int) bool {
		return y[peaks[priority[a]]] > y[peaks[priority[b]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for _, j := range priority {
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < minDistance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < minDistance; k++ {
			keep[k] = false
		}
	}

	res := []int{}
	for i, p := range peaks {
		if keep[i] {
			res = append(res, p)
		}
	}
	return res
}
