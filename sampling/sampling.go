// Package sampling down-samples and up-samples event tables: uniform,
// faithful (SamSPECTRAL style) and density dependent (SPADE style).
package sampling

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

const (
	MethodUniform  = "uniform"
	MethodDensity  = "density"
	MethodFaithful = "faithful"

	defaultSeed = 42
)

// SampleSize is either an absolute number of rows or a fraction of the rows.
type SampleSize struct {
	count    int
	fraction float64
	isFrac   bool
}

func Count(n int) SampleSize {
	return SampleSize{count: n}
}

func Fraction(f float64) SampleSize {
	return SampleSize{fraction: f, isFrac: true}
}

func (s SampleSize) IsFraction() bool {
	return s.isFrac
}

func (s SampleSize) String() string {
	if s.isFrac {
		return fmt.Sprintf("%v", s.fraction)
	}
	return fmt.Sprintf("%d", s.count)
}

// Resolve turns the size into a row count for a table of the given rows,
// counts larger than rows are capped.
func (s SampleSize) Resolve(rows int) (int, error) {
	if s.isFrac {
		if !(s.fraction > 0 && s.fraction <= 1) {
			return 0, fmt.Errorf("%w: sample fraction %v outside (0, 1]", common.ErrorInvalidValue, s.fraction)
		}
		return int(math.Round(s.fraction * float64(rows))), nil
	}
	if s.count < 0 {
		return 0, fmt.Errorf("%w: negative sample size %d", common.ErrorInvalidValue, s.count)
	}
	return min(s.count, rows), nil
}

func source(src rand.Source) rand.Source {
	if src == nil {
		return rand.NewSource(defaultSeed)
	}
	return src
}

// UniformDownsample draws rows without replacement. A count at or above the
// number of rows returns the whole frame.
func UniformDownsample(ctx context.Context, frame *model.Frame, size SampleSize, src rand.Source) (*model.Frame, error) {
	logger := utils.GetLogger(ctx)

	rows := frame.Rows()
	if !size.IsFraction() && size.count >= rows {
		logger.Warn("number of observations larger than or equal requested sample size, returning complete data",
			zap.Stringer("sampleSize", size), zap.Int("n", rows))
		return frame.Clone(), nil
	}
	n, err := size.Resolve(rows)
	if err != nil {
		return nil, err
	}
	return frame.Subset(uniformIndexes(rows, n, src)), nil
}

func uniformIndexes(rows, n int, src rand.Source) []int {
	idx := make([]int, n)
	sampleuv.WithoutReplacement(idx, rows, source(src))
	sort.Ints(idx)
	return idx
}

// weightedIndexes draws up to n rows without replacement with probability
// proportional to weights. Fewer rows come back when fewer have a weight.
func weightedIndexes(weights []float64, n int, src rand.Source) []int {
	w := sampleuv.NewWeighted(weights, source(src))
	idx := make([]int, 0, n)
	for len(idx) < n {
		i, ok := w.Take()
		if !ok {
			break
		}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// StratifiedSample takes n / groupCount rows from every group, whole groups
// when they are smaller. groups holds the group of every row.
func StratifiedSample(ctx context.Context, frame *model.Frame, groups []string, n int, src rand.Source) (*model.Frame, error) {
	if len(groups) != frame.Rows() {
		return nil, fmt.Errorf("%w: %d groups for %d rows", common.ErrorDimensionMismatch, len(groups), frame.Rows())
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative sample size %d", common.ErrorInvalidValue, n)
	}
	members := map[string][]int{}
	for i, g := range groups {
		members[g] = append(members[g], i)
	}
	if len(members) == 0 {
		return frame.Clone(), nil
	}
	names := make([]string, 0, len(members))
	for g := range members {
		names = append(names, g)
	}
	sort.Strings(names)

	per := n / len(members)
	src = source(src)
	idx := []int{}
	for _, g := range names {
		rows := members[g]
		if per >= len(rows) {
			idx = append(idx, rows...)
			continue
		}
		for _, k := range uniformIndexes(len(rows), per, src) {
			idx = append(idx, rows[k])
		}
	}
	utils.GetLogger(ctx).Debug("stratified sample", zap.Int("groups", len(names)), zap.Int("rows", len(idx)))
	return frame.Subset(idx), nil
}

type SampleOptions struct {
	Density DensityOptions
	// FaithfulRadius is the neighbourhood radius h of faithful down-sampling.
	FaithfulRadius float64
	Src            rand.Source
}

func DefaultSampleOptions() SampleOptions {
	return SampleOptions{
		Density:        DefaultDensityOptions(),
		FaithfulRadius: DefaultFaithfulRadius,
	}
}

// SampleFrame dispatches to one of the sampling methods. Faithful sampling
// ignores size, its output size follows from the radius.
func SampleFrame(ctx context.Context, frame *model.Frame, size SampleSize, method string, opts SampleOptions) (*model.Frame, error) {
	switch strings.ToLower(method) {
	case MethodUniform:
		return UniformDownsample(ctx, frame, size, opts.Src)
	case MethodDensity:
		density := opts.Density
		if density.Src == nil {
			density.Src = opts.Src
		}
		return DensityDependentDownsample(ctx, frame, size, density)
	case MethodFaithful:
		x, err := frame.Select(opts.Density.Features)
		if err != nil {
			return nil, err
		}
		idx, err := FaithfulDownsample(ctx, x, opts.FaithfulRadius, opts.Src)
		if err != nil {
			return nil, err
		}
		return frame.Subset(idx), nil
	}
	valid := []string{MethodUniform, MethodDensity, MethodFaithful}
	return nil, fmt.Errorf("%w: %q, must be one of %v", common.ErrorInvalidMethod, method, valid)
}
