package landmark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/kde"
	"gonum.org/v1/gonum/stat/distuv"
)

func bimodal(n int, left, right float64) []float64 {
	res := make([]float64, 0, 2*n)
	for _, mu := range []float64{left, right} {
		for i := 0; i < n; i++ {
			res = append(res, mu+distuv.UnitNormal.Quantile((float64(i)+0.5)/float64(n)))
		}
	}
	return res
}

func TestMergePeaks(t *testing.T) {
	peaks := []float64{0.5, 0.51, 0.95, 1.1, 2.4, 2.6}
	cases := []struct {
		threshold float64
		n         int
	}{
		{0.1, 5},
		{0.15, 4},
		{0.2, 3},
	}
	for _, tc := range cases {
		merged := MergePeaks(peaks, tc.threshold)
		assert.Lenf(t, merged, tc.n, "threshold %v", tc.threshold)
	}

	assert.InDeltaSlice(t, []float64{0.505, 0.95, 1.1, 2.4, 2.6}, MergePeaks(peaks, 0.1), 1e-12)
	assert.Empty(t, MergePeaks(nil, 0.1))
}

func TestMergeHeightsFollowGroups(t *testing.T) {
	// 0.4 is closer to the mean of the second group but belongs to the first
	locs := []float64{0.55, 0.3, 0.1, 0.4, 0, 0.2}
	heights := []float64{2, 1, 1, 5, 1, 1}

	merged, groups := mergeGroups(locs, 0.1)
	assert.InDeltaSlice(t, []float64{0.2, 0.55}, merged, 1e-12)
	assert.Equal(t, []int{1, 0, 0, 0, 0, 0}, groups)

	merged, mergedHeights := mergeHeights(locs, heights, 0.1)
	assert.Len(t, merged, 2)
	assert.Equal(t, []float64{5, 2}, mergedHeights)
	assert.InDeltaSlice(t, []float64{0.2}, topLandmarks(merged, mergedHeights, 1), 1e-12)
}

func TestLandmarkRegistration(t *testing.T) {
	ctx := context.Background()
	x1 := bimodal(1000, -3, 3)
	x2 := bimodal(1000, -1, 5)

	reg := NewLandmarkRegistration(DefaultOptions())
	require.NoError(t, reg.Fit(ctx, [][]float64{x1, x2}))

	require.Len(t, reg.Landmarks, 2)
	assert.InDeltaSlice(t, []float64{-3, 3}, reg.Landmarks[0], 0.25)
	assert.InDeltaSlice(t, []float64{-1, 5}, reg.Landmarks[1], 0.25)
	assert.InDeltaSlice(t, []float64{-2, 4}, reg.Target, 0.25)

	aligned, err := reg.Transform(ctx, x1)
	require.NoError(t, err)
	require.Len(t, aligned, len(x1))

	dp, err := kde.DensityPeaks(ctx, aligned, kde.DefaultPeakOptions())
	require.NoError(t, err)
	locs := dp.PeakLocations()
	require.Len(t, locs, 2)
	assert.InDelta(t, reg.Target[0], locs[0], 0.35)
	assert.InDelta(t, reg.Target[1], locs[1], 0.35)

	// the warp is monotone, so event order is preserved
	for i := 1; i < len(x1); i++ {
		if x1[i] > x1[i-1] {
			assert.GreaterOrEqual(t, aligned[i], aligned[i-1])
		}
	}
}

func TestLandmarkRegistrationTransformSample(t *testing.T) {
	ctx := context.Background()
	reg := NewLandmarkRegistration(DefaultOptions())
	require.NoError(t, reg.Fit(ctx, [][]float64{bimodal(500, -3, 3), bimodal(500, -1, 5)}))

	warped, err := reg.Warp(0, reg.Landmarks[0])
	require.NoError(t, err)
	assert.InDeltaSlice(t, reg.Target, warped, 1e-9)

	_, err = reg.TransformSample(5, []float64{1})
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
}

func TestLandmarkRegistrationErrors(t *testing.T) {
	ctx := context.Background()
	reg := NewLandmarkRegistration(DefaultOptions())

	_, err := reg.Transform(ctx, []float64{1, 2, 3})
	assert.ErrorIs(t, err, common.ErrorNotFitted)

	assert.ErrorIs(t, reg.Fit(ctx, nil), common.ErrorInvalidValue)
	assert.ErrorIs(t, reg.Fit(ctx, [][]float64{{1}}), common.ErrorDegenerateSample)
}
