package sampling

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/neighbours"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// populations draws sizes[c] unit variance points around centers[c].
func populations(t *testing.T, sizes []int, centers [][]float64, seed uint64) (*model.Frame, []string) {
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	rows := [][]float64{}
	labels := []string{}
	for c, center := range centers {
		for i := 0; i < sizes[c]; i++ {
			row := make([]float64, len(center))
			for j := range row {
				row[j] = center[j] + noise.Rand()
			}
			rows = append(rows, row)
			labels = append(labels, fmt.Sprintf("pop%d", c))
		}
	}
	f, err := model.NewFrame([]string{"CD3", "CD4"}, rows)
	require.NoError(t, err)
	return f, labels
}

func assertUniqueSorted(t *testing.T, idx []int) {
	assert.True(t, sort.IntsAreSorted(idx))
	for i := 1; i < len(idx); i++ {
		assert.NotEqual(t, idx[i-1], idx[i])
	}
}

func TestSampleSizeResolve(t *testing.T) {
	n, err := Fraction(0.25).Resolve(100)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = Count(500).Resolve(100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = Fraction(1.5).Resolve(100)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
	_, err = Count(-1).Resolve(100)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)

	assert.Equal(t, "0.1", Fraction(0.1).String())
	assert.Equal(t, "7", Count(7).String())
}

func TestUniformDownsample(t *testing.T) {
	ctx := context.Background()
	frame, _ := populations(t, []int{1000}, [][]float64{{0, 0}}, 1)

	res, err := UniformDownsample(ctx, frame, Count(100), rand.NewSource(3))
	require.NoError(t, err)
	assert.Equal(t, 100, res.Rows())
	assertUniqueSorted(t, res.Index)

	again, err := UniformDownsample(ctx, frame, Count(100), rand.NewSource(3))
	require.NoError(t, err)
	assert.Equal(t, res.Index, again.Index)

	res, err = UniformDownsample(ctx, frame, Fraction(0.1), nil)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Rows())

	res, err = UniformDownsample(ctx, frame, Count(5000), nil)
	require.NoError(t, err)
	assert.Equal(t, frame.Index, res.Index)

	_, err = UniformDownsample(ctx, frame, Fraction(0), nil)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
}

func TestFaithfulDownsample(t *testing.T) {
	ctx := context.Background()
	data := mat.NewDense(200, 1, nil)
	for i := 0; i < 200; i++ {
		data.Set(i, 0, float64(i)*0.05)
	}

	idx, err := FaithfulDownsample(ctx, data, 0.1, rand.NewSource(7))
	require.NoError(t, err)
	assert.NotEmpty(t, idx)
	assert.Less(t, len(idx), 200)
	assertUniqueSorted(t, idx)

	// every event is covered by a representative
	for i := 0; i < 200; i++ {
		covered := false
		for _, r := range idx {
			if floats.Distance(data.RawRowView(i), data.RawRowView(r), 2) <= 0.1 {
				covered = true
				break
			}
		}
		assert.True(t, covered, "event %d", i)
	}

	idx, err = FaithfulDownsample(ctx, nil, 0.1, nil)
	require.NoError(t, err)
	assert.Empty(t, idx)

	_, err = FaithfulDownsample(ctx, data, 0, nil)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
}

func TestProbDownsample(t *testing.T) {
	assert.Equal(t, 0.0, ProbDownsample(1, 5, 1))
	assert.Equal(t, 1.0, ProbDownsample(3, 5, 1))
	assert.Equal(t, 1.0, ProbDownsample(5, 5, 1))
	assert.Equal(t, 0.5, ProbDownsample(10, 5, 1))
}

func TestDensityProbabilityAssignment(t *testing.T) {
	frame, _ := populations(t, []int{500}, [][]float64{{0, 0}}, 5)
	x, err := frame.Select(nil)
	require.NoError(t, err)

	prob, err := DensityProbabilityAssignment(context.Background(), x, x, DefaultDensityOptions())
	require.NoError(t, err)
	require.Len(t, prob, 500)
	for _, p := range prob {
		assert.True(t, p >= 0 && p <= 1)
	}

	opts := DefaultDensityOptions()
	opts.OutlierDensity, opts.TargetDensity = 10, 5
	_, err = DensityProbabilityAssignment(context.Background(), x, x, opts)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)

	_, err = DensityProbabilityAssignment(context.Background(), mat.NewDense(2, 1, nil), x, DefaultDensityOptions())
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}

func TestDensityDependentDownsample(t *testing.T) {
	ctx := context.Background()
	frame, _ := populations(t, []int{2000, 100}, [][]float64{{0, 0}, {12, 12}}, 11)

	opts := DefaultDensityOptions()
	opts.Src = rand.NewSource(1)
	res, err := DensityDependentDownsample(ctx, frame, Count(500), opts)
	require.NoError(t, err)
	assert.Equal(t, 500, res.Rows())
	assertUniqueSorted(t, res.Index)

	rare := 0
	for _, i := range res.Index {
		if i >= 2000 {
			rare++
		}
	}
	// the rare population is about 5% of the data, 24 events of a uniform sample
	assert.Greater(t, rare, 30)

	// every event at the outlier density, all probabilities are 0
	opts.OutlierDensity, opts.TargetDensity = 100, 100
	res, err = DensityDependentDownsample(ctx, frame, Count(300), opts)
	require.NoError(t, err)
	assert.Equal(t, 300, res.Rows())
}

func TestUpsampleDensity(t *testing.T) {
	ctx := context.Background()
	frame, _ := populations(t, []int{1000, 60}, [][]float64{{0, 0}, {10, -10}}, 13)

	opts := DefaultUpsampleOptions()
	opts.Src = rand.NewSource(2)
	res, err := UpsampleDensity(ctx, frame, opts)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Rows(), 2*frame.Rows())
	assert.LessOrEqual(t, res.Rows(), 3*frame.Rows())
	// the original rows come first, unchanged
	assert.Equal(t, frame.Index, res.Index[:frame.Rows()])

	size := Count(800)
	opts.SampleSize = &size
	res, err = UpsampleDensity(ctx, frame, opts)
	require.NoError(t, err)
	assert.Equal(t, 800, res.Rows())

	opts.Factor = 0
	_, err = UpsampleDensity(ctx, frame, opts)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
}

func TestUpsampleKNN(t *testing.T) {
	ctx := context.Background()
	frame, labels := populations(t, []int{400, 400, 400}, [][]float64{{0, 0}, {10, 0}, {0, 10}}, 17)

	sample, err := UniformDownsample(ctx, frame, Count(300), rand.NewSource(4))
	require.NoError(t, err)
	sampleLabels := make([]string, sample.Rows())
	for k, i := range sample.Index {
		sampleLabels[k] = labels[i]
	}

	for _, k := range []int{5, 0} {
		pred, err := UpsampleKNN(ctx, sample, sampleLabels, frame, nil, k, neighbours.MetricEuclidean)
		require.NoError(t, err)
		require.Len(t, pred, frame.Rows())
		assert.Greater(t, neighbours.BalancedAccuracy(labels, pred), 0.95)
	}

	_, err = UpsampleKNN(ctx, sample, sampleLabels[:10], frame, nil, 5, neighbours.MetricEuclidean)
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}

func TestStratifiedSample(t *testing.T) {
	ctx := context.Background()
	frame, labels := populations(t, []int{300, 30}, [][]float64{{0, 0}, {5, 5}}, 19)

	res, err := StratifiedSample(ctx, frame, labels, 100, rand.NewSource(5))
	require.NoError(t, err)
	// 50 of the large group, all 30 of the small one
	assert.Equal(t, 80, res.Rows())

	_, err = StratifiedSample(ctx, frame, labels[:5], 100, nil)
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}

func TestSampleFrame(t *testing.T) {
	ctx := context.Background()
	frame, _ := populations(t, []int{600}, [][]float64{{0, 0}}, 23)
	opts := DefaultSampleOptions()
	opts.Src = rand.NewSource(9)

	for _, method := range []string{MethodUniform, MethodDensity} {
		res, err := SampleFrame(ctx, frame, Count(150), method, opts)
		require.NoError(t, err, method)
		assert.Equal(t, 150, res.Rows(), method)
	}

	opts.FaithfulRadius = 0.5
	res, err := SampleFrame(ctx, frame, Count(150), MethodFaithful, opts)
	require.NoError(t, err)
	assert.Less(t, res.Rows(), frame.Rows())
	assert.Equal(t, frame.Columns, res.Columns)

	_, err = SampleFrame(ctx, frame, Count(150), "systematic", opts)
	assert.ErrorIs(t, err, common.ErrorInvalidMethod)
}
