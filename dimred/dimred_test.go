package dimred

import (
	"context"
	"fmt"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/sampling"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var features = []string{"CD3", "CD4", "CD8", "CD19"}

// testFrame places three populations in a plane of the 4d feature space,
// the third axis carries a little noise and the fourth none.
func testFrame(t *testing.T, n int, seed uint64) *model.Frame {
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	centers := [][2]float64{{0, 0}, {10, 0}, {0, 10}}
	rows := make([][]float64, 0, n)
	for i := 0; i < n; i++ {
		c := centers[i%len(centers)]
		rows = append(rows, []float64{c[0] + noise.Rand(), c[1] + noise.Rand(), 0.01 * noise.Rand(), 1})
	}
	f, err := model.NewFrame(features, rows)
	require.NoError(t, err)
	return f
}

func pairwise(x mat.Matrix) []float64 {
	r, _ := x.Dims()
	d := mat.DenseCopyOf(x)
	res := []float64{}
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			res = append(res, floats.Distance(d.RawRowView(i), d.RawRowView(j), 2))
		}
	}
	return res
}

func TestDimensionReductionMethods(t *testing.T) {
	ctx := context.Background()
	frame := testFrame(t, 150, 1)

	for _, method := range []string{MethodPCA, MethodKernelPCA, MethodMDS} {
		t.Run(method, func(t *testing.T) {
			reducer, err := NewDimensionReduction(method, 2, nil)
			require.NoError(t, err)
			assert.Equal(t, method, reducer.Name())

			res, err := reducer.FitTransform(ctx, frame, features)
			require.NoError(t, err)
			assert.Equal(t, append(append([]string(nil), features...), method+"1", method+"2"), res.Columns)
			assert.Equal(t, frame.Rows(), res.Rows())
			require.NotNil(t, reducer.Embeddings)

			// the input frame is left alone
			assert.Equal(t, features, frame.Columns)

			_, err = reducer.Fit(ctx, frame, features)
			require.NoError(t, err)
			res, err = reducer.Transform(ctx, frame, features)
			require.NoError(t, err)
			assert.Contains(t, res.Columns, method+"2")
		})
	}
}

func TestPCAPreservesPlanarDistances(t *testing.T) {
	frame := testFrame(t, 60, 2)
	x, err := frame.Select(features)
	require.NoError(t, err)

	pca, err := NewPCA(2, nil)
	require.NoError(t, err)
	emb, err := pca.FitTransform(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, pairwise(x), pairwise(emb), 0.1)
	assert.Greater(t, pca.ExplainedVariance[0], pca.ExplainedVariance[1])

	// the embedding is centred
	for j := 0; j < 2; j++ {
		var sum float64
		for i := 0; i < 60; i++ {
			sum += emb.At(i, j)
		}
		assert.InDelta(t, 0, sum/60, 1e-9)
	}

	_, err = pca.Transform(mat.NewDense(1, 3, nil))
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
	_, err = (&PCA{NComponents: 2}).Transform(x)
	assert.ErrorIs(t, err, common.ErrorNotFitted)
}

func TestMDSMatchesPCA(t *testing.T) {
	frame := testFrame(t, 45, 3)
	x, err := frame.Select(features)
	require.NoError(t, err)

	mds, err := NewMDS(2, nil)
	require.NoError(t, err)
	emb, err := mds.FitTransform(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, pairwise(x), pairwise(emb), 0.1)
	assert.True(t, sort.IsSorted(sort.Reverse(sort.Float64Slice(mds.Eigenvalues))))
}

func TestKernelPCATransformMatchesFit(t *testing.T) {
	frame := testFrame(t, 90, 4)
	x, err := frame.Select(features)
	require.NoError(t, err)

	kpca, err := NewKernelPCA(2, map[string]float64{"gamma": 0.05})
	require.NoError(t, err)
	emb, err := kpca.FitTransform(x)
	require.NoError(t, err)

	// embedding the training rows again reproduces the fit
	again, err := kpca.Transform(x)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(emb, again, 1e-9))

	// the first component separates the populations
	var spread float64
	for i := 0; i < 90; i++ {
		spread = math.Max(spread, math.Abs(emb.At(i, 0)))
	}
	assert.Greater(t, spread, 0.1)
}

type identity struct{}

func (identity) FitTransform(x mat.Matrix) (*mat.Dense, error) {
	return mat.DenseCopyOf(x), nil
}

func TestCustomMethod(t *testing.T) {
	ctx := context.Background()
	frame := testFrame(t, 9, 5)

	reducer, err := NewDimensionReductionFromMethod("", identity{})
	require.NoError(t, err)
	assert.Equal(t, "identity", reducer.Name())

	// no Fitter or Transformer, both fall back to fit transform
	res, err := reducer.Fit(ctx, frame, features[:2])
	require.NoError(t, err)
	require.NotNil(t, res)
	res, err = reducer.Transform(ctx, frame, features[:2])
	require.NoError(t, err)
	cd3, _ := res.Column("CD3")
	emb, _ := res.Column("identity1")
	assert.Equal(t, cd3, emb)

	_, err = NewDimensionReductionFromMethod("x", nil)
	assert.ErrorIs(t, err, common.ErrorInvalidMethod)
}

func TestRegister(t *testing.T) {
	Register("Identity", func(int, map[string]float64) (Method, error) { return identity{}, nil })
	defer delete(methods, "Identity")
	assert.Contains(t, Methods(), "Identity")

	reducer, err := NewDimensionReduction("Identity", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, "Identity", reducer.Name())
}

func TestNewDimensionReductionErrors(t *testing.T) {
	_, err := NewDimensionReduction("UMAP", 2, nil)
	assert.ErrorIs(t, err, common.ErrorInvalidMethod)
	_, err = NewDimensionReduction(MethodPCA, 0, nil)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
	_, err = NewDimensionReduction(MethodPCA, 2, map[string]float64{"perplexity": 30})
	assert.ErrorIs(t, err, common.ErrorInvalidValue)

	reducer, err := NewDimensionReduction(MethodPCA, 5, nil)
	require.NoError(t, err)
	_, err = reducer.FitTransform(context.Background(), testFrame(t, 20, 6), features)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
}

func TestDimensionReductionWithSampling(t *testing.T) {
	ctx := context.Background()
	frame := testFrame(t, 1000, 7)

	for _, method := range []string{MethodPCA, MethodMDS} {
		t.Run(method, func(t *testing.T) {
			reducer, err := NewDimensionReduction(method, 2, nil)
			require.NoError(t, err)
			opts := DefaultSamplingOptions()
			opts.Size = sampling.Count(150)
			opts.Sample.Src = rand.NewSource(8)

			res, err := DimensionReductionWithSampling(ctx, frame, features, reducer, opts)
			require.NoError(t, err)
			assert.Equal(t, frame.Rows(), res.Rows())
			assert.Equal(t, frame.Index, res.Index)
			for _, name := range []string{method + "1", method + "2"} {
				_, ok := res.ColumnIndex(name)
				assert.True(t, ok, fmt.Sprintf("missing %s", name))
			}
		})
	}

	_, err := DimensionReductionWithSampling(ctx, frame, features, nil, DefaultSamplingOptions())
	assert.ErrorIs(t, err, common.ErrorInvalidMethod)
}

// halfCircle places n points evenly along the upper unit half circle.
func halfCircle(n int) *mat.Dense {
	x := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		theta := math.Pi * float64(i) / float64(n-1)
		x.Set(i, 0, math.Cos(theta))
		x.Set(i, 1, math.Sin(theta))
	}
	return x
}

func TestIsomapUnrollsArc(t *testing.T) {
	n := 50
	x := halfCircle(n)
	step := 2 * math.Sin(math.Pi/float64(2*(n-1)))

	iso, err := NewIsomap(1, map[string]float64{"n_neighbors": 2})
	require.NoError(t, err)
	emb, err := iso.FitTransform(x)
	require.NoError(t, err)
	r, c := emb.Dims()
	require.Equal(t, n, r)
	require.Equal(t, 1, c)

	// geodesic positions follow the arc, the chord between the ends is only 2
	for i := 0; i < n; i++ {
		assert.InDelta(t, float64(i)*step, math.Abs(emb.At(i, 0)-emb.At(0, 0)), 5e-3)
	}
	assert.InDelta(t, math.Pi, math.Abs(emb.At(n-1, 0)-emb.At(0, 0)), 0.01)

	mds, err := NewMDS(1, nil)
	require.NoError(t, err)
	flat, err := mds.FitTransform(x)
	require.NoError(t, err)
	assert.InDelta(t, 2, math.Abs(flat.At(n-1, 0)-flat.At(0, 0)), 1e-6)
}

func TestIsomapErrors(t *testing.T) {
	_, err := NewIsomap(2, map[string]float64{"n_neighbors": 0})
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
	_, err = NewIsomap(2, map[string]float64{"n_neighbors": 2.5})
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
	_, err = NewIsomap(2, map[string]float64{"gamma": 1})
	assert.ErrorIs(t, err, common.ErrorInvalidValue)

	apart := mat.NewDense(6, 1, []float64{0, 1, 3, 100, 101, 103})
	iso, err := NewIsomap(1, map[string]float64{"n_neighbors": 1})
	require.NoError(t, err)
	_, err = iso.FitTransform(apart)
	assert.ErrorIs(t, err, common.ErrorDegenerateSample)
}

func TestTSNE(t *testing.T) {
	frame := testFrame(t, 45, 9)
	x, err := frame.Select(features)
	require.NoError(t, err)

	reducer, err := NewDimensionReduction(MethodTSNE, 2,
		map[string]float64{"perplexity": 5, "learning_rate": 10, "max_iter": 50})
	require.NoError(t, err)
	res, err := reducer.FitTransform(context.Background(), frame, features)
	require.NoError(t, err)
	assert.Contains(t, res.Columns, "TSNE2")

	r, c := reducer.Embeddings.Dims()
	assert.Equal(t, 45, r)
	assert.Equal(t, 2, c)
	for _, v := range reducer.Embeddings.RawMatrix().Data {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	m, ok := reducer.Method().(*TSNE)
	require.True(t, ok)
	assert.False(t, math.IsNaN(m.Divergence))

	tooFew, err := NewTSNE(2, map[string]float64{"perplexity": 50})
	require.NoError(t, err)
	_, err = tooFew.FitTransform(x)
	assert.ErrorIs(t, err, common.ErrorDegenerateSample)

	_, err = NewTSNE(2, map[string]float64{"perplexity": 0.5})
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
	_, err = NewTSNE(2, map[string]float64{"max_iter": -1})
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
}
