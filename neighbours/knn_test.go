package neighbours

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// blobs draws n points around each center with unit variance in every dimension.
func blobs(t *testing.T, n int, centers [][]float64, seed uint64) (*model.Frame, []string) {
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	dim := len(centers[0])
	columns := make([]string, dim)
	for j := range columns {
		columns[j] = fmt.Sprintf("f%d", j)
	}
	rows := [][]float64{}
	labels := []string{}
	for c, center := range centers {
		for i := 0; i < n; i++ {
			row := make([]float64, dim)
			for j := range row {
				row[j] = center[j] + noise.Rand()
			}
			rows = append(rows, row)
			labels = append(labels, fmt.Sprintf("pop%d", c))
		}
	}
	f, err := model.NewFrame(columns, rows)
	require.NoError(t, err)
	return f, labels
}

var centers = [][]float64{{0, 0, 0}, {8, 8, 0}, {-8, 0, 8}}

func TestKNearest(t *testing.T) {
	ref := mat.NewDense(4, 1, []float64{0, 10, 3, 1})
	assert.Equal(t, []int{3, 0}, KNearest(ref, []float64{1.2}, 2, 2))
	assert.Equal(t, []int{2, 3, 0, 1}, KNearest(ref, []float64{3}, 10, 1))
}

func TestBalancedAccuracy(t *testing.T) {
	truth := []string{"a", "a", "a", "a", "b"}
	pred := []string{"a", "a", "a", "a", "a"}
	assert.InDelta(t, 0.5, BalancedAccuracy(truth, pred), 1e-12)
	assert.Equal(t, 1.0, BalancedAccuracy(truth, truth))
	assert.Equal(t, 0.0, BalancedAccuracy(nil, nil))
}

func TestKNNClassifier(t *testing.T) {
	ctx := context.Background()
	clf, err := NewKNNClassifier(1, MetricManhattan)
	require.NoError(t, err)

	_, err = clf.Predict(ctx, mat.NewDense(1, 1, []float64{1}))
	assert.ErrorIs(t, err, common.ErrorNotFitted)

	require.NoError(t, clf.Fit(mat.NewDense(2, 1, []float64{0, 10}), []string{"neg", "pos"}))
	pred, err := clf.Predict(ctx, mat.NewDense(3, 1, []float64{-1, 4, 8}))
	require.NoError(t, err)
	assert.Equal(t, []string{"neg", "neg", "pos"}, pred)

	_, err = clf.Predict(ctx, mat.NewDense(1, 2, nil))
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)

	_, err = NewKNNClassifier(0, "")
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
	_, err = NewKNNClassifier(3, "cosine")
	assert.ErrorIs(t, err, common.ErrorInvalidMethod)
}

func TestKNN(t *testing.T) {
	frame, labels := blobs(t, 200, centers, 42)
	trainAcc, valAcc, clf, err := KNN(context.Background(), frame, nil, labels, DefaultKNNOptions())
	require.NoError(t, err)
	require.NotNil(t, clf)
	assert.Greater(t, trainAcc, 0.95)
	assert.Greater(t, valAcc, 0.95)

	_, _, _, err = KNN(context.Background(), frame, nil, labels[:3], DefaultKNNOptions())
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}

func TestCalculateOptimalNeighbours(t *testing.T) {
	frame, labels := blobs(t, 100, centers, 3)
	x, err := frame.Select(nil)
	require.NoError(t, err)

	k, score, err := CalculateOptimalNeighbours(context.Background(), x, labels, []int{1, 3, 5, 7}, 5, MetricEuclidean, 1)
	require.NoError(t, err)
	assert.Contains(t, []int{1, 3, 5, 7}, k)
	assert.Greater(t, score, 0.95)
}

func bruteForce(data *mat.Dense, q []float64, norm float64) []float64 {
	r, _ := data.Dims()
	dist := make([]float64, r)
	for i := range dist {
		dist[i] = floats.Distance(data.RawRowView(i), q, norm)
	}
	return dist
}

func TestTreeMatchesBruteForce(t *testing.T) {
	frame, _ := blobs(t, 150, centers, 11)
	data, err := frame.Select(nil)
	require.NoError(t, err)
	queries, _ := blobs(t, 10, centers, 12)

	for _, metric := range []string{MetricManhattan, MetricEuclidean, MetricChebyshev} {
		t.Run(metric, func(t *testing.T) {
			norm, err := Metric(metric)
			require.NoError(t, err)
			tree := NewTree(data, norm)
			assert.Equal(t, 450, tree.Len())

			for i := 0; i < queries.Rows(); i++ {
				q := queries.Row(i)
				dist := bruteForce(data, q, norm)

				nn := tree.KNearest(q, 7)
				require.Len(t, nn, 7)
				sorted := append([]float64(nil), dist...)
				sort.Float64s(sorted)
				for k, idx := range nn {
					assert.InDelta(t, sorted[k], dist[idx], 1e-12)
				}

				radius := sorted[20]
				want := 0
				for _, d := range dist {
					if d <= radius {
						want++
					}
				}
				assert.Equal(t, want, tree.CountWithin(q, radius))
				for _, idx := range tree.Within(q, radius) {
					assert.LessOrEqual(t, dist[idx], radius)
				}
			}
		})
	}
}

func TestTreeEdgeCases(t *testing.T) {
	tree := NewTree(mat.NewDense(3, 1, []float64{2, 2, 5}), 2)
	assert.Equal(t, []int{0, 1}, tree.KNearest([]float64{2}, 2))
	assert.Equal(t, []int{0, 1, 2}, tree.KNearest([]float64{0}, 10))
	assert.Empty(t, tree.KNearest([]float64{0}, 0))
	assert.Equal(t, []int{2}, tree.Within([]float64{5}, 0))
	assert.Empty(t, tree.Within([]float64{10}, 1))
}
