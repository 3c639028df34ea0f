// Package neighbours implements brute force nearest neighbour classification
// used to carry labels from a sample back to the full data set.
package neighbours

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

const (
	MetricManhattan = "manhattan"
	MetricEuclidean = "euclidean"
	MetricChebyshev = "chebyshev"
)

// Metric returns the L-norm used by floats.Distance for a metric name.
func Metric(name string) (float64, error) {
	switch strings.ToLower(name) {
	case MetricManhattan, "l1", "cityblock":
		return 1, nil
	case "", MetricEuclidean, "l2":
		return 2, nil
	case MetricChebyshev, "linf":
		return math.Inf(1), nil
	}
	return 0, fmt.Errorf("%w: unknown distance metric %q", common.ErrorInvalidMethod, name)
}

// KNearest returns the indexes of the k rows of ref closest to q, nearest first.
// It builds a throwaway Tree; use NewTree for repeated queries.
func KNearest(ref mat.RawMatrixer, q []float64, k int, norm float64) []int {
	return NewTree(ref, norm).KNearest(q, k)
}

type KNNClassifier struct {
	K      int
	Metric string

	x      *mat.Dense
	labels []string
	norm   float64
	tree   *Tree
}

func NewKNNClassifier(k int, metric string) (*KNNClassifier, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", common.ErrorInvalidValue, k)
	}
	norm, err := Metric(metric)
	if err != nil {
		return nil, err
	}
	return &KNNClassifier{K: k, Metric: metric, norm: norm}, nil
}

func (c *KNNClassifier) Fit(x *mat.Dense, labels []string) error {
	if x == nil {
		return fmt.Errorf("%w: no training data", common.ErrorInvalidValue)
	}
	r, _ := x.Dims()
	if r != len(labels) {
		return fmt.Errorf("%w: %d rows, %d labels", common.ErrorDimensionMismatch, r, len(labels))
	}
	c.x = x
	c.labels = labels
	c.tree = NewTree(x, c.norm)
	return nil
}

// Predict votes among the K nearest training rows, ties go to the label of
// the nearest tied neighbour.
func (c *KNNClassifier) Predict(ctx context.Context, x *mat.Dense) ([]string, error) {
	if c.x == nil {
		return nil, common.ErrorNotFitted
	}
	if x == nil {
		return []string{}, nil
	}
	r, cols := x.Dims()
	if _, trainCols := c.x.Dims(); cols != trainCols {
		return nil, fmt.Errorf("%w: %d features, trained on %d", common.ErrorDimensionMismatch, cols, trainCols)
	}

	res := make([]string, r)
	err := utils.ParallelRange(ctx, r, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			res[i] = c.vote(c.tree.KNearest(x.RawRowView(i), c.K))
		}
		return nil
	})
	return res, err
}

func (c *KNNClassifier) vote(idx []int) string {
	counts := map[string]int{}
	best, bestCount := "", 0
	for _, i := range idx {
		counts[c.labels[i]]++
	}
	// idx is nearest first, so the first label reaching the top count wins ties
	for _, i := range idx {
		if n := counts[c.labels[i]]; n > bestCount {
			best, bestCount = c.labels[i], n
		}
	}
	return best
}

// BalancedAccuracy is the mean per-class recall.
func BalancedAccuracy(truth, predicted []string) float64 {
	total := map[string]int{}
	correct := map[string]int{}
	for i, t := range truth {
		total[t]++
		if predicted[i] == t {
			correct[t]++
		}
	}
	if len(total) == 0 {
		return 0
	}
	var sum float64
	for class, n := range total {
		sum += float64(correct[class]) / float64(n)
	}
	return sum / float64(len(total))
}

type KNNOptions struct {
	K           int
	Metric      string
	HoldoutSize float64
	Seed        uint64
}

func DefaultKNNOptions() KNNOptions {
	return KNNOptions{K: 5, Metric: MetricEuclidean, HoldoutSize: 0.2, Seed: 42}
}

// KNN trains a classifier on a random (1 - HoldoutSize) share of the rows and
// reports balanced accuracy on the training and validation rows.
func KNN(ctx context.Context, frame *model.Frame, features []string, labels []string,
	opts KNNOptions) (trainAcc, valAcc float64, clf *KNNClassifier, err error) {
	logger := utils.GetLogger(ctx)

	if frame.Rows() != len(labels) {
		return 0, 0, nil, fmt.Errorf("%w: %d rows, %d labels", common.ErrorDimensionMismatch, frame.Rows(), len(labels))
	}
	if opts.HoldoutSize <= 0 || opts.HoldoutSize >= 1 {
		return 0, 0, nil, fmt.Errorf("%w: holdout size %v outside (0, 1)", common.ErrorInvalidValue, opts.HoldoutSize)
	}
	x, err := frame.Select(features)
	if err != nil {
		return 0, 0, nil, err
	}

	perm := rand.New(rand.NewSource(opts.Seed)).Perm(len(labels))
	nVal := int(math.Ceil(opts.HoldoutSize * float64(len(labels))))
	if nVal < 1 || nVal >= len(labels) {
		return 0, 0, nil, fmt.Errorf("%w: %d rows cannot be split", common.ErrorInvalidValue, len(labels))
	}
	valIdx, trainIdx := perm[:nVal], perm[nVal:]

	xTrain, yTrain := takeRows(x, labels, trainIdx)
	xVal, yVal := takeRows(x, labels, valIdx)

	clf, err = NewKNNClassifier(opts.K, opts.Metric)
	if err != nil {
		return 0, 0, nil, err
	}
	if err := clf.Fit(xTrain, yTrain); err != nil {
		return 0, 0, nil, err
	}

	predTrain, err := clf.Predict(ctx, xTrain)
	if err != nil {
		return 0, 0, nil, err
	}
	predVal, err := clf.Predict(ctx, xVal)
	if err != nil {
		return 0, 0, nil, err
	}
	trainAcc = BalancedAccuracy(yTrain, predTrain)
	valAcc = BalancedAccuracy(yVal, predVal)

	logger.Info("knn trained", zap.Int("k", opts.K), zap.Float64("train balanced accuracy", trainAcc),
		zap.Float64("validation balanced accuracy", valAcc))
	return trainAcc, valAcc, clf, nil
}

// CalculateOptimalNeighbours picks k from candidates by folds-fold cross
// validated balanced accuracy. Empty candidates means 2..15.
func CalculateOptimalNeighbours(ctx context.Context, x *mat.Dense, labels []string, candidates []int,
	folds int, metric string, seed uint64) (int, float64, error) {
	logger := utils.GetLogger(ctx)

	if x == nil {
		return 0, 0, fmt.Errorf("%w: no data", common.ErrorInvalidValue)
	}
	n, _ := x.Dims()
	if n != len(labels) {
		return 0, 0, fmt.Errorf("%w: %d rows, %d labels", common.ErrorDimensionMismatch, n, len(labels))
	}
	if len(candidates) == 0 {
		for k := 2; k <= 15; k++ {
			candidates = append(candidates, k)
		}
	}
	if folds < 2 {
		folds = 5
	}
	if n < folds {
		return 0, 0, fmt.Errorf("%w: %d rows for %d folds", common.ErrorInvalidValue, n, folds)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	bestK, bestScore := 0, -1.0
	for _, k := range candidates {
		var score float64
		for f := 0; f < folds; f++ {
			lo, hi := f*n/folds, (f+1)*n/folds
			valIdx := perm[lo:hi]
			trainIdx := append(append([]int(nil), perm[:lo]...), perm[hi:]...)
			if k > len(trainIdx) {
				return 0, 0, fmt.Errorf("%w: k=%d larger than training fold", common.ErrorInvalidValue, k)
			}

			clf, err := NewKNNClassifier(k, metric)
			if err != nil {
				return 0, 0, err
			}
			xTrain, yTrain := takeRows(x, labels, trainIdx)
			xVal, yVal := takeRows(x, labels, valIdx)
			if err := clf.Fit(xTrain, yTrain); err != nil {
				return 0, 0, err
			}
			pred, err := clf.Predict(ctx, xVal)
			if err != nil {
				return 0, 0, err
			}
			score += BalancedAccuracy(yVal, pred)
		}
		score /= float64(folds)
		logger.Debug("knn cross validation", zap.Int("k", k), zap.Float64("score", score))
		if score > bestScore {
			bestK, bestScore = k, score
		}
	}
	return bestK, bestScore, nil
}

func takeRows(x *mat.Dense, labels []string, idx []int) (*mat.Dense, []string) {
	_, c := x.Dims()
	if len(idx) == 0 {
		return nil, []string{}
	}
	res := mat.NewDense(len(idx), c, nil)
	out := make([]string, len(idx))
	for k, i := range idx {
		copy(res.RawRowView(k), x.RawRowView(i))
		out[k] = labels[i]
	}
	return res, out
}
