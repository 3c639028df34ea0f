package dimred

import (
	"fmt"
	"math"

	"github.com/danaugrs/go-tsne/tsne"
	"github.com/uyouii/cytometry-algorithms/common"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultPerplexity   = 30.0
	DefaultLearningRate = 200.0
	DefaultTSNEIter     = 300
)

// TSNE is exact t-distributed stochastic neighbour embedding. It is quadratic
// in the number of rows, so large tables go through DimensionReductionWithSampling.
// The initial embedding is random and not seeded.
type TSNE struct {
	NComponents  int
	Perplexity   float64
	LearningRate float64
	MaxIter      int
	// Divergence is the KL divergence reached by the last fit.
	Divergence float64
}

// NewTSNE accepts the parameters "perplexity", "learning_rate" and "max_iter".
func NewTSNE(nComponents int, params map[string]float64) (*TSNE, error) {
	if err := checkParams(params, "perplexity", "learning_rate", "max_iter"); err != nil {
		return nil, err
	}
	m := &TSNE{
		NComponents:  nComponents,
		Perplexity:   DefaultPerplexity,
		LearningRate: DefaultLearningRate,
		MaxIter:      DefaultTSNEIter,
	}
	if v, ok := params["perplexity"]; ok {
		m.Perplexity = v
	}
	if v, ok := params["learning_rate"]; ok {
		m.LearningRate = v
	}
	if v, ok := params["max_iter"]; ok {
		if v < 1 || v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: max_iter must be a positive integer, got %v", common.ErrorInvalidValue, v)
		}
		m.MaxIter = int(v)
	}
	if !(m.Perplexity >= 1) || !(m.LearningRate > 0) {
		return nil, fmt.Errorf("%w: perplexity must be >= 1 and learning_rate positive", common.ErrorInvalidValue)
	}
	return m, nil
}

func (m *TSNE) FitTransform(x mat.Matrix) (*mat.Dense, error) {
	r, _ := x.Dims()
	if float64(r) <= m.Perplexity {
		return nil, fmt.Errorf("%w: perplexity %v needs more than %d rows", common.ErrorDegenerateSample, m.Perplexity, r)
	}
	t := tsne.NewTSNE(m.NComponents, m.Perplexity, m.LearningRate, m.MaxIter, false)
	y := t.EmbedData(x, func(iter int, divergence float64, _ mat.Matrix) bool {
		m.Divergence = divergence
		return false
	})
	return mat.DenseCopyOf(y), nil
}
