package dimred

import (
	"fmt"
	"math"

	"github.com/uyouii/cytometry-algorithms/common"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	MethodPCA       = "PCA"
	MethodKernelPCA = "KernelPCA"
	MethodMDS       = "MDS"
	MethodIsomap    = "Isomap"
	MethodTSNE      = "TSNE"
)

// eigenvalues at or below this share of the largest are dropped
const eigenTolerance = 1e-12

func checkParams(params map[string]float64, allowed ...string) error {
	for name := range params {
		found := false
		for _, a := range allowed {
			if name == a {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: unknown parameter %q", common.ErrorInvalidValue, name)
		}
	}
	return nil
}

func columnMeans(x mat.Matrix) []float64 {
	_, c := x.Dims()
	res := make([]float64, c)
	for j := range res {
		res[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	return res
}

// PCA projects onto the directions of largest variance.
type PCA struct {
	NComponents int
	// ExplainedVariance is the variance along each kept component.
	ExplainedVariance []float64

	mean       []float64
	components *mat.Dense
}

func NewPCA(nComponents int, params map[string]float64) (*PCA, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	return &PCA{NComponents: nComponents}, nil
}

func (p *PCA) Fit(x mat.Matrix) error {
	r, c := x.Dims()
	if r < 2 {
		return fmt.Errorf("%w: PCA needs at least 2 rows, got %d", common.ErrorDegenerateSample, r)
	}
	if p.NComponents > min(r, c) {
		return fmt.Errorf("%w: %d components from %dx%d data", common.ErrorInvalidValue, p.NComponents, r, c)
	}
	var pc stat.PC
	if !pc.PrincipalComponents(x, nil) {
		return fmt.Errorf("%w: principal component decomposition failed", common.ErrorInternal)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	p.components = mat.DenseCopyOf(vecs.Slice(0, c, 0, p.NComponents))
	p.ExplainedVariance = pc.VarsTo(nil)[:p.NComponents]
	p.mean = columnMeans(x)
	return nil
}

func (p *PCA) Transform(x mat.Matrix) (*mat.Dense, error) {
	if p.components == nil {
		return nil, common.ErrorNotFitted
	}
	r, c := x.Dims()
	if c != len(p.mean) {
		return nil, fmt.Errorf("%w: %d features, fitted on %d", common.ErrorDimensionMismatch, c, len(p.mean))
	}
	centered := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := centered.RawRowView(i)
		mat.Row(row, i, x)
		floats.Sub(row, p.mean)
	}
	var res mat.Dense
	res.Mul(centered, p.components)
	return &res, nil
}

func (p *PCA) FitTransform(x mat.Matrix) (*mat.Dense, error) {
	if err := p.Fit(x); err != nil {
		return nil, err
	}
	return p.Transform(x)
}

// topEigen returns the k largest eigenvalues of a, largest first, with their
// eigenvectors as columns.
func topEigen(a mat.Symmetric, k int) ([]float64, *mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return nil, nil, fmt.Errorf("%w: eigen decomposition failed", common.ErrorInternal)
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	n := len(values)
	vals := make([]float64, k)
	res := mat.NewDense(a.SymmetricDim(), k, nil)
	for c := 0; c < k; c++ {
		vals[c] = values[n-1-c]
		res.SetCol(c, mat.Col(nil, n-1-c, &vecs))
	}
	return vals, res, nil
}

// doubleCenter returns a with its row and column means removed.
func doubleCenter(a *mat.SymDense) (*mat.SymDense, []float64, float64) {
	n := a.SymmetricDim()
	means := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			means[i] += a.At(i, j)
		}
		means[i] /= float64(n)
	}
	total := stat.Mean(means, nil)
	res := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			res.SetSym(i, j, a.At(i, j)-means[i]-means[j]+total)
		}
	}
	return res, means, total
}

// KernelPCA is PCA in the feature space of the RBF kernel
// exp(-gamma ||x - y||^2). Fitting holds an n by n kernel in memory.
type KernelPCA struct {
	NComponents int
	// Gamma of the RBF kernel, 0 means 1 / number of features.
	Gamma float64

	gamma  float64
	train  *mat.Dense
	means  []float64
	total  float64
	alphas *mat.Dense
}

func NewKernelPCA(nComponents int, params map[string]float64) (*KernelPCA, error) {
	if err := checkParams(params, "gamma"); err != nil {
		return nil, err
	}
	k := &KernelPCA{NComponents: nComponents, Gamma: params["gamma"]}
	if k.Gamma < 0 {
		return nil, fmt.Errorf("%w: gamma must not be negative", common.ErrorInvalidValue)
	}
	return k, nil
}

func (k *KernelPCA) rbf(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return math.Exp(-k.gamma * d * d)
}

func (k *KernelPCA) Fit(x mat.Matrix) error {
	r, c := x.Dims()
	if r < 2 {
		return fmt.Errorf("%w: kernel PCA needs at least 2 rows, got %d", common.ErrorDegenerateSample, r)
	}
	if k.NComponents > r {
		return fmt.Errorf("%w: %d components from %d rows", common.ErrorInvalidValue, k.NComponents, r)
	}
	k.gamma = k.Gamma
	if k.gamma == 0 {
		k.gamma = 1 / float64(c)
	}
	k.train = mat.DenseCopyOf(x)

	kernel := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			kernel.SetSym(i, j, k.rbf(k.train.RawRowView(i), k.train.RawRowView(j)))
		}
	}
	centered, means, total := doubleCenter(kernel)
	k.means, k.total = means, total

	vals, vecs, err := topEigen(centered, k.NComponents)
	if err != nil {
		return err
	}
	for c, v := range vals {
		col := mat.Col(nil, c, vecs)
		if v <= eigenTolerance*vals[0] {
			// a null direction of the centred kernel embeds everything at 0
			floats.Scale(0, col)
		} else {
			floats.Scale(1/math.Sqrt(v), col)
		}
		vecs.SetCol(c, col)
	}
	k.alphas = vecs
	return nil
}

func (k *KernelPCA) Transform(x mat.Matrix) (*mat.Dense, error) {
	if k.alphas == nil {
		return nil, common.ErrorNotFitted
	}
	r, c := x.Dims()
	n, trainCols := k.train.Dims()
	if c != trainCols {
		return nil, fmt.Errorf("%w: %d features, fitted on %d", common.ErrorDimensionMismatch, c, trainCols)
	}
	kt := mat.NewDense(r, n, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, x)
		dst := kt.RawRowView(i)
		for j := 0; j < n; j++ {
			dst[j] = k.rbf(row, k.train.RawRowView(j))
		}
		rowMean := stat.Mean(dst, nil)
		for j := range dst {
			dst[j] += k.total - k.means[j] - rowMean
		}
	}
	var res mat.Dense
	res.Mul(kt, k.alphas)
	return &res, nil
}

func (k *KernelPCA) FitTransform(x mat.Matrix) (*mat.Dense, error) {
	if err := k.Fit(x); err != nil {
		return nil, err
	}
	return k.Transform(x)
}
