package kde

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
	"gonum.org/v1/gonum/stat"
)

type BandWidth interface {
	BandWidth([]float64) (float64, error)
}

// SilvermanBandWidth is Silverman's rule of thumb, 0.9 * A * n^(-1/5).
type SilvermanBandWidth struct{}

func (SilvermanBandWidth) BandWidth(x []float64) (float64, error) {
	return Silverman(x)
}

// ScottBandWidth is Scott's rule, 1.059 * A * n^(-1/5).
type ScottBandWidth struct{}

func (ScottBandWidth) BandWidth(x []float64) (float64, error) {
	A, err := selectSigma(x)
	if err != nil {
		return 0, err
	}
	return 1.059 * A * math.Pow(float64(len(x)), -0.2), nil
}

type NormalReferenceBandWidth struct {
	kernel Kernel
}

func NewNormalReferenceBandWidth(kernel Kernel) *NormalReferenceBandWidth {
	if kernel == nil {
		kernel = NewGaussianKernel()
	}
	return &NormalReferenceBandWidth{
		kernel: kernel,
	}
}

func (bw *NormalReferenceBandWidth) BandWidth(x []float64) (float64, error) {
	C := bw.kernel.NormalReferenceConstant()
	A, err := selectSigma(x)
	if err != nil {
		return 0, err
	}
	n := len(x)
	return C * A * math.Pow(float64(n), -0.2), nil
}

// FixedBandWidth ignores the data.
type FixedBandWidth float64

func (bw FixedBandWidth) BandWidth([]float64) (float64, error) {
	if !(bw > 0) || math.IsInf(float64(bw), 1) {
		return 0, fmt.Errorf("%w: bandwidth must be positive, got %v", common.ErrorInvalidValue, float64(bw))
	}
	return float64(bw), nil
}

// Silverman returns 0.9 * min(std, IQR/1.349) * n^(-1/5). It fails when there
// are fewer than two observations or they have no spread.
func Silverman(x []float64) (float64, error) {
	A, err := selectSigma(x)
	if err != nil {
		return 0, err
	}
	return 0.9 * A * math.Pow(float64(len(x)), -0.2), nil
}

// NewBandWidth resolves a named rule, the kernel is only used by normal_reference.
func NewBandWidth(name string, kernel Kernel) (BandWidth, error) {
	switch strings.ToLower(name) {
	case "", BandWidthSilverman:
		return SilvermanBandWidth{}, nil
	case BandWidthScott:
		return ScottBandWidth{}, nil
	case BandWidthNormalReference:
		return NewNormalReferenceBandWidth(kernel), nil
	}
	return nil, fmt.Errorf("%w: unknown bandwidth rule %q", common.ErrorInvalidMethod, name)
}

func selectSigma(x []float64) (float64, error) {
	if len(x) < 2 {
		return 0, fmt.Errorf("%w: need at least 2 observations, got %d", common.ErrorDegenerateSample, len(x))
	}

	sorted := x
	if !sort.Float64sAreSorted(x) {
		sorted = append([]float64(nil), x...)
		sort.Float64s(sorted)
	}

	q75 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	q25 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	iqr := (q75 - q25) / iqrNormalize

	stdDev := stat.StdDev(sorted, nil)

	sigma := stdDev
	if iqr > 0 && iqr < stdDev {
		sigma = iqr
	}
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return 0, fmt.Errorf("%w: sample has no spread", common.ErrorDegenerateSample)
	}
	return sigma, nil
}
