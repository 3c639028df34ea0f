package kde

import (
	"fmt"
	"math"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
)

// Kernel is a symmetric smoothing kernel scaled to unit variance, so one
// bandwidth means the same amount of smoothing whatever kernel is used.
type Kernel interface {
	Name() string
	Shape(u float64) float64
	// Support is the half width outside which Shape is zero, +Inf if unbounded.
	Support() float64
	NormalReferenceConstant() float64
}

// baseKernel holds a kernel defined on [-1, 1] (or the whole line) and its
// moments, and rescales it to unit variance.
type baseKernel struct {
	name      string
	shape     func(float64) float64
	l2Norm    float64 // integral of K^2 for the raw kernel
	kernelVar float64 // second moment of the raw kernel
	bounded   bool
	order     int

	scale                   float64
	normalReferenceConstant float64
}

func newBaseKernel(name string, shape func(float64) float64, l2Norm, kernelVar float64, bounded bool) *baseKernel {
	k := &baseKernel{
		name:      name,
		shape:     shape,
		l2Norm:    l2Norm,
		kernelVar: kernelVar,
		bounded:   bounded,
		order:     2,
		scale:     math.Sqrt(kernelVar),
	}
	k.normalReferenceConstant = k.computeNormalReferenceConstant()
	return k
}

func (k *baseKernel) Name() string {
	return k.name
}

func (k *baseKernel) Shape(u float64) float64 {
	return k.scale * k.shape(k.scale*u)
}

func (k *baseKernel) Support() float64 {
	if !k.bounded {
		return math.Inf(1)
	}
	return 1 / k.scale
}

func (k *baseKernel) NormalReferenceConstant() float64 {
	return k.normalReferenceConstant
}

func (k *baseKernel) computeNormalReferenceConstant() float64 {
	nu := k.order
	// the rescaled kernel has unit variance and l2 norm scale * l2Norm
	l2Norm := k.scale * k.l2Norm
	numerator := math.Pow(math.Pi, 0.5) * math.Pow(factorial(nu), 3) * l2Norm
	denom := 2.0 * float64(nu) * factorial(2*nu) * math.Pow(k.Moments(nu), 2)
	return 2 * math.Pow(numerator/denom, 1.0/float64(2*nu+1))
}

func (k *baseKernel) Moments(n int) float64 {
	if n == 1 {
		return 0
	}
	if n == 2 {
		return 1.0
	}
	return 1.0
}

func NewGaussianKernel() Kernel {
	return newBaseKernel(KernelGaussian, func(u float64) float64 {
		return 0.3989422804014327 * math.Exp(-u*u/2.0)
	}, 1.0/(2.0*math.Sqrt(math.Pi)), 1.0, false)
}

func NewEpanechnikovKernel() Kernel {
	return newBaseKernel(KernelEpanechnikov, func(u float64) float64 {
		if math.Abs(u) > 1 {
			return 0
		}
		return 0.75 * (1 - u*u)
	}, 3.0/5.0, 1.0/5.0, true)
}

func NewTriangularKernel() Kernel {
	return newBaseKernel(KernelTriangular, func(u float64) float64 {
		a := math.Abs(u)
		if a > 1 {
			return 0
		}
		return 1 - a
	}, 2.0/3.0, 1.0/6.0, true)
}

func NewBiweightKernel() Kernel {
	return newBaseKernel(KernelBiweight, func(u float64) float64 {
		if math.Abs(u) > 1 {
			return 0
		}
		t := 1 - u*u
		return 15.0 / 16.0 * t * t
	}, 5.0/7.0, 1.0/7.0, true)
}

func NewTopHatKernel() Kernel {
	return newBaseKernel(KernelTopHat, func(u float64) float64 {
		if math.Abs(u) > 1 {
			return 0
		}
		return 0.5
	}, 0.5, 1.0/3.0, true)
}

// NewKernel resolves a kernel by name, empty means gaussian.
func NewKernel(name string) (Kernel, error) {
	switch strings.ToLower(name) {
	case "", KernelGaussian, "normal":
		return NewGaussianKernel(), nil
	case KernelEpanechnikov, "epanechnikov":
		return NewEpanechnikovKernel(), nil
	case KernelTriangular, "tri":
		return NewTriangularKernel(), nil
	case KernelBiweight:
		return NewBiweightKernel(), nil
	case KernelTopHat, "tophat":
		return NewTopHatKernel(), nil
	}
	return nil, fmt.Errorf("%w: unknown kernel %q", common.ErrorInvalidMethod, name)
}

// evaluationWindow is how far from a grid point observations can still contribute.
func evaluationWindow(k Kernel, bw float64) float64 {
	support := k.Support()
	if math.IsInf(support, 1) {
		support = gaussianTail
	}
	return support * bw
}
