package transform

import (
	"fmt"
	"math"

	"github.com/uyouii/cytometry-algorithms/common"
)

const (
	bisectionIterations = 200
	bisectionTolerance  = 1e-14
)

// biexParams are the display parameters shared by logicle and hyperlog:
// T top of scale, W linearization width in decades, M decades at top of scale,
// A additional negative decades.
type biexParams struct {
	T float64
	W float64
	M float64
	A float64

	w, x1, b float64
}

func (p *biexParams) paramRefs() map[string]*float64 {
	return map[string]*float64{"t": &p.T, "w": &p.W, "m": &p.M, "a": &p.A}
}

func (p *biexParams) validate() error {
	switch {
	case !(p.T > 0):
		return fmt.Errorf("%w: T must be positive", common.ErrorInvalidValue)
	case !(p.M > 0):
		return fmt.Errorf("%w: M must be positive", common.ErrorInvalidValue)
	case p.W < 0 || p.A < 0:
		return fmt.Errorf("%w: W and A must not be negative", common.ErrorInvalidValue)
	case 2*p.W > p.M+p.A:
		return fmt.Errorf("%w: W is too large for M and A", common.ErrorInvalidValue)
	}
	p.w = p.W / (p.M + p.A)
	x2 := p.A / (p.M + p.A)
	p.x1 = x2 + p.w
	p.b = (p.M + p.A) * math.Ln10
	return nil
}

// scaleByInversion finds y with inverse(y) = x. inverse is odd around x1 and
// increasing, so only non-negative values are searched.
func (p *biexParams) scaleByInversion(x float64, inverse func(float64) float64) float64 {
	if math.IsNaN(x) {
		return x
	}
	if x < 0 {
		return 2*p.x1 - p.scaleByInversion(-x, inverse)
	}
	lo, hi := p.x1, 1.0
	for inverse(hi) < x {
		lo = hi
		hi += 1
		if math.IsInf(inverse(hi), 1) {
			return math.Inf(1)
		}
	}
	for i := 0; i < bisectionIterations && hi-lo > bisectionTolerance; i++ {
		mid := (lo + hi) / 2
		if inverse(mid) < x {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// reflect evaluates the positive branch of a biexponential, mirrored below x1.
func (p *biexParams) reflect(y float64, positive func(float64) float64) float64 {
	if y < p.x1 {
		return -positive(2*p.x1 - y)
	}
	return positive(y)
}

// LogicleTransformer is the logicle display of Parks, Roederer and Moore (2006).
type LogicleTransformer struct {
	biexParams
	a, c, d, f float64
}

func NewLogicleTransformer() *LogicleTransformer {
	t := &LogicleTransformer{biexParams: biexParams{T: 262144, W: 0.5, M: 4.5, A: 0}}
	if err := t.init(); err != nil {
		panic(err)
	}
	return t
}

func (t *LogicleTransformer) Name() string { return MethodLogicle }

func (t *LogicleTransformer) init() error {
	if err := t.biexParams.validate(); err != nil {
		return err
	}
	x0 := t.x1 + t.w
	t.d = solveLogicleD(t.b, t.w)

	ca := math.Exp(x0 * (t.b + t.d))
	mfa := math.Exp(t.b*t.x1) - ca/math.Exp(t.d*t.x1)
	t.a = t.T / ((math.Exp(t.b) - mfa) - ca/math.Exp(t.d))
	t.c = ca * t.a
	t.f = -mfa * t.a
	return nil
}

// solveLogicleD solves 2 (ln d - ln b) + w (b + d) = 0 for d in (0, b].
func solveLogicleD(b, w float64) float64 {
	if w == 0 {
		return b
	}
	fn := func(d float64) float64 { return 2*(math.Log(d)-math.Log(b)) + w*(b+d) }
	lo, hi := 0.0, b
	for i := 0; i < bisectionIterations && hi-lo > bisectionTolerance*b; i++ {
		mid := (lo + hi) / 2
		if fn(mid) < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func (t *LogicleTransformer) inverse(y float64) float64 {
	return t.reflect(y, func(v float64) float64 {
		return (t.a*math.Exp(t.b*v) + t.f) - t.c/math.Exp(t.d*v)
	})
}

func (t *LogicleTransformer) Scale(v []float64) []float64 {
	return mapValues(v, func(x float64) float64 { return t.scaleByInversion(x, t.inverse) })
}

func (t *LogicleTransformer) InverseScale(v []float64) []float64 {
	return mapValues(v, t.inverse)
}

// HyperlogTransformer is the hyperlog display of Bagwell (2005), linear around
// zero and logarithmic at the top of the scale.
type HyperlogTransformer struct {
	biexParams
	a, c, f float64
}

func NewHyperlogTransformer() *HyperlogTransformer {
	t := &HyperlogTransformer{biexParams: biexParams{T: 262144, W: 0.5, M: 4.5, A: 0}}
	if err := t.init(); err != nil {
		panic(err)
	}
	return t
}

func (t *HyperlogTransformer) Name() string { return MethodHyperlog }

func (t *HyperlogTransformer) init() error {
	if err := t.biexParams.validate(); err != nil {
		return err
	}
	if !(t.W > 0) {
		return fmt.Errorf("%w: hyperlog needs a positive W", common.ErrorInvalidValue)
	}
	x0 := t.x1 + t.w
	e0 := math.Exp(t.b * x0)
	ca := e0 / t.w
	fa := math.Exp(t.b*t.x1) + ca*t.x1
	t.a = t.T / (math.Exp(t.b) + ca - fa)
	t.c = ca * t.a
	t.f = fa * t.a
	return nil
}

func (t *HyperlogTransformer) inverse(y float64) float64 {
	return t.reflect(y, func(v float64) float64 {
		return t.a*math.Exp(t.b*v) + t.c*v - t.f
	})
}

func (t *HyperlogTransformer) Scale(v []float64) []float64 {
	return mapValues(v, func(x float64) float64 { return t.scaleByInversion(x, t.inverse) })
}

func (t *HyperlogTransformer) InverseScale(v []float64) []float64 {
	return mapValues(v, t.inverse)
}
