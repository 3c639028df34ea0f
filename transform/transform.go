// Package transform scales cytometry channels for display and analysis.
package transform

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

const (
	MethodAsinh    = "asinh"
	MethodLogicle  = "logicle"
	MethodHyperlog = "hyperlog"
	MethodLog      = "log"
)

type Transformer interface {
	Name() string
	Scale(v []float64) []float64
	InverseScale(v []float64) []float64
}

// NewTransformer builds a transformer by name. Unknown parameter names are rejected.
func NewTransformer(method string, params map[string]float64) (Transformer, error) {
	var (
		t     Transformer
		refs  map[string]*float64
		setup func() error
	)
	switch strings.ToLower(method) {
	case MethodAsinh:
		a := NewAsinhTransformer()
		t, refs, setup = a, map[string]*float64{"cofactor": &a.Cofactor}, a.validate
	case MethodLogicle:
		l := NewLogicleTransformer()
		t, refs, setup = l, l.paramRefs(), l.init
	case MethodHyperlog:
		h := NewHyperlogTransformer()
		t, refs, setup = h, h.paramRefs(), h.init
	case MethodLog:
		l := NewLogTransformer()
		t, refs, setup = l, map[string]*float64{"base": &l.Base, "offset": &l.Offset}, l.validate
	default:
		return nil, fmt.Errorf("%w: unknown transform %q", common.ErrorInvalidMethod, method)
	}
	if err := applyParams(params, refs, setup); err != nil {
		return nil, err
	}
	return t, nil
}

func applyParams(params map[string]float64, refs map[string]*float64, validate func() error) error {
	for name, v := range params {
		ref, ok := refs[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("%w: unknown transform parameter %q", common.ErrorInvalidValue, name)
		}
		*ref = v
	}
	return validate()
}

// ApplyTransform returns a copy of the frame with the features scaled by method.
// Empty features means every column.
func ApplyTransform(ctx context.Context, frame *model.Frame, features []string, method string,
	params map[string]float64) (*model.Frame, Transformer, error) {
	t, err := NewTransformer(method, params)
	if err != nil {
		return nil, nil, err
	}
	res, err := scaleFrame(frame, features, t.Scale)
	if err != nil {
		return nil, nil, err
	}
	utils.GetLogger(ctx).Debug("transform applied", zap.String("method", t.Name()), zap.Strings("features", features))
	return res, t, nil
}

// InverseTransform undoes a transformer on the given features.
func InverseTransform(frame *model.Frame, features []string, t Transformer) (*model.Frame, error) {
	return scaleFrame(frame, features, t.InverseScale)
}

// ApplyTransformMap scales each feature with its own method. params holds the
// parameters of each method, keyed by method name.
func ApplyTransformMap(ctx context.Context, frame *model.Frame, featureMethod map[string]string,
	params map[string]map[string]float64) (*model.Frame, error) {
	res := frame.Clone()
	for feature, method := range featureMethod {
		var err error
		res, _, err = ApplyTransform(ctx, res, []string{feature}, method, params[strings.ToLower(method)])
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", feature, err)
		}
	}
	return res, nil
}

func scaleFrame(frame *model.Frame, features []string, scale func([]float64) []float64) (*model.Frame, error) {
	if len(features) == 0 {
		features = frame.Columns
	}
	n := frame.Rows()
	if n == 0 {
		return frame.Clone(), nil
	}
	values := mat.NewDense(n, len(features), nil)
	for k, name := range features {
		col, err := frame.Column(name)
		if err != nil {
			return nil, err
		}
		values.SetCol(k, scale(col))
	}
	return frame.WithColumns(features, values)
}

func mapValues(v []float64, f func(float64) float64) []float64 {
	res := make([]float64, len(v))
	for i, x := range v {
		res[i] = f(x)
	}
	return res
}

type AsinhTransformer struct {
	Cofactor float64
}

func NewAsinhTransformer() *AsinhTransformer {
	return &AsinhTransformer{Cofactor: 5}
}

func (t *AsinhTransformer) Name() string { return MethodAsinh }

func (t *AsinhTransformer) validate() error {
	if !(t.Cofactor > 0) {
		return fmt.Errorf("%w: asinh cofactor must be positive", common.ErrorInvalidValue)
	}
	return nil
}

func (t *AsinhTransformer) Scale(v []float64) []float64 {
	return mapValues(v, func(x float64) float64 { return math.Asinh(x / t.Cofactor) })
}

func (t *AsinhTransformer) InverseScale(v []float64) []float64 {
	return mapValues(v, func(y float64) float64 { return math.Sinh(y) * t.Cofactor })
}

// LogTransformer is log_base(x + Offset), values at or below -Offset map to -Inf.
type LogTransformer struct {
	Base   float64
	Offset float64
}

func NewLogTransformer() *LogTransformer {
	return &LogTransformer{Base: 10}
}

func (t *LogTransformer) Name() string { return MethodLog }

func (t *LogTransformer) validate() error {
	if !(t.Base > 1) {
		return fmt.Errorf("%w: log base must be greater than 1", common.ErrorInvalidValue)
	}
	return nil
}

func (t *LogTransformer) Scale(v []float64) []float64 {
	lb := math.Log(t.Base)
	return mapValues(v, func(x float64) float64 {
		if x+t.Offset <= 0 {
			return math.Inf(-1)
		}
		return math.Log(x+t.Offset) / lb
	})
}

func (t *LogTransformer) InverseScale(v []float64) []float64 {
	return mapValues(v, func(y float64) float64 { return math.Pow(t.Base, y) - t.Offset })
}
