// Package dimred reduces event tables to a few embedding columns. PCA, RBF
// kernel PCA, classical MDS, Isomap and t-SNE are built in, other methods
// plug in through the Method interface.
package dimred

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

const DefaultComponents = 2

// Method is a dimension reduction algorithm. It may also implement Fitter and
// Transformer to embed data it was not fitted on.
type Method interface {
	FitTransform(x mat.Matrix) (*mat.Dense, error)
}

type Fitter interface {
	Fit(x mat.Matrix) error
}

type Transformer interface {
	Transform(x mat.Matrix) (*mat.Dense, error)
}

// Factory builds a method with nComponents outputs from named parameters.
type Factory func(nComponents int, params map[string]float64) (Method, error)

var methods = map[string]Factory{
	MethodPCA:       func(n int, p map[string]float64) (Method, error) { return NewPCA(n, p) },
	MethodKernelPCA: func(n int, p map[string]float64) (Method, error) { return NewKernelPCA(n, p) },
	MethodMDS:       func(n int, p map[string]float64) (Method, error) { return NewMDS(n, p) },
	MethodIsomap:    func(n int, p map[string]float64) (Method, error) { return NewIsomap(n, p) },
	MethodTSNE:      func(n int, p map[string]float64) (Method, error) { return NewTSNE(n, p) },
}

// Register makes a method available to NewDimensionReduction under name.
// It is not safe to call concurrently with NewDimensionReduction.
func Register(name string, factory Factory) {
	methods[name] = factory
}

func Methods() []string {
	res := make([]string, 0, len(methods))
	for name := range methods {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// DimensionReduction runs a Method over frames, adding the embeddings as
// columns <Name>1..<Name>k to a copy of the input.
type DimensionReduction struct {
	method Method
	name   string

	// Embeddings of the last FitTransform.
	Embeddings *mat.Dense
}

// NewDimensionReduction builds a registered method by name.
func NewDimensionReduction(method string, nComponents int, params map[string]float64) (*DimensionReduction, error) {
	factory, ok := methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q, must be one of %s or a custom Method", common.ErrorInvalidMethod,
			method, strings.Join(Methods(), ", "))
	}
	if nComponents < 1 {
		return nil, fmt.Errorf("%w: n components must be positive, got %d", common.ErrorInvalidValue, nComponents)
	}
	m, err := factory(nComponents, params)
	if err != nil {
		return nil, err
	}
	return &DimensionReduction{method: m, name: method}, nil
}

// NewDimensionReductionFromMethod wraps a custom method, name prefixes the
// embedding columns.
func NewDimensionReductionFromMethod(name string, method Method) (*DimensionReduction, error) {
	if method == nil {
		return nil, fmt.Errorf("%w: nil method", common.ErrorInvalidMethod)
	}
	if name == "" {
		name = strings.TrimPrefix(fmt.Sprintf("%T", method), "*")
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
	}
	return &DimensionReduction{method: method, name: name}, nil
}

func (d *DimensionReduction) Name() string {
	return d.name
}

func (d *DimensionReduction) Method() Method {
	return d.method
}

func (d *DimensionReduction) columns(k int) []string {
	res := make([]string, k)
	for i := range res {
		res[i] = fmt.Sprintf("%s%d", d.name, i+1)
	}
	return res
}

func selectRows(frame *model.Frame, features []string) (*mat.Dense, error) {
	x, err := frame.Select(features)
	if err != nil {
		return nil, err
	}
	if x == nil {
		return nil, fmt.Errorf("%w: frame has no rows", common.ErrorInvalidValue)
	}
	return x, nil
}

func (d *DimensionReduction) embed(frame *model.Frame, embeddings *mat.Dense) (*model.Frame, error) {
	_, k := embeddings.Dims()
	return frame.WithColumns(d.columns(k), embeddings)
}

// Fit fits the method on the features of frame. A method that cannot be
// fitted alone is fitted with FitTransform and the embedded frame is returned,
// otherwise the returned frame is nil.
func (d *DimensionReduction) Fit(ctx context.Context, frame *model.Frame, features []string) (*model.Frame, error) {
	fitter, ok := d.method.(Fitter)
	if !ok {
		utils.GetLogger(ctx).Warn("method has no fit, calling fit transform instead", zap.String("method", d.name))
		return d.FitTransform(ctx, frame, features)
	}
	x, err := selectRows(frame, features)
	if err != nil {
		return nil, err
	}
	return nil, fitter.Fit(x)
}

func (d *DimensionReduction) FitTransform(ctx context.Context, frame *model.Frame, features []string) (*model.Frame, error) {
	x, err := selectRows(frame, features)
	if err != nil {
		return nil, err
	}
	embeddings, err := d.method.FitTransform(x)
	if err != nil {
		return nil, err
	}
	d.Embeddings = embeddings
	utils.GetLogger(ctx).Debug("fit transform", zap.String("method", d.name), zap.Int("rows", frame.Rows()))
	return d.embed(frame, embeddings)
}

// Transform embeds frame with the fitted method. Methods without an out of
// sample transform fall back to FitTransform.
func (d *DimensionReduction) Transform(ctx context.Context, frame *model.Frame, features []string) (*model.Frame, error) {
	transformer, ok := d.method.(Transformer)
	if !ok {
		utils.GetLogger(ctx).Warn("method has no transform, calling fit transform instead", zap.String("method", d.name))
		return d.FitTransform(ctx, frame, features)
	}
	x, err := selectRows(frame, features)
	if err != nil {
		return nil, err
	}
	embeddings, err := transformer.Transform(x)
	if err != nil {
		return nil, err
	}
	return d.embed(frame, embeddings)
}
