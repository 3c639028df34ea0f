package sampling

import (
	"context"
	"fmt"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/neighbours"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
)

// events with a retention probability above this are treated as low density
const lowDensityProbability = 0.5

type UpsampleOptions struct {
	DensityOptions
	// Factor scales how many copies of the low density events are appended.
	Factor float64
	// SampleSize, when set, uniformly down-samples the up-sampled frame.
	SampleSize *SampleSize
}

func DefaultUpsampleOptions() UpsampleOptions {
	return UpsampleOptions{DensityOptions: DefaultDensityOptions(), Factor: 2}
}

// UpsampleDensity appends copies of the events in sparse neighbourhoods, so
// rare populations weigh more in later steps. Outliers are never copied.
func UpsampleDensity(ctx context.Context, frame *model.Frame, opts UpsampleOptions) (*model.Frame, error) {
	logger := utils.GetLogger(ctx)

	if !(opts.Factor > 0) {
		return nil, fmt.Errorf("%w: upsample factor must be positive, got %v", common.ErrorInvalidValue, opts.Factor)
	}
	prob, err := opts.DensityOptions.probabilities(ctx, frame)
	if err != nil {
		return nil, err
	}

	low := []int{}
	for i, p := range prob {
		if p > lowDensityProbability {
			low = append(low, i)
		}
	}
	res := frame.Clone()
	if len(low) == 0 {
		logger.Warn("no low density events found, nothing to upsample")
	} else {
		copies := int(float64(frame.Rows()) * opts.Factor / float64(len(low)))
		sparse := frame.Subset(low)
		parts := make([]*model.Frame, 0, copies+1)
		parts = append(parts, res)
		for i := 0; i < copies; i++ {
			parts = append(parts, sparse)
		}
		if res, err = model.Concat(parts...); err != nil {
			return nil, err
		}
		logger.Info("upsampled low density events", zap.Int("lowDensity", len(low)),
			zap.Int("copies", copies), zap.Int("rows", res.Rows()))
	}

	if opts.SampleSize == nil {
		return res, nil
	}
	return UniformDownsample(ctx, res, *opts.SampleSize, opts.Src)
}

// UpsampleKNN carries labels of a sample back to the data it was drawn from
// with a k nearest neighbours classifier trained on the sample. k of 0 picks
// k by cross validation.
func UpsampleKNN(ctx context.Context, sample *model.Frame, labels []string, original *model.Frame,
	features []string, k int, metric string) ([]string, error) {
	logger := utils.GetLogger(ctx)

	x, err := sample.Select(features)
	if err != nil {
		return nil, err
	}
	if k == 0 {
		logger.Info("calculating optimal number of neighbours by cross validation")
		var score float64
		k, score, err = neighbours.CalculateOptimalNeighbours(ctx, x, labels, nil, 5, metric, defaultSeed)
		if err != nil {
			return nil, err
		}
		logger.Info("continuing with chosen number of neighbours", zap.Int("k", k),
			zap.Float64("balanced accuracy", utils.FormatFloat(score, 3)))
	}

	opts := neighbours.DefaultKNNOptions()
	opts.K = k
	opts.Metric = metric
	_, _, clf, err := neighbours.KNN(ctx, sample, features, labels, opts)
	if err != nil {
		return nil, err
	}

	data, err := original.Select(features)
	if err != nil {
		return nil, err
	}
	return clf.Predict(ctx, data)
}
