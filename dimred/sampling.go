package dimred

import (
	"context"
	"fmt"
	"runtime"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/sampling"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SamplingOptions struct {
	Size   sampling.SampleSize
	Method string
	Sample sampling.SampleOptions
}

func DefaultSamplingOptions() SamplingOptions {
	return SamplingOptions{
		Size:   sampling.Count(10000),
		Method: sampling.MethodUniform,
		Sample: sampling.DefaultSampleOptions(),
	}
}

// DimensionReductionWithSampling fits reducer on a sample of frame and embeds
// the remaining rows in chunks the size of the sample. Rows come back ordered
// by their original index. Embeddings of a method without a transform are not
// comparable across chunks.
func DimensionReductionWithSampling(ctx context.Context, frame *model.Frame, features []string,
	reducer *DimensionReduction, opts SamplingOptions) (*model.Frame, error) {
	logger := utils.GetLogger(ctx)

	if reducer == nil {
		return nil, fmt.Errorf("%w: nil reducer", common.ErrorInvalidMethod)
	}
	sample, err := sampling.SampleFrame(ctx, frame, opts.Size, opts.Method, opts.Sample)
	if err != nil {
		return nil, err
	}
	if sample.IsEmpty() {
		return nil, fmt.Errorf("%w: empty training sample", common.ErrorInvalidValue)
	}

	embedded, err := reducer.Fit(ctx, sample, features)
	if err != nil {
		return nil, err
	}
	if embedded == nil {
		if embedded, err = reducer.Transform(ctx, sample, features); err != nil {
			return nil, err
		}
	}

	inSample := make(map[int]struct{}, sample.Rows())
	for _, i := range sample.Index {
		inSample[i] = struct{}{}
	}
	remaining := []int{}
	for k, i := range frame.Index {
		if _, ok := inSample[i]; !ok {
			remaining = append(remaining, k)
		}
	}

	chunk := sample.Rows()
	nChunks := (len(remaining) + chunk - 1) / chunk
	parts := make([]*model.Frame, nChunks+1)
	parts[0] = embedded

	embedChunk := func(c int) error {
		rows := remaining[c*chunk : min((c+1)*chunk, len(remaining))]
		res, err := reducer.Transform(ctx, frame.Subset(rows), features)
		if err != nil {
			return err
		}
		parts[c+1] = res
		return nil
	}

	if _, ok := reducer.Method().(Transformer); ok {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for c := 0; c < nChunks; c++ {
			c := c
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return embedChunk(c)
			})
		}
		err = g.Wait()
	} else {
		// fit transform replaces the fitted state, chunks must not overlap
		for c := 0; c < nChunks && err == nil; c++ {
			err = embedChunk(c)
		}
	}
	if err != nil {
		return nil, err
	}

	logger.Info("dimension reduction with sampling", zap.String("method", reducer.Name()),
		zap.Int("sample", sample.Rows()), zap.Int("chunks", nChunks))
	res, err := model.Concat(parts...)
	if err != nil {
		return nil, err
	}
	return res.SortByIndex(), nil
}
