package sampling

import (
	"context"
	"fmt"
	"sort"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/neighbours"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

const DefaultFaithfulRadius = 0.1

// FaithfulDownsample visits events in random order; every event not yet
// registered becomes a representative and registers all events within
// euclidean distance h. The indexes of the representatives are returned in
// ascending order.
func FaithfulDownsample(ctx context.Context, data *mat.Dense, h float64, src rand.Source) ([]int, error) {
	if !(h > 0) {
		return nil, fmt.Errorf("%w: radius must be positive, got %v", common.ErrorInvalidValue, h)
	}
	if data == nil {
		return []int{}, nil
	}
	rows, _ := data.Dims()
	tree := neighbours.NewTree(data, 2)
	registered := make([]bool, rows)
	representatives := []int{}

	for _, i := range rand.New(source(src)).Perm(rows) {
		if registered[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		registered[i] = true
		representatives = append(representatives, i)
		for _, j := range tree.Within(data.RawRowView(i), h) {
			registered[j] = true
		}
	}

	utils.GetLogger(ctx).Debug("faithful downsampling", zap.Int("n", rows), zap.Int("representatives", len(representatives)))
	sort.Ints(representatives)
	return representatives, nil
}
