package dimred

import (
	"fmt"
	"math"

	"github.com/uyouii/cytometry-algorithms/common"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MDS is classical (Torgerson) multidimensional scaling on euclidean
// distances. It has no out of sample transform.
type MDS struct {
	NComponents int
	// Eigenvalues of the double centred squared distance matrix, largest first.
	Eigenvalues []float64
}

func NewMDS(nComponents int, params map[string]float64) (*MDS, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	return &MDS{NComponents: nComponents}, nil
}

func (m *MDS) FitTransform(x mat.Matrix) (*mat.Dense, error) {
	r, _ := x.Dims()
	if r < 2 {
		return nil, fmt.Errorf("%w: MDS needs at least 2 rows, got %d", common.ErrorDegenerateSample, r)
	}
	if m.NComponents > r {
		return nil, fmt.Errorf("%w: %d components from %d rows", common.ErrorInvalidValue, m.NComponents, r)
	}
	data := mat.DenseCopyOf(x)
	sq := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			d := floats.Distance(data.RawRowView(i), data.RawRowView(j), 2)
			sq.SetSym(i, j, d*d)
		}
	}
	vals, vecs, err := classicalScaling(sq, m.NComponents)
	if err != nil {
		return nil, err
	}
	m.Eigenvalues = vals
	return vecs, nil
}

// classicalScaling embeds the points whose squared pairwise distances are sq
// into n coordinates, returning the eigenvalues behind each coordinate.
func classicalScaling(sq *mat.SymDense, n int) ([]float64, *mat.Dense, error) {
	b, _, _ := doubleCenter(sq)
	b.ScaleSym(-0.5, b)

	vals, vecs, err := topEigen(b, n)
	if err != nil {
		return nil, nil, err
	}
	for c, v := range vals {
		col := mat.Col(nil, c, vecs)
		floats.Scale(math.Sqrt(math.Max(v, 0)), col)
		vecs.SetCol(c, col)
	}
	return vals, vecs, nil
}
