package dimred

import (
	"fmt"
	"math"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/neighbours"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"
)

const DefaultIsomapNeighbours = 5

// Isomap runs classical MDS on geodesic distances, the shortest paths through
// the k nearest neighbour graph of the rows. It has no out of sample transform.
type Isomap struct {
	NComponents int
	NNeighbours int
	Eigenvalues []float64
}

// NewIsomap accepts the parameter "n_neighbors".
func NewIsomap(nComponents int, params map[string]float64) (*Isomap, error) {
	if err := checkParams(params, "n_neighbors"); err != nil {
		return nil, err
	}
	m := &Isomap{NComponents: nComponents, NNeighbours: DefaultIsomapNeighbours}
	if k, ok := params["n_neighbors"]; ok {
		if k < 1 || k != math.Trunc(k) {
			return nil, fmt.Errorf("%w: n_neighbors must be a positive integer, got %v", common.ErrorInvalidValue, k)
		}
		m.NNeighbours = int(k)
	}
	return m, nil
}

func (m *Isomap) FitTransform(x mat.Matrix) (*mat.Dense, error) {
	r, _ := x.Dims()
	if r < 2 {
		return nil, fmt.Errorf("%w: Isomap needs at least 2 rows, got %d", common.ErrorDegenerateSample, r)
	}
	if m.NComponents > r {
		return nil, fmt.Errorf("%w: %d components from %d rows", common.ErrorInvalidValue, m.NComponents, r)
	}
	data := mat.DenseCopyOf(x)
	tree := neighbours.NewTree(data, 2)

	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < r; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < r; i++ {
		row := data.RawRowView(i)
		for _, j := range tree.KNearest(row, m.NNeighbours+1) {
			if j == i {
				continue
			}
			d := floats.Distance(row, data.RawRowView(j), 2)
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), d))
		}
	}

	paths := path.DijkstraAllPaths(g)
	sq := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			d := paths.Weight(int64(i), int64(j))
			if math.IsInf(d, 0) {
				return nil, fmt.Errorf("%w: neighbour graph is disconnected, increase n_neighbors (%d)",
					common.ErrorDegenerateSample, m.NNeighbours)
			}
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
