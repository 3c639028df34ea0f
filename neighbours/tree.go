package neighbours

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// medianSamples is the number of values sampled to pick a splitting median.
const medianSamples = 100

// point is a row of the indexed matrix. Its tree distance is the squared
// L-norm distance, which bounds the squared gap along every axis from above
// for any norm >= 1, so kdtree pruning stays exact.
type point struct {
	index  int
	coords []float64
	norm   float64
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(point).coords[d]
}

func (p point) Dims() int { return len(p.coords) }

func (p point) Distance(c kdtree.Comparable) float64 {
	d := floats.Distance(p.coords, c.(point).coords, p.norm)
	return d * d
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }
func (p points) Pivot(d kdtree.Dim) int {
	pl := plane{points: p, dim: d}
	return kdtree.Partition(pl, kdtree.MedianOfRandoms(pl, medianSamples))
}

type plane struct {
	points
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.points[i].coords[p.dim] < p.points[j].coords[p.dim]
}
func (p plane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

// Tree indexes the rows of a matrix for nearest neighbour and radius queries
// under an L-norm. Queries are safe for concurrent use.
type Tree struct {
	tree *kdtree.Tree
	norm float64
	rows int
	cols int
}

// NewTree builds a k-d tree over the rows of data. The rows are referenced,
// not copied, so data must not change while the tree is in use.
func NewTree(data mat.RawMatrixer, norm float64) *Tree {
	raw := data.RawMatrix()
	pts := make(points, raw.Rows)
	for i := range pts {
		pts[i] = point{index: i, coords: raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols], norm: norm}
	}
	return &Tree{tree: kdtree.New(pts, false), norm: norm, rows: raw.Rows, cols: raw.Cols}
}

func (t *Tree) Len() int { return t.rows }

func (t *Tree) query(q []float64) point {
	return point{index: -1, coords: q, norm: t.norm}
}

// KNearest returns the indexes of the k rows closest to q, nearest first.
// Equal distances are ordered by row index.
func (t *Tree) KNearest(q []float64, k int) []int {
	if k < 1 || t.rows == 0 {
		return []int{}
	}
	keep := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keep, t.query(q))
	return indexes(keep.Heap)
}

// Within returns the indexes of the rows at distance r or less from q,
// nearest first.
func (t *Tree) Within(q []float64, r float64) []int {
	if r < 0 || t.rows == 0 {
		return []int{}
	}
	keep := kdtree.NewDistKeeper(r * r)
	t.tree.NearestSet(keep, t.query(q))
	return indexes(keep.Heap)
}

// CountWithin is the number of rows at distance r or less from q.
func (t *Tree) CountWithin(q []float64, r float64) int {
	return len(t.Within(q, r))
}

func indexes(h kdtree.Heap) []int {
	found := make([]kdtree.ComparableDist, 0, len(h))
	for _, c := range h {
		if c.Comparable != nil {
			found = append(found, c)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Dist != found[j].Dist {
			return found[i].Dist < found[j].Dist
		}
		return found[i].Comparable.(point).index < found[j].Comparable.(point).index
	})
	res := make([]int, len(found))
	for i, c := range found {
		res[i] = c.Comparable.(point).index
	}
	return res
}
