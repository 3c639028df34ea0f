package geometry

import (
	"fmt"
	"math"

	"github.com/fogleman/delaunay"
	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
)

func alphaShape(points []model.Point, alpha float64) (model.Polygon, error) {
	pts := make([]delaunay.Point, len(points))
	for i, p := range points {
		pts[i] = delaunay.Point{X: p.X, Y: p.Y}
	}
	tri, err := delaunay.Triangulate(pts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorGeometry, err)
	}

	nTri := len(tri.Triangles) / 3
	kept := make([]bool, nTri)
	found := false
	for t := 0; t < nTri; t++ {
		a := pts[tri.Triangles[3*t]]
		b := pts[tri.Triangles[3*t+1]]
		c := pts[tri.Triangles[3*t+2]]
		kept[t] = circumradius(a, b, c) < 1/alpha
		found = found || kept[t]
	}
	if !found {
		return nil, fmt.Errorf("%w: alpha %v removes every triangle", common.ErrorGeometry, alpha)
	}

	// boundary half edges of the kept triangles, keyed by start vertex
	next := map[int][]int{}
	edges := 0
	for e, v := range tri.Triangles {
		if !kept[e/3] {
			continue
		}
		if twin := tri.Halfedges[e]; twin >= 0 && kept[twin/3] {
			continue
		}
		next[v] = append(next[v], tri.Triangles[nextHalfedge(e)])
		edges++
	}

	var best model.Polygon
	bestArea := -1.0
	for edges > 0 {
		var start int
		for v, out := range next {
			if len(out) > 0 {
				start = v
				break
			}
		}
		ring := model.Polygon{}
		for v := start; ; {
			out := next[v]
			if len(out) == 0 {
				break
			}
			ring = append(ring, points[v])
			next[v] = out[1:]
			edges--
			v = out[0]
			if v == start && len(next[v]) == 0 {
				break
			}
		}
		if area := math.Abs(signedArea(ring)); len(ring) >= 3 && area > bestArea {
			best, bestArea = ring, area
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: alpha shape has no area", common.ErrorGeometry)
	}
	if signedArea(best) < 0 {
		for i, j := 0, len(best)-1; i < j; i, j = i+1, j-1 {
			best[i], best[j] = best[j], best[i]
		}
	}
	return best, nil
}

func nextHalfedge(e int) int {
	if e%3 == 2 {
		return e - 2
	}
	return e + 1
}

func circumradius(a, b, c delaunay.Point) float64 {
	ab := math.Hypot(b.X-a.X, b.Y-a.Y)
	bc := math.Hypot(c.X-b.X, c.Y-b.Y)
	ca := math.Hypot(a.X-c.X, a.Y-c.Y)
	area2 := math.Abs((b.X-a.X)*(c.Y-a.Y) - (c.X-a.X)*(b.Y-a.Y))
	if area2 == 0 {
		return math.Inf(1)
	}
	return ab * bc * ca / (2 * area2)
}
