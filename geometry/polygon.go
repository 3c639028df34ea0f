// Package geometry holds the shapes used to gate events in one or two dimensions.
package geometry

import (
	"context"
	"fmt"
	"math"
	"sort"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/utils"
)

// normalize drops repeated consecutive vertices and the closing vertex.
func normalize(poly model.Polygon) model.Polygon {
	res := make(model.Polygon, 0, len(poly))
	for _, p := range poly {
		if len(res) > 0 && res[len(res)-1] == p {
			continue
		}
		res = append(res, p)
	}
	if len(res) > 1 && res[0] == res[len(res)-1] {
		res = res[:len(res)-1]
	}
	return res
}

func signedArea(poly model.Polygon) float64 {
	var sum float64
	n := len(poly)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return sum / 2
}

// PolygonArea is the absolute shoelace area of a simple polygon.
func PolygonArea(poly model.Polygon) float64 {
	return math.Abs(signedArea(normalize(poly)))
}

// PointInPolygon uses ray casting, points on an edge may fall either way.
func PointInPolygon(p model.Point, poly model.Polygon) bool {
	return pointInRing(p, normalize(poly))
}

func pointInRing(p model.Point, ring model.Polygon) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// PolygonMask reports for every (x, y) pair whether it falls inside poly.
func PolygonMask(ctx context.Context, x, y []float64, poly model.Polygon) ([]bool, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d x values, %d y values", common.ErrorDimensionMismatch, len(x), len(y))
	}
	ring := normalize(poly)
	if len(ring) < 3 {
		return nil, fmt.Errorf("%w: polygon needs at least 3 vertices", common.ErrorGeometry)
	}
	mask := make([]bool, len(x))
	err := utils.ParallelRange(ctx, len(x), func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			mask[i] = pointInRing(model.Point{X: x[i], Y: y[i]}, ring)
		}
		return nil
	})
	return mask, err
}

// InsidePolygon returns the rows of frame whose (x, y) channels fall inside poly.
func InsidePolygon(ctx context.Context, frame *model.Frame, x, y string, poly model.Polygon) (*model.Frame, error) {
	xs, err := frame.Column(x)
	if err != nil {
		return nil, err
	}
	ys, err := frame.Column(y)
	if err != nil {
		return nil, err
	}
	mask, err := PolygonMask(ctx, xs, ys, poly)
	if err != nil {
		return nil, err
	}
	return frame.Subset(maskIndexes(mask)), nil
}

func maskIndexes(mask []bool) []int {
	res := []int{}
	for i, in := range mask {
		if in {
			res = append(res, i)
		}
	}
	return res
}

// PolygonOverlap is the fraction of poly1's area covered by poly2. It is 0
// when the polygons do not overlap or the fraction is below threshold.
// Either polygon may be concave.
func PolygonOverlap(poly1, poly2 model.Polygon, threshold float64) (float64, error) {
	subject, clip := normalize(poly1), normalize(poly2)
	if len(subject) < 3 || len(clip) < 3 {
		return 0, fmt.Errorf("%w: polygon needs at least 3 vertices", common.ErrorGeometry)
	}
	area := math.Abs(signedArea(subject))
	if area == 0 {
		return 0, fmt.Errorf("%w: polygon has no area", common.ErrorGeometry)
	}

	overlap := RingsArea(Intersection(subject, clip)) / area
	if overlap > 0 && overlap >= threshold {
		return overlap, nil
	}
	return 0, nil
}

// Intersection returns the rings bounding the region covered by both
// polygons. A ring nested inside an odd number of other rings is a hole.
func Intersection(a, b model.Polygon) []model.Polygon {
	res := toClip(a).Construct(polyclip.INTERSECTION, toClip(b))
	rings := make([]model.Polygon, 0, len(res))
	for _, c := range res {
		ring := make(model.Polygon, len(c))
		for i, p := range c {
			ring[i] = model.Point{X: p.X, Y: p.Y}
		}
		if ring = normalize(ring); len(ring) >= 3 {
			rings = append(rings, ring)
		}
	}
	return rings
}

// RingsArea is the area enclosed by rings, holes subtracted.
func RingsArea(rings []model.Polygon) float64 {
	var area float64
	for i, ring := range rings {
		depth := 0
		for j, other := range rings {
			if i != j && pointInRing(ring[0], other) {
				depth++
			}
		}
		if depth%2 == 0 {
			area += math.Abs(signedArea(ring))
		} else {
			area -= math.Abs(signedArea(ring))
		}
	}
	return math.Max(area, 0)
}

func toClip(poly model.Polygon) polyclip.Polygon {
	ring := normalize(poly)
	c := make(polyclip.Contour, len(ring))
	for i, p := range ring {
		c[i] = polyclip.Point{X: p.X, Y: p.Y}
	}
	return polyclip.Polygon{c}
}

// CreateEnvelope wraps the points in their convex hull when alpha is 0.
// A positive alpha gives the concave alpha shape: the union of the Delaunay
// triangles with circumradius below 1/alpha. When that union falls apart the
// largest piece is returned, holes are not reported.
func CreateEnvelope(points []model.Point, alpha float64) (model.Polygon, error) {
	if alpha < 0 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("%w: alpha must not be negative, got %v", common.ErrorGeometry, alpha)
	}
	if alpha == 0 {
		hull := ConvexHull(points)
		if len(hull) < 3 {
			return nil, fmt.Errorf("%w: not enough distinct points for an envelope", common.ErrorGeometry)
		}
		return hull, nil
	}
	return alphaShape(points, alpha)
}

// ConvexHull is Andrew's monotone chain, returned counter clockwise without a closing vertex.
func ConvexHull(points []model.Point) model.Polygon {
	pts := append([]model.Point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
	if len(pts) < 3 {
		return normalize(pts)
	}

	cross := func(o, a, b model.Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	hull := make(model.Polygon, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
