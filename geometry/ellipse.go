package geometry

import (
	"fmt"
	"math"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const DefaultEllipseVertices = 100

// InsideEllipse reports for every row (x, y) of data whether it falls inside e.
func InsideEllipse(data mat.Matrix, e model.Ellipse) ([]bool, error) {
	r, c := data.Dims()
	if c != 2 {
		return nil, fmt.Errorf("%w: need 2 columns, got %d", common.ErrorDimensionMismatch, c)
	}
	if !(e.Width > 0) || !(e.Height > 0) {
		return nil, fmt.Errorf("%w: ellipse axes must be positive", common.ErrorGeometry)
	}

	rad := (180.0 - e.Angle) * math.Pi / 180
	cosA, sinA := math.Cos(rad), math.Sin(rad)
	halfW, halfH := e.Width/2, e.Height/2

	mask := make([]bool, r)
	for i := 0; i < r; i++ {
		xc := data.At(i, 0) - e.Center.X
		yc := data.At(i, 1) - e.Center.Y
		xct := xc*cosA - yc*sinA
		yct := xc*sinA + yc*cosA
		mask[i] = (xct*xct)/(halfW*halfW)+(yct*yct)/(halfH*halfH) <= 1.0
	}
	return mask, nil
}

// ProbabilisticEllipse returns the width, height and angle (degrees) of the
// ellipse holding conf of the mass of a 2D gaussian with the given covariance.
// Width lies along the eigenvector of the smaller eigenvalue.
func ProbabilisticEllipse(cov mat.Symmetric, conf float64) (width, height, angle float64, err error) {
	if cov.SymmetricDim() != 2 {
		return 0, 0, 0, fmt.Errorf("%w: covariance must be 2x2", common.ErrorDimensionMismatch)
	}
	if !(conf > 0 && conf < 1) {
		return 0, 0, 0, fmt.Errorf("%w: confidence %v outside (0, 1)", common.ErrorInvalidValue, conf)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return 0, 0, 0, fmt.Errorf("%w: eigen decomposition failed", common.ErrorGeometry)
	}
	values := eig.Values(nil)
	if values[0] < 0 {
		return 0, 0, 0, fmt.Errorf("%w: covariance is not positive semi-definite", common.ErrorGeometry)
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	chi2 := distuv.ChiSquared{K: 2}.Quantile(conf)
	width = 2.0 * math.Sqrt(values[0]) * math.Sqrt(chi2)
	height = 2.0 * math.Sqrt(values[1]) * math.Sqrt(chi2)
	angle = math.Atan2(vectors.At(1, 0), vectors.At(0, 0)) * 180 / math.Pi
	return width, height, angle, nil
}

// EllipseToPolygon approximates e with n vertices, n < 3 uses DefaultEllipseVertices.
func EllipseToPolygon(e model.Ellipse, n int) model.Polygon {
	if n < 3 {
		n = DefaultEllipseVertices
	}
	rad := e.Angle * math.Pi / 180
	cosA, sinA := math.Cos(rad), math.Sin(rad)
	poly := make(model.Polygon, n)
	for i := range poly {
		t := 2 * math.Pi * float64(i) / float64(n)
		x := e.Width / 2 * math.Cos(t)
		y := e.Height / 2 * math.Sin(t)
		poly[i] = model.Point{
			X: e.Center.X + x*cosA - y*sinA,
			Y: e.Center.Y + x*sinA + y*cosA,
		}
	}
	return poly
}
