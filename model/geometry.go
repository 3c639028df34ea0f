package model

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered ring of vertices, a closing vertex equal to the first is optional.
type Polygon []Point

// Ellipse follows the usual plotting convention: Width is the full axis length
// along Angle (degrees, counter clockwise from the x axis), Height the full
// length of the perpendicular axis.
type Ellipse struct {
	Center Point   `json:"center"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Angle  float64 `json:"angle"`
}
