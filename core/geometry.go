package core

import "math"

// Point2D is a position on the playfield plane, in world units.
type Point2D struct {
	X, Y float64
}

// DistanceTo returns the straight-line distance between two points.
func (p Point2D) DistanceTo(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Sub returns p - other.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

// Norm returns the Euclidean norm of the point treated as a vector.
func (p Point2D) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y)
}

// Dot returns the dot product of two points treated as vectors.
func (p Point2D) Dot(other Point2D) float64 {
	return p.X*other.X + p.Y*other.Y
}

// OffsetPolar returns the point displaced by radius along the given
// angle (radians). The spiral fallback search and region sampling both
// generate candidates in polar form around an anchor point.
func (p Point2D) OffsetPolar(radius, angle float64) Point2D {
	return Point2D{
		X: p.X + radius*math.Cos(angle),
		Y: p.Y + radius*math.Sin(angle),
	}
}

// Rect is an axis-aligned bounding rectangle.
type Rect struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// Contains reports whether the point lies inside the rectangle,
// borders included.
func (r Rect) Contains(p Point2D) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Region is a circular sampling region used by optimal-position search.
type Region struct {
	Center Point2D
	Radius float64
}
