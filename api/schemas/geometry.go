// File: api/schemas/geometry.go
package schemas

import "math"

// Point is a screen coordinate pair.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DistanceTo returns the Euclidean distance between two points.
func (p Point) DistanceTo(other Point) float64 {
	dx := float64(p.X - other.X)
	dy := float64(p.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// BoundingBox is an axis-aligned rectangle on the screen.
// Width and Height are never negative; NewBoundingBox enforces this.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewBoundingBox builds a BoundingBox, clamping negative dimensions to zero.
// Negative X/Y are allowed for multi-monitor setups.
func NewBoundingBox(x, y, width, height int) BoundingBox {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return BoundingBox{X: x, Y: y, Width: width, Height: height}
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Area returns the surface of the box in pixels.
func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// Contains reports whether the point lies within the box (inclusive).
func (b BoundingBox) Contains(p Point) bool {
	return p.X >= b.X && p.X <= b.X+b.Width &&
		p.Y >= b.Y && p.Y <= b.Y+b.Height
}

// Intersection returns the overlapping region of two boxes, or a zero-area
// box when they do not overlap.
func (b BoundingBox) Intersection(other BoundingBox) BoundingBox {
	x1 := max(b.X, other.X)
	y1 := max(b.Y, other.Y)
	x2 := min(b.X+b.Width, other.X+other.Width)
	y2 := min(b.Y+b.Height, other.Y+other.Height)
	if x2 <= x1 || y2 <= y1 {
		return BoundingBox{}
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// OverlapRatio returns the intersection area divided by the smaller box's
// area. Result is in [0,1]; zero when either box has no area.
func (b BoundingBox) OverlapRatio(other BoundingBox) float64 {
	smaller := min(b.Area(), other.Area())
	if smaller == 0 {
		return 0
	}
	return float64(b.Intersection(other).Area()) / float64(smaller)
}
