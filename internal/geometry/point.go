// Package geometry holds the frame-pixel geometry used by the region counter:
// points, object shapes and the counting region itself.
package geometry

import (
	"image"
	"math"
)

// Point is a position in frame-pixel coordinates (origin top-left, y down).
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Cross returns the z component of the cross product p x q.
func (p Point) Cross(q Point) float64 {
	return p.X*q.Y - p.Y*q.X
}

// Image rounds p to the nearest pixel.
func (p Point) Image() image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

// Shape is the bounding geometry of an observed object. Callers only rely
// on its centroid and its corner polygon.
type Shape interface {
	Centroid() Point
	Corners() []Point
}

// Box is an axis-aligned bounding box given by its top-left and
// bottom-right corners.
type Box struct {
	X1, Y1, X2, Y2 float64
}

func (b Box) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Corners returns the four corners clockwise from top-left.
func (b Box) Corners() []Point {
	return []Point{{b.X1, b.Y1}, {b.X2, b.Y1}, {b.X2, b.Y2}, {b.X1, b.Y2}}
}

// OrientedBox is a rotated rectangle: center, size and rotation in radians.
type OrientedBox struct {
	CX, CY, W, H, Angle float64
}

func (o OrientedBox) Centroid() Point {
	return Point{X: o.CX, Y: o.CY}
}

func (o OrientedBox) Corners() []Point {
	cos, sin := math.Cos(o.Angle), math.Sin(o.Angle)
	hw, hh := o.W/2, o.H/2
	offsets := [4][2]float64{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}}
	corners := make([]Point, 0, 4)
	for _, off := range offsets {
		corners = append(corners, Point{
			X: o.CX + off[0]*cos - off[1]*sin,
			Y: o.CY + off[0]*sin + off[1]*cos,
		})
	}
	return corners
}

var (
	_ Shape = Box{}
	_ Shape = OrientedBox{}
)
