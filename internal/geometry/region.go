package geometry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrTooFewPoints is returned when a region has fewer than two distinct points.
var ErrTooFewPoints = errors.New("region needs at least two distinct points")

// eps absorbs float noise in the on-boundary tests.
const eps = 1e-9

// Kind distinguishes line regions from polygon regions.
type Kind int

const (
	KindLine Kind = iota
	KindPolygon
)

func (k Kind) String() string {
	if k == KindLine {
		return "line"
	}
	return "polygon"
}

// Status is where a reference point lies relative to a region.
type Status int

const (
	StatusUnknown Status = iota
	StatusSideA          // line: cross(p2-p1, c-p1) > 0
	StatusSideB          // line: cross(p2-p1, c-p1) <= 0
	StatusOutside        // polygon: strictly outside
	StatusInside         // polygon: inside or on the boundary
)

func (s Status) String() string {
	switch s {
	case StatusSideA:
		return "side_a"
	case StatusSideB:
		return "side_b"
	case StatusOutside:
		return "outside"
	case StatusInside:
		return "inside"
	default:
		return "unknown"
	}
}

// Direction of a counted transition.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
)

// Transition maps a status change to a direction. Side A to side B and
// outside to inside are inward; the reverse moves are outward.
func Transition(from, to Status) Direction {
	switch {
	case from == StatusSideA && to == StatusSideB, from == StatusOutside && to == StatusInside:
		return DirectionIn
	case from == StatusSideB && to == StatusSideA, from == StatusInside && to == StatusOutside:
		return DirectionOut
	default:
		return DirectionNone
	}
}

// Region is an immutable counting region: two points form a line, three or
// more form a closed polygon.
type Region struct {
	points []Point
}

// NewRegion validates points and builds a region from a copy of them.
func NewRegion(points []Point) (Region, error) {
	if len(points) < 2 {
		return Region{}, fmt.Errorf("%w: got %d", ErrTooFewPoints, len(points))
	}
	distinct := false
	for _, p := range points[1:] {
		if p != points[0] {
			distinct = true
			break
		}
	}
	if !distinct {
		return Region{}, ErrTooFewPoints
	}
	for _, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return Region{}, fmt.Errorf("region point %v is not finite", p)
		}
	}
	cp := make([]Point, len(points))
	copy(cp, points)
	return Region{points: cp}, nil
}

// MustRegion is NewRegion for literals known to be valid.
func MustRegion(points ...Point) Region {
	r, err := NewRegion(points)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Region) Kind() Kind {
	if len(r.points) == 2 {
		return KindLine
	}
	return KindPolygon
}

// Points returns a copy of the region vertices.
func (r Region) Points() []Point {
	cp := make([]Point, len(r.points))
	copy(cp, r.points)
	return cp
}

// IsZero reports whether r was never initialized through NewRegion.
func (r Region) IsZero() bool {
	return len(r.points) == 0
}

// Classify returns the status of p. Points exactly on a line resolve to
// side B; points on a polygon boundary are inside.
func (r Region) Classify(p Point) Status {
	if r.Kind() == KindLine {
		a, b := r.points[0], r.points[1]
		if b.Sub(a).Cross(p.Sub(a)) > 0 {
			return StatusSideA
		}
		return StatusSideB
	}
	if Polygon(r.points).Contains(p) {
		return StatusInside
	}
	return StatusOutside
}

// Crosses reports whether the movement from prev to cur intersects the
// finite line segment of a line region. Polygon regions always return true.
func (r Region) Crosses(prev, cur Point) bool {
	if r.Kind() != KindLine {
		return true
	}
	return SegmentsIntersect(prev, cur, r.points[0], r.points[1])
}

// String formats the region as "x,y;x,y;...", the same syntax ParsePoints reads.
func (r Region) String() string {
	parts := make([]string, 0, len(r.points))
	for _, p := range r.points {
		parts = append(parts, strconv.FormatFloat(p.X, 'f', -1, 64)+","+strconv.FormatFloat(p.Y, 'f', -1, 64))
	}
	return strings.Join(parts, ";")
}

// ParsePoints reads "x,y;x,y;..." into points.
func ParsePoints(s string) ([]Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrTooFewPoints
	}
	var points []Point
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		xy := strings.Split(pair, ",")
		if len(xy) != 2 {
			return nil, fmt.Errorf("invalid point %q: want x,y", pair)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid x in %q: %w", pair, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid y in %q: %w", pair, err)
		}
		points = append(points, Point{X: x, Y: y})
	}
	return points, nil
}

// Preset region shapes computed from the frame size.
const (
	PresetLine = "line"
	PresetBox  = "box"
	PresetFull = "full"
)

// PresetPoints returns the points of a named preset for a width x height
// frame. line is a vertical line at a third of the width; box spans from a
// third to three quarters of the width over the full height; full covers
// the whole frame.
func PresetPoints(name string, width, height int) ([]Point, error) {
	w, h := float64(width), float64(height)
	left := float64(width / 3)
	right := float64(3 * width / 4)
	switch name {
	case PresetLine:
		return []Point{{left, 0}, {left, h}}, nil
	case PresetBox:
		return []Point{{left, 0}, {left, h}, {right, h}, {right, 0}}, nil
	case PresetFull:
		return []Point{{0, 0}, {w, 0}, {w, h}, {0, h}}, nil
	default:
		return nil, fmt.Errorf("unknown region preset %q", name)
	}
}
