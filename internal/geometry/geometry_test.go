package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegion(t *testing.T) {
	tests := []struct {
		name    string
		points  []Point
		kind    Kind
		wantErr bool
	}{
		{"empty", nil, 0, true},
		{"single point", []Point{{1, 1}}, 0, true},
		{"repeated point", []Point{{1, 1}, {1, 1}}, 0, true},
		{"line", []Point{{0, 0}, {0, 10}}, KindLine, false},
		{"triangle", []Point{{0, 0}, {10, 0}, {0, 10}}, KindPolygon, false},
		{"nan", []Point{{0, 0}, {math.NaN(), 1}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegion(tt.points)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, r.Kind())
		})
	}
}

func TestNewRegionSentinel(t *testing.T) {
	_, err := NewRegion([]Point{{3, 4}})
	assert.True(t, errors.Is(err, ErrTooFewPoints))
}

func TestRegionCopiesPoints(t *testing.T) {
	pts := []Point{{0, 0}, {0, 10}}
	r := MustRegion(pts...)
	pts[0] = Point{99, 99}
	assert.Equal(t, Point{0, 0}, r.Points()[0])

	got := r.Points()
	got[1] = Point{5, 5}
	assert.Equal(t, Point{0, 10}, r.Points()[1])
}

func TestClassifyLine(t *testing.T) {
	// Vertical line at x=100 drawn top to bottom.
	r := MustRegion(Pt(100, 0), Pt(100, 100))

	assert.Equal(t, StatusSideA, r.Classify(Pt(50, 50)))
	assert.Equal(t, StatusSideB, r.Classify(Pt(150, 50)))
	assert.Equal(t, StatusSideB, r.Classify(Pt(100, 50)), "points on the line resolve to side B")
	assert.Equal(t, StatusSideB, r.Classify(Pt(100, 500)), "the line is infinite")

	reversed := MustRegion(Pt(100, 100), Pt(100, 0))
	assert.Equal(t, StatusSideB, reversed.Classify(Pt(50, 50)))
	assert.Equal(t, StatusSideA, reversed.Classify(Pt(150, 50)))
}

func TestClassifyPolygon(t *testing.T) {
	r := MustRegion(Pt(0, 0), Pt(10, 0), Pt(10, 10), Pt(0, 10))

	tests := []struct {
		name string
		p    Point
		want Status
	}{
		{"center", Pt(5, 5), StatusInside},
		{"outside", Pt(15, 5), StatusOutside},
		{"on edge", Pt(10, 5), StatusInside},
		{"on vertex", Pt(0, 0), StatusInside},
		{"collinear with edge but outside", Pt(12, 0), StatusOutside},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Classify(tt.p))
		})
	}
}

func TestPolygonConcave(t *testing.T) {
	// U shape opening upwards.
	pg := Polygon{{0, 0}, {3, 0}, {3, 3}, {2, 3}, {2, 1}, {1, 1}, {1, 3}, {0, 3}}
	assert.True(t, pg.Contains(Pt(0.5, 2)))
	assert.False(t, pg.Contains(Pt(1.5, 2)))
	assert.True(t, pg.Contains(Pt(1.5, 0.5)))
}

func TestTransition(t *testing.T) {
	assert.Equal(t, DirectionIn, Transition(StatusSideA, StatusSideB))
	assert.Equal(t, DirectionOut, Transition(StatusSideB, StatusSideA))
	assert.Equal(t, DirectionIn, Transition(StatusOutside, StatusInside))
	assert.Equal(t, DirectionOut, Transition(StatusInside, StatusOutside))
	assert.Equal(t, DirectionNone, Transition(StatusSideA, StatusSideA))
	assert.Equal(t, DirectionNone, Transition(StatusUnknown, StatusInside))
}

func TestSegmentsIntersect(t *testing.T) {
	assert.True(t, SegmentsIntersect(Pt(0, 0), Pt(10, 10), Pt(0, 10), Pt(10, 0)))
	assert.False(t, SegmentsIntersect(Pt(0, 0), Pt(1, 1), Pt(5, 0), Pt(5, 10)))
	assert.True(t, SegmentsIntersect(Pt(0, 5), Pt(5, 5), Pt(5, 0), Pt(5, 10)), "touching endpoint")
	assert.True(t, SegmentsIntersect(Pt(0, 0), Pt(4, 0), Pt(2, 0), Pt(8, 0)), "collinear overlap")
	assert.False(t, SegmentsIntersect(Pt(0, 0), Pt(1, 0), Pt(2, 0), Pt(8, 0)), "collinear disjoint")
}

func TestRegionCrosses(t *testing.T) {
	line := MustRegion(Pt(100, 0), Pt(100, 100))
	assert.True(t, line.Crosses(Pt(50, 50), Pt(150, 50)))
	assert.False(t, line.Crosses(Pt(50, 200), Pt(150, 200)), "passes below the segment")

	box := MustRegion(Pt(0, 0), Pt(10, 0), Pt(10, 10))
	assert.True(t, box.Crosses(Pt(100, 100), Pt(200, 200)))
}

func TestShapes(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 30, Y2: 60}
	assert.Equal(t, Pt(20, 40), b.Centroid())
	assert.Len(t, b.Corners(), 4)

	o := OrientedBox{CX: 5, CY: 5, W: 4, H: 2, Angle: math.Pi / 2}
	assert.Equal(t, Pt(5, 5), o.Centroid())
	c := o.Corners()
	require.Len(t, c, 4)
	// Rotated by 90 degrees the first corner (-2,-1) maps to (1,-2).
	assert.InDelta(t, 6, c[0].X, 1e-9)
	assert.InDelta(t, 3, c[0].Y, 1e-9)
}

func TestParsePoints(t *testing.T) {
	pts, err := ParsePoints(" 100,0 ; 100,480 ")
	require.NoError(t, err)
	assert.Equal(t, []Point{{100, 0}, {100, 480}}, pts)

	_, err = ParsePoints("1,2;3")
	assert.Error(t, err)
	_, err = ParsePoints("a,2;3,4")
	assert.Error(t, err)
	_, err = ParsePoints("")
	assert.ErrorIs(t, err, ErrTooFewPoints)

	r := MustRegion(pts...)
	again, err := ParsePoints(r.String())
	require.NoError(t, err)
	assert.Equal(t, pts, again)
}

func TestPresetPoints(t *testing.T) {
	line, err := PresetPoints(PresetLine, 640, 480)
	require.NoError(t, err)
	assert.Equal(t, []Point{{213, 0}, {213, 480}}, line)

	box, err := PresetPoints(PresetBox, 640, 480)
	require.NoError(t, err)
	assert.Equal(t, []Point{{213, 0}, {213, 480}, {480, 480}, {480, 0}}, box)

	full, err := PresetPoints(PresetFull, 640, 480)
	require.NoError(t, err)
	assert.Len(t, full, 4)

	_, err = PresetPoints("circle", 640, 480)
	assert.Error(t, err)
}
