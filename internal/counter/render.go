package counter

import (
	"fmt"
	"image"
	"image/color"

	"crosscount/internal/annotate"
	"crosscount/internal/frame"
	"crosscount/internal/geometry"
)

// Style controls the counter overlay
type Style struct {
	RegionColor color.RGBA
	TextColor   color.RGBA
	Thickness   int
	TrailRadius int
	Trails      bool
	Labels      bool
	CountsAt    image.Point // Top-left corner of the counts label
}

// DefaultStyle draws the region in red, with labels and trails.
func DefaultStyle() Style {
	return Style{
		RegionColor: annotate.Red,
		TextColor:   annotate.White,
		Thickness:   2,
		TrailRadius: 1,
		Trails:      true,
		Labels:      true,
		CountsAt:    image.Pt(10, 10),
	}
}

// render draws the region, the tracks and the counts onto a copy of f.
// Shapes and labels are drawn only for tracks seen in the current frame
// and only when live is set.
func (c *Counter) render(f *frame.Frame, live bool) *frame.Frame {
	img := frame.RGBA(f.Image)
	s := c.style

	pts := c.cfg.Region.Points()
	ring := make([]image.Point, len(pts))
	for i, p := range pts {
		ring[i] = p.Image()
	}
	annotate.Polyline(img, ring, c.cfg.Region.Kind() == geometry.KindPolygon, s.RegionColor, s.Thickness)

	for _, id := range c.trackIDs() {
		rec := c.records[id]
		col := annotate.TrackColor(id)

		if s.Trails {
			for i := 1; i < len(rec.history); i++ {
				annotate.Line(img, rec.history[i-1].Image(), rec.history[i].Image(), col, 1)
			}
			for _, p := range rec.history {
				annotate.Dot(img, p.Image(), s.TrailRadius, col)
			}
		}

		if !live || !rec.visible || rec.shape == nil {
			continue
		}
		corners := rec.shape.Corners()
		box := make([]image.Point, len(corners))
		for i, p := range corners {
			box[i] = p.Image()
		}
		annotate.Polyline(img, box, true, col, s.Thickness)

		if s.Labels {
			top := topLeft(box)
			label := fmt.Sprintf("#%d", id)
			if rec.class != "" {
				label = fmt.Sprintf("#%d %s", id, rec.class)
			}
			annotate.Label(img, top.X, top.Y-14, label, s.TextColor)
		}
	}

	annotate.Label(img, s.CountsAt.X, s.CountsAt.Y, fmt.Sprintf("%s  In: %d  Out: %d", c.cfg.Name, c.in, c.out), s.TextColor)
	return f.WithImage(img)
}

func topLeft(pts []image.Point) image.Point {
	tl := pts[0]
	for _, p := range pts[1:] {
		if p.Y < tl.Y || (p.Y == tl.Y && p.X < tl.X) {
			tl = p
		}
	}
	return tl
}
