// Package annotate draws region, track and counter overlays onto frames.
package annotate

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Common overlay colors
var (
	Red    = color.RGBA{255, 0, 0, 255}
	Green  = color.RGBA{0, 255, 0, 255}
	Blue   = color.RGBA{0, 0, 255, 255}
	Yellow = color.RGBA{255, 255, 0, 255}
	White  = color.RGBA{255, 255, 255, 255}
	Black  = color.RGBA{0, 0, 0, 255}
)

// palette cycles per track so neighbouring ids get distinct colors
var palette = []color.RGBA{
	{255, 56, 56, 255},
	{255, 157, 151, 255},
	{255, 112, 31, 255},
	{255, 178, 29, 255},
	{207, 210, 49, 255},
	{72, 249, 10, 255},
	{146, 204, 23, 255},
	{61, 219, 134, 255},
	{26, 147, 52, 255},
	{0, 212, 187, 255},
	{44, 153, 168, 255},
	{0, 194, 255, 255},
	{52, 69, 147, 255},
	{100, 115, 255, 255},
	{0, 24, 236, 255},
	{132, 56, 255, 255},
	{82, 0, 133, 255},
	{203, 56, 255, 255},
	{255, 149, 200, 255},
	{255, 55, 199, 255},
}

// TrackColor returns a stable color for a track id.
func TrackColor(id int) color.RGBA {
	n := len(palette)
	return palette[((id%n)+n)%n]
}

// Pixel sets one pixel, ignoring coordinates outside the image.
func Pixel(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// Dot fills a square of side 2r+1 centered on p.
func Dot(img *image.RGBA, p image.Point, r int, c color.RGBA) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			Pixel(img, p.X+dx, p.Y+dy, c)
		}
	}
}

// Line draws a segment from a to b using Bresenham's algorithm.
func Line(img *image.RGBA, a, b image.Point, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	r := (thickness - 1) / 2

	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	for {
		Dot(img, image.Pt(x, y), r, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

// Polyline connects pts in order, closing the ring when closed is set.
func Polyline(img *image.RGBA, pts []image.Point, closed bool, c color.RGBA, thickness int) {
	for i := 0; i+1 < len(pts); i++ {
		Line(img, pts[i], pts[i+1], c, thickness)
	}
	if closed && len(pts) > 2 {
		Line(img, pts[len(pts)-1], pts[0], c, thickness)
	}
}

// Label draws text with a dark background, its top-left corner at (x, y).
func Label(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			Pixel(img, x+dx, y+dy, bg)
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
