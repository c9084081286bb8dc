// Package frame defines the video frame passed between sources, the tracker,
// region counters and sinks.
package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"
)

// DefaultJPEGQuality is used whenever a frame has to be encoded without an
// explicit quality setting.
const DefaultJPEGQuality = 85

// Frame represents a decoded video frame
type Frame struct {
	Source    string      // Source identifier (file path, channel name)
	Seq       uint64      // Frame sequence number, starting at 1
	Timestamp time.Time   // Capture or decode timestamp
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Image     image.Image // Decoded pixels
	Data      []byte      // Original JPEG bytes, if the frame arrived encoded
}

// Info describes a frame source
type Info struct {
	Width  int
	Height int
	FPS    float64
}

// New builds a frame around img, taking width and height from its bounds.
func New(source string, seq uint64, img image.Image) *Frame {
	b := img.Bounds()
	return &Frame{
		Source:    source,
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Image:     img,
	}
}

// WithImage returns a copy of f carrying img instead of the original pixels.
// The encoded bytes are dropped since they no longer match.
func (f *Frame) WithImage(img image.Image) *Frame {
	out := *f
	out.Image = img
	out.Data = nil
	return &out
}

// JPEG returns the frame encoded as JPEG. The original bytes are reused
// when the frame arrived encoded.
func (f *Frame) JPEG(quality int) ([]byte, error) {
	if len(f.Data) > 0 {
		return f.Data, nil
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RGBA returns a mutable copy of img.
func RGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Gray converts img to 8-bit grayscale. Gray input is returned unchanged.
func Gray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return out
}
