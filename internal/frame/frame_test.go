package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestNew(t *testing.T) {
	f := New("cam", 3, solid(40, 20, color.RGBA{R: 255, A: 255}))
	assert.Equal(t, "cam", f.Source)
	assert.Equal(t, uint64(3), f.Seq)
	assert.Equal(t, 40, f.Width)
	assert.Equal(t, 20, f.Height)
	assert.False(t, f.Timestamp.IsZero())
}

func TestJPEG(t *testing.T) {
	t.Run("encodes image", func(t *testing.T) {
		f := New("cam", 1, solid(16, 16, color.RGBA{G: 200, A: 255}))
		data, err := f.JPEG(0)
		require.NoError(t, err)

		img, err := jpeg.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 16, img.Bounds().Dx())
	})

	t.Run("reuses original bytes", func(t *testing.T) {
		f := New("cam", 1, solid(4, 4, color.RGBA{A: 255}))
		f.Data = []byte{0xFF, 0xD8, 0xFF, 0xD9}
		data, err := f.JPEG(90)
		require.NoError(t, err)
		assert.Equal(t, f.Data, data)
	})
}

func TestWithImageDropsData(t *testing.T) {
	f := New("cam", 7, solid(4, 4, color.RGBA{A: 255}))
	f.Data = []byte{1, 2, 3}

	out := f.WithImage(solid(4, 4, color.RGBA{B: 255, A: 255}))
	assert.Nil(t, out.Data)
	assert.Equal(t, uint64(7), out.Seq)
	assert.NotNil(t, f.Data, "original frame must stay untouched")
}

func TestGray(t *testing.T) {
	g := Gray(solid(2, 2, color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	assert.Equal(t, uint8(255), g.GrayAt(1, 1).Y)

	same := image.NewGray(image.Rect(0, 0, 1, 1))
	assert.Same(t, same, Gray(same))
}

func TestRGBACopies(t *testing.T) {
	src := solid(3, 3, color.RGBA{R: 10, A: 255})
	cp := RGBA(src)
	cp.SetRGBA(0, 0, color.RGBA{B: 10, A: 255})
	assert.Equal(t, color.RGBA{R: 10, A: 255}, src.RGBAAt(0, 0))
}
