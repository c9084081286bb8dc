package video

import (
	"fmt"

	"gocv.io/x/gocv"

	"crosscount/internal/frame"
)

// Codec is the fourcc used for every output file
const Codec = "mp4v"

// Writer encodes frames into a video file. Frames are written in the order
// they are passed to Write.
type Writer struct {
	path   string
	writer *gocv.VideoWriter
	width  int
	height int
	gray   bool
	frames uint64
}

// NewWriter creates path with the given size and rate. gray selects a
// single channel output.
func NewWriter(path string, fps float64, width, height int, gray bool) (*Writer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("create video %s: invalid size %dx%d", path, width, height)
	}
	if fps <= 0 {
		fps = 30
	}
	w, err := gocv.VideoWriterFile(path, Codec, fps, width, height, !gray)
	if err != nil {
		return nil, fmt.Errorf("create video %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("create video %s: encoder did not open", path)
	}
	return &Writer{path: path, writer: w, width: width, height: height, gray: gray}, nil
}

// Path returns the output file name
func (w *Writer) Path() string {
	return w.path
}

// Frames returns how many frames were written
func (w *Writer) Frames() uint64 {
	return w.frames
}

func (w *Writer) Write(f *frame.Frame) error {
	b := f.Image.Bounds()
	if b.Dx() != w.width || b.Dy() != w.height {
		return fmt.Errorf("frame %d is %dx%d, writer expects %dx%d", f.Seq, b.Dx(), b.Dy(), w.width, w.height)
	}

	mat, err := toMat(f.Image, w.gray)
	if err != nil {
		return fmt.Errorf("convert frame %d: %w", f.Seq, err)
	}
	defer mat.Close()

	if err := w.writer.Write(mat); err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	w.frames++
	return nil
}

// Close finalizes the file
func (w *Writer) Close() error {
	return w.writer.Close()
}
