// Package video reads and writes video files through OpenCV.
package video

import (
	"context"
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"crosscount/internal/frame"
)

// FileSource decodes a video file frame by frame
type FileSource struct {
	path    string
	capture *gocv.VideoCapture
	mat     gocv.Mat
	info    frame.Info
	seq     uint64
}

// OpenFile opens path for decoding. Files OpenCV cannot open fail here,
// before any frame is read.
func OpenFile(path string) (*FileSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open video %s: not a readable video", path)
	}

	info := frame.Info{
		Width:  int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(capture.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    capture.Get(gocv.VideoCaptureFPS),
	}
	if info.FPS <= 0 {
		info.FPS = 30
	}

	return &FileSource{
		path:    path,
		capture: capture,
		mat:     gocv.NewMat(),
		info:    info,
	}, nil
}

func (s *FileSource) Info() frame.Info {
	return s.info
}

// Next decodes the next frame. An unreadable or empty frame ends the stream.
func (s *FileSource) Next(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, io.EOF
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame %d: %w", s.seq+1, err)
	}

	s.seq++
	return frame.New(s.path, s.seq, img), nil
}

func (s *FileSource) Close() error {
	s.mat.Close()
	return s.capture.Close()
}

// toMat converts a frame image to a BGR or single channel Mat
func toMat(img image.Image, gray bool) (gocv.Mat, error) {
	if gray {
		return gocv.ImageGrayToMatGray(frame.Gray(img))
	}
	return gocv.ImageToMatRGB(img)
}
