// Package framesaver dumps frames to disk as numbered JPEG files.
package framesaver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"crosscount/internal/frame"
	"crosscount/internal/logging"
)

// Config for a Saver
type Config struct {
	Dir     string // Output directory, created if missing
	Prefix  string // File name prefix, default "frame"
	Quality int    // JPEG quality, default frame.DefaultJPEGQuality
	Every   int    // Keep one frame out of Every, default 1
}

// Saver writes frames as Dir/Prefix_000001.jpg, Prefix_000002.jpg, ...
// The number is the frame sequence so gaps show skipped frames.
type Saver struct {
	cfg    Config
	saved  int
	logger *logrus.Entry
}

// New creates the output directory and returns a saver writing into it.
func New(cfg Config, logger logrus.FieldLogger) (*Saver, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("frame directory is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "frame"
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = frame.DefaultJPEGQuality
	}
	if cfg.Every <= 0 {
		cfg.Every = 1
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create frame directory %s: %w", cfg.Dir, err)
	}
	return &Saver{cfg: cfg, logger: logging.Component(logger, "FrameSaver")}, nil
}

// Path returns the file name used for the frame with the given sequence number
func (s *Saver) Path(seq uint64) string {
	return filepath.Join(s.cfg.Dir, fmt.Sprintf("%s_%06d.jpg", s.cfg.Prefix, seq))
}

func (s *Saver) Write(f *frame.Frame) error {
	if f.Seq%uint64(s.cfg.Every) != 0 {
		return nil
	}
	data, err := f.JPEG(s.cfg.Quality)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	path := s.Path(f.Seq)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save frame %d: %w", f.Seq, err)
	}
	s.saved++
	return nil
}

// Saved returns the number of files written so far
func (s *Saver) Saved() int {
	return s.saved
}

func (s *Saver) Close() error {
	s.logger.Infof("Saved %d frames to %s", s.Saved(), s.cfg.Dir)
	return nil
}
