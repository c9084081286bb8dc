package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"crosscount/internal/frame"
	"crosscount/internal/logging"
	"crosscount/internal/pipeline"
)

// FrameReader is a live source polled without blocking
type FrameReader interface {
	Name() string
	TryRead() (*frame.Frame, bool)
	Err() error
}

// Track routes the frames of one reader to one sink
type Track struct {
	Source FrameReader
	Sink   pipeline.Sink
}

// Recorder drains several live readers into their sinks until interrupted
type Recorder struct {
	tracks []Track
	poll   time.Duration
	log    *logrus.Entry
}

// NewRecorder creates a recorder for tracks
func NewRecorder(tracks []Track, logger logrus.FieldLogger) *Recorder {
	return &Recorder{
		tracks: tracks,
		poll:   2 * time.Millisecond,
		log:    logging.Component(logger, "Recorder"),
	}
}

// Run polls every reader in turn and writes whatever is available. It
// returns the number of frames written per track, in track order. A reader
// that stops with an error other than ErrClosed aborts the recording.
func (r *Recorder) Run(ctx context.Context) ([]uint64, error) {
	written := make([]uint64, len(r.tracks))
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		progressed := false
		for i, t := range r.tracks {
			f, ok := t.Source.TryRead()
			if !ok {
				err := t.Source.Err()
				if err == nil {
					continue
				}
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return written, nil
				}
				return written, fmt.Errorf("record %s: %w", t.Source.Name(), err)
			}
			if err := t.Sink.Write(f); err != nil {
				return written, fmt.Errorf("record %s frame %d: %w", t.Source.Name(), f.Seq, err)
			}
			written[i]++
			progressed = true
			if written[i]%300 == 0 {
				r.log.Debugf("%s: %d frames written", t.Source.Name(), written[i])
			}
		}

		if ctx.Err() != nil {
			return written, nil
		}
		if !progressed {
			select {
			case <-ctx.Done():
				return written, nil
			case <-ticker.C:
			}
		}
	}
}
