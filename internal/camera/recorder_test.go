package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosscount/internal/frame"
)

type scriptedReader struct {
	name   string
	mu     sync.Mutex
	frames []*frame.Frame
	err    error // Reported once frames are drained
}

func (r *scriptedReader) Name() string { return r.name }

func (r *scriptedReader) TryRead() (*frame.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil, false
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, true
}

func (r *scriptedReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) > 0 {
		return nil
	}
	return r.err
}

type memorySink struct {
	seqs []uint64
	err  error
}

func (s *memorySink) Write(f *frame.Frame) error {
	if s.err != nil {
		return s.err
	}
	s.seqs = append(s.seqs, f.Seq)
	return nil
}

func (s *memorySink) Close() error { return nil }

func frames(n int) []*frame.Frame {
	out := make([]*frame.Frame, n)
	for i := range out {
		out[i] = seqFrame(uint64(i + 1))
	}
	return out
}

func TestRecorderWritesEveryChannel(t *testing.T) {
	color := &scriptedReader{name: "color", frames: frames(3), err: ErrClosed}
	mono := &scriptedReader{name: "mono", frames: frames(5)}
	colorSink, monoSink := &memorySink{}, &memorySink{}

	rec := NewRecorder([]Track{{Source: color, Sink: colorSink}, {Source: mono, Sink: monoSink}}, nil)
	written, err := rec.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 2, 3}, colorSink.seqs)
	assert.Equal(t, []uint64{3, 3}, written, "stops once a channel is closed")
}

func TestRecorderStopsOnInterrupt(t *testing.T) {
	mono := &scriptedReader{name: "mono", frames: frames(2)}
	sink := &memorySink{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	written, err := NewRecorder([]Track{{Source: mono, Sink: sink}}, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, written)
	assert.Equal(t, []uint64{1, 2}, sink.seqs)
}

func TestRecorderDeviceFailure(t *testing.T) {
	color := &scriptedReader{name: "color", frames: frames(1), err: errors.New("capture stopped")}
	_, err := NewRecorder([]Track{{Source: color, Sink: &memorySink{}}}, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record color")
}

func TestRecorderSinkFailure(t *testing.T) {
	color := &scriptedReader{name: "color", frames: frames(1)}
	_, err := NewRecorder([]Track{{Source: color, Sink: &memorySink{err: errors.New("no space")}}}, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space")
}

var _ FrameReader = (*Channel)(nil)
