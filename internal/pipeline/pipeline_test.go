package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosscount/internal/counter"
	"crosscount/internal/frame"
	"crosscount/internal/geometry"
	"crosscount/internal/tracking"
)

type fakeSource struct {
	frames int
	seq    uint64
	err    error  // Returned instead of frame errAt
	errAt  uint64 // 1-based
}

func (s *fakeSource) Info() frame.Info {
	return frame.Info{Width: 200, Height: 100, FPS: 25}
}

func (s *fakeSource) Next(ctx context.Context) (*frame.Frame, error) {
	if s.seq >= uint64(s.frames) {
		return nil, io.EOF
	}
	s.seq++
	if s.err != nil && s.seq == s.errAt {
		return nil, s.err
	}
	return frame.New("fake.mp4", s.seq, image.NewRGBA(image.Rect(0, 0, 200, 100))), nil
}

func (s *fakeSource) Close() error { return nil }

type fakeTracker struct {
	observe func(ctx context.Context, seq uint64) ([]tracking.Observation, error)
	calls   int
}

func (t *fakeTracker) Name() string                       { return "fake" }
func (t *fakeTracker) IsHealthy(ctx context.Context) bool { return true }
func (t *fakeTracker) Close() error                       { return nil }

func (t *fakeTracker) Observe(ctx context.Context, f *frame.Frame) ([]tracking.Observation, error) {
	t.calls++
	return t.observe(ctx, f.Seq)
}

type recordingSink struct {
	seqs   []uint64
	failAt uint64
	closed bool
}

func (s *recordingSink) Write(f *frame.Frame) error {
	if s.failAt != 0 && f.Seq == s.failAt {
		return errors.New("disk full")
	}
	s.seqs = append(s.seqs, f.Seq)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func box(id int, x float64) tracking.Observation {
	return tracking.Observation{
		TrackID: id,
		Class:   "person",
		Shape:   geometry.Box{X1: x - 5, Y1: 45, X2: x + 5, Y2: 55},
	}
}

// zigzag moves track 1 across the x=100 line on every frame.
func zigzag(_ context.Context, seq uint64) ([]tracking.Observation, error) {
	if seq%2 == 1 {
		return []tracking.Observation{box(1, 50)}, nil
	}
	return []tracking.Observation{box(1, 150)}, nil
}

func lineCounter(t *testing.T, name string) *counter.Counter {
	t.Helper()
	c, err := counter.New(counter.DefaultConfig(name, geometry.MustRegion(geometry.Pt(100, 0), geometry.Pt(100, 100))))
	require.NoError(t, err)
	return c
}

func TestRunUntilEOF(t *testing.T) {
	src := &fakeSource{frames: 4}
	sink := &recordingSink{}
	bus := NewEventBus()
	var events []*CrossingEvent
	bus.Subscribe(CrossingHandlerFunc(func(e *CrossingEvent) { events = append(events, e) }))

	p := New(Config{RunID: "run-1"}, src, &fakeTracker{observe: zigzag}, []*counter.Counter{lineCounter(t, "door")}, []Sink{sink}, bus, nil)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(4), summary.Frames)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, uint64(3), summary.Crossings)
	require.Len(t, summary.Counters, 1)
	assert.Equal(t, CounterSummary{Name: "door", In: 2, Out: 1}, summary.Counters[0])
	assert.Equal(t, []uint64{1, 2, 3, 4}, sink.seqs)
	assert.False(t, sink.closed, "the caller closes sinks")

	require.Len(t, events, 3)
	first := events[0]
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, "door", first.Counter)
	assert.Equal(t, uint64(2), first.FrameSeq)
	assert.Equal(t, geometry.DirectionIn, first.Direction)
	assert.Equal(t, 1, first.In)
	assert.Equal(t, 0, first.Out)
	second := events[1]
	assert.Equal(t, geometry.DirectionOut, second.Direction)
	assert.Equal(t, 1, second.Out)
}

func TestRunInterruptFinishesCurrentFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := &fakeTracker{observe: func(ctx context.Context, seq uint64) ([]tracking.Observation, error) {
		if seq == 2 {
			cancel()
		}
		assert.NoError(t, ctx.Err(), "in-flight frame is not cancelled")
		return zigzag(ctx, seq)
	}}
	sink := &recordingSink{}

	p := New(Config{}, &fakeSource{frames: 10}, tracker, []*counter.Counter{lineCounter(t, "door")}, []Sink{sink}, nil, nil)
	summary, err := p.Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Interrupted)
	assert.Equal(t, uint64(2), summary.Frames)
	assert.Equal(t, []uint64{1, 2}, sink.seqs)
	assert.Equal(t, 1, summary.Counters[0].In, "frame 2 was fully processed")
}

func TestRunAbortsAfterFailureBudget(t *testing.T) {
	tracker := &fakeTracker{observe: func(context.Context, uint64) ([]tracking.Observation, error) {
		return nil, errors.New("connection refused")
	}}
	sink := &recordingSink{}

	p := New(Config{MaxTrackerFailures: 3}, &fakeSource{frames: 10}, tracker, []*counter.Counter{lineCounter(t, "door")}, []Sink{sink}, nil, nil)
	summary, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, uint64(3), summary.Frames)
	assert.Equal(t, uint64(3), summary.TrackerFailures)
	assert.Equal(t, []uint64{1, 2, 3}, sink.seqs, "failed frames are still written")
}

func TestRunToleratesIntermittentFailures(t *testing.T) {
	tracker := &fakeTracker{observe: func(ctx context.Context, seq uint64) ([]tracking.Observation, error) {
		if seq == 2 || seq == 3 {
			return nil, errors.New("timeout")
		}
		return zigzag(ctx, seq)
	}}
	sink := &recordingSink{}
	c := lineCounter(t, "door")

	p := New(Config{MaxTrackerFailures: 3}, &fakeSource{frames: 6}, tracker, []*counter.Counter{c}, []Sink{sink}, nil, nil)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(2), summary.TrackerFailures)
	assert.Len(t, sink.seqs, 6)
	// Seen at 50 (frame 1), skipped frames 2-3, then 150, 50, 150.
	assert.Equal(t, CounterSummary{Name: "door", In: 2, Out: 1}, summary.Counters[0])
}

func TestRunDefaultFailureBudget(t *testing.T) {
	tracker := &fakeTracker{observe: func(context.Context, uint64) ([]tracking.Observation, error) {
		return nil, errors.New("boom")
	}}
	p := New(Config{}, &fakeSource{frames: 100}, tracker, nil, nil, nil, nil)
	summary, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.Equal(t, uint64(DefaultMaxTrackerFailures), summary.Frames)
}

func TestRunSourceError(t *testing.T) {
	src := &fakeSource{frames: 5, err: errors.New("corrupt packet"), errAt: 3}
	sink := &recordingSink{}
	p := New(Config{}, src, &fakeTracker{observe: zigzag}, nil, []Sink{sink}, nil, nil)

	summary, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read frame")
	assert.Equal(t, uint64(2), summary.Frames)
}

func TestRunSinkError(t *testing.T) {
	sink := &recordingSink{failAt: 2}
	p := New(Config{}, &fakeSource{frames: 5}, &fakeTracker{observe: zigzag}, nil, []Sink{sink}, nil, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []uint64{1}, sink.seqs)
}

func TestRunSharedTrackerMultipleCounters(t *testing.T) {
	tracker := &fakeTracker{observe: zigzag}
	door := lineCounter(t, "door")
	zone, err := counter.New(counter.DefaultConfig("zone", geometry.MustRegion(
		geometry.Pt(120, 0), geometry.Pt(200, 0), geometry.Pt(200, 100), geometry.Pt(120, 100))))
	require.NoError(t, err)

	bus := NewEventBus()
	var zoneEvents []*CrossingEvent
	bus.SubscribeCounter("zone", CrossingHandlerFunc(func(e *CrossingEvent) {
		zoneEvents = append(zoneEvents, e)
	}))

	p := New(Config{}, &fakeSource{frames: 3}, tracker, []*counter.Counter{door, zone}, nil, bus, nil)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, tracker.calls, "one tracker call per frame")
	assert.Equal(t, []CounterSummary{{"door", 1, 1}, {"zone", 1, 1}}, summary.Counters)
	require.Len(t, zoneEvents, 2)
	assert.Equal(t, "zone", zoneEvents[0].Counter)
}

func TestRunReplayIsDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracks.jsonl")
	lines := `{"tracks":[{"track_id":1,"class_id":0,"bbox":[40,40,60,60]},{"track_id":2,"class_id":0,"bbox":[140,40,160,60]}]}
{"tracks":[{"track_id":1,"class_id":0,"bbox":[140,40,160,60]},{"track_id":2,"class_id":0,"bbox":[40,40,60,60]}]}
{"tracks":[{"track_id":1,"class_id":0,"bbox":[40,40,60,60]},{"track_id":3,"class_id":0,"bbox":[40,40,60,60]}]}
{"tracks":[{"track_id":3,"class_id":0,"bbox":[140,40,160,60]}]}
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	run := func() *Summary {
		tr, err := tracking.NewReplayTracker(path, nil)
		require.NoError(t, err)
		defer tr.Close()

		p := New(Config{}, &fakeSource{frames: 6}, tr, []*counter.Counter{lineCounter(t, "door")}, nil, nil, nil)
		summary, err := p.Run(context.Background())
		require.NoError(t, err)
		return summary
	}

	first, second := run(), run()
	assert.Equal(t, first.Counters, second.Counters)
	assert.Equal(t, CounterSummary{Name: "door", In: 2, Out: 2}, first.Counters[0])
}

type frameSink struct {
	frames []*frame.Frame
}

func (s *frameSink) Write(f *frame.Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

func (s *frameSink) Close() error { return nil }

func blankImage(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if r, g, bl, _ := img.At(x, y).RGBA(); r|g|bl != 0 {
				return false
			}
		}
	}
	return true
}

func TestRunRawSinksGetUnannotatedFrames(t *testing.T) {
	raw := &frameSink{}
	annotated := &frameSink{}

	p := New(Config{}, &fakeSource{frames: 2}, &fakeTracker{observe: zigzag}, []*counter.Counter{lineCounter(t, "door")}, []Sink{annotated}, nil, nil)
	p.SetRawSinks(raw)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, raw.frames, 2)
	require.Len(t, annotated.frames, 2)
	for i := range raw.frames {
		assert.True(t, blankImage(raw.frames[i].Image), "raw frame %d has nothing drawn on it", i+1)
		assert.False(t, blankImage(annotated.frames[i].Image), "annotated frame %d shows the region", i+1)
	}
}

func TestRunRawSinkError(t *testing.T) {
	annotated := &recordingSink{}
	p := New(Config{}, &fakeSource{frames: 3}, &fakeTracker{observe: zigzag}, nil, []Sink{annotated}, nil, nil)
	p.SetRawSinks(&recordingSink{failAt: 2})

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write raw frame 2")
	assert.Equal(t, []uint64{1}, annotated.seqs)
}

func TestRunWarnsWhenNoTrackIsUsable(t *testing.T) {
	cfg := counter.DefaultConfig("cars", geometry.MustRegion(geometry.Pt(100, 0), geometry.Pt(100, 100)))
	cfg.Classes = []int{2}
	cars, err := counter.New(cfg)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	// Every observation is a person (class 0), which the counter ignores.
	p := New(Config{}, &fakeSource{frames: 2}, &fakeTracker{observe: zigzag}, []*counter.Counter{cars}, nil, nil, logger)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	var warnings []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings = append(warnings, e.Message)
		}
	}
	require.Len(t, warnings, 1, "warning is rate limited")
	assert.Contains(t, warnings[0], "no usable tracks (1 returned by the tracker)")
}
