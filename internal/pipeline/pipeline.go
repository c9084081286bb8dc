// Package pipeline runs the per-frame loop: read a frame from the source,
// ask the tracker for observations, update every region counter and hand
// the annotated frame to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"crosscount/internal/counter"
	"crosscount/internal/frame"
	"crosscount/internal/geometry"
	"crosscount/internal/logging"
	"crosscount/internal/tracking"
)

// ErrTooManyFailures aborts a run after MaxTrackerFailures consecutive
// tracker errors.
var ErrTooManyFailures = errors.New("too many consecutive tracker failures")

// DefaultMaxTrackerFailures is used when Config.MaxTrackerFailures is zero
const DefaultMaxTrackerFailures = 5

// Config configures a pipeline run
type Config struct {
	RunID              string // Attached to every crossing event
	MaxTrackerFailures int    // Consecutive tracker errors tolerated
}

// CounterSummary is the final state of one counter
type CounterSummary struct {
	Name string `json:"name"`
	In   int    `json:"in"`
	Out  int    `json:"out"`
}

// Summary describes a finished run
type Summary struct {
	RunID           string           `json:"run_id"`
	Frames          uint64           `json:"frames"`
	TrackerFailures uint64           `json:"tracker_failures"`
	Crossings       uint64           `json:"crossings"`
	Interrupted     bool             `json:"interrupted"`
	Duration        time.Duration    `json:"duration"`
	Counters        []CounterSummary `json:"counters"`
}

// Pipeline processes one source with one tracker and any number of counters
type Pipeline struct {
	cfg      Config
	source   FrameSource
	tracker  tracking.Tracker
	counters []*counter.Counter
	sink     Sink
	raw      MultiSink // Receives frames before annotation
	bus      *EventBus
	log      *logrus.Entry

	emptyWarn rate.Sometimes
	failures  int // Consecutive tracker failures

	frames          uint64
	trackerFailures uint64
	crossings       uint64
	interrupted     bool
}

// New creates a pipeline. sinks receive frames in the given order; bus may be nil.
func New(cfg Config, source FrameSource, tracker tracking.Tracker, counters []*counter.Counter, sinks []Sink, bus *EventBus, logger logrus.FieldLogger) *Pipeline {
	if cfg.MaxTrackerFailures <= 0 {
		cfg.MaxTrackerFailures = DefaultMaxTrackerFailures
	}
	if bus == nil {
		bus = NewEventBus()
	}
	return &Pipeline{
		cfg:       cfg,
		source:    source,
		tracker:   tracker,
		counters:  counters,
		sink:      MultiSink(sinks),
		bus:       bus,
		log:       logging.Component(logger, "Pipeline"),
		emptyWarn: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// SetRawSinks registers sinks that receive every frame as read from the
// source, before any region or track is drawn on it.
func (p *Pipeline) SetRawSinks(sinks ...Sink) {
	p.raw = MultiSink(sinks)
}

// Run processes frames until the source is exhausted, ctx is cancelled or
// an unrecoverable error occurs. The frame in flight when ctx is cancelled
// is finished and written. Sources and sinks are not closed here; the
// caller owns them.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	p.log.Infof("Starting run %s: %d counter(s), %s tracker, %d crossing subscriber(s)",
		p.cfg.RunID, len(p.counters), p.tracker.Name(), p.bus.SubscriberCount())

	var runErr error
loop:
	for {
		if ctx.Err() != nil {
			p.interrupted = true
			break
		}

		f, err := p.source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				p.log.Infof("Source exhausted after %d frames", p.frames)
			case ctx.Err() != nil:
				p.interrupted = true
			default:
				runErr = fmt.Errorf("read frame: %w", err)
			}
			break loop
		}

		if err := p.processFrame(ctx, f); err != nil {
			runErr = err
			break
		}
	}

	if p.interrupted {
		p.log.Infof("Interrupted after %d frames", p.frames)
	}
	return p.summary(time.Since(start)), runErr
}

func (p *Pipeline) processFrame(ctx context.Context, f *frame.Frame) error {
	p.frames++

	if err := p.raw.Write(f); err != nil {
		return fmt.Errorf("write raw frame %d: %w", f.Seq, err)
	}

	// The frame in flight is finished even if the run is being interrupted.
	obs, err := p.tracker.Observe(context.WithoutCancel(ctx), f)

	out := f
	var trackErr error
	if err != nil {
		p.failures++
		p.trackerFailures++
		p.log.Errorf("Tracker failed on frame %d (%d/%d): %v", f.Seq, p.failures, p.cfg.MaxTrackerFailures, err)
		for _, c := range p.counters {
			out = c.Annotate(out)
		}
		if p.failures >= p.cfg.MaxTrackerFailures {
			trackErr = fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFailures, p.failures, err)
		}
	} else {
		p.failures = 0
		usable := 0
		for _, c := range p.counters {
			res := c.Process(out, obs)
			out = res.Frame
			usable += res.Observed
			p.publish(c.Name(), f, res)
		}
		if usable == 0 {
			p.emptyWarn.Do(func() {
				p.log.Warnf("Frame %d: no usable tracks (%d returned by the tracker)", f.Seq, len(obs))
			})
		}
	}

	if err := p.sink.Write(out); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Seq, err)
	}
	return trackErr
}

// publish emits one event per crossing, each carrying the counts as they
// stood right after that crossing.
func (p *Pipeline) publish(name string, f *frame.Frame, res *counter.Result) {
	if len(res.Crossings) == 0 {
		return
	}
	in, out := res.In, res.Out
	for _, c := range res.Crossings {
		if c.Direction == geometry.DirectionIn {
			in--
		} else {
			out--
		}
	}

	for _, c := range res.Crossings {
		if c.Direction == geometry.DirectionIn {
			in++
		} else {
			out++
		}
		p.crossings++
		p.log.Debugf("%s: track %d (%s) crossed %s at frame %d", name, c.TrackID, c.Class, c.Direction, f.Seq)
		p.bus.Publish(&CrossingEvent{
			RunID:     p.cfg.RunID,
			Counter:   name,
			Source:    f.Source,
			FrameSeq:  f.Seq,
			Timestamp: f.Timestamp,
			TrackID:   c.TrackID,
			ClassID:   c.ClassID,
			Class:     c.Class,
			Direction: c.Direction,
			X:         c.To.X,
			Y:         c.To.Y,
			In:        in,
			Out:       out,
		})
	}
}

func (p *Pipeline) summary(d time.Duration) *Summary {
	s := &Summary{
		RunID:           p.cfg.RunID,
		Frames:          p.frames,
		TrackerFailures: p.trackerFailures,
		Crossings:       p.crossings,
		Interrupted:     p.interrupted,
		Duration:        d,
		Counters:        make([]CounterSummary, 0, len(p.counters)),
	}
	for _, c := range p.counters {
		in, out := c.Counts()
		s.Counters = append(s.Counters, CounterSummary{Name: c.Name(), In: in, Out: out})
	}
	return s
}
