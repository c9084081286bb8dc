// Package counter implements the region crossing counter: it follows each
// tracked object's centroid between frames and counts transitions across a
// line or into and out of a polygon.
package counter

import (
	"errors"
	"fmt"
	"sort"

	"crosscount/internal/frame"
	"crosscount/internal/geometry"
	"crosscount/internal/tracking"
)

// Defaults for Config fields left at zero
const (
	DefaultEvictAfter = 30
	DefaultHistoryLen = 30
)

// Config configures one counter
type Config struct {
	Name        string          // Label for events and overlays
	Region      geometry.Region // Line (2 points) or polygon (>=3 points)
	Classes     []int           // Class ids to count; empty counts every class
	EvictAfter  int             // Missed frames tolerated before a track is forgotten; 0 evicts immediately
	HistoryLen  int             // Centroids kept per track for trails
	SegmentOnly bool            // Line regions: only count moves that cross the drawn segment
}

// DefaultConfig returns a config for region with default eviction and history.
func DefaultConfig(name string, region geometry.Region) Config {
	return Config{
		Name:       name,
		Region:     region,
		EvictAfter: DefaultEvictAfter,
		HistoryLen: DefaultHistoryLen,
	}
}

// Crossing is one counted transition
type Crossing struct {
	TrackID   int
	ClassID   int
	Class     string
	Direction geometry.Direction
	From      geometry.Point // Previous centroid
	To        geometry.Point // Centroid that completed the crossing
}

// Result is the outcome of processing one frame
type Result struct {
	Frame     *frame.Frame // Annotated copy of the input frame
	In        int          // Cumulative inward count
	Out       int          // Cumulative outward count
	Crossings []Crossing   // Crossings counted in this frame, in observation order
	Observed  int          // Observations that passed the class filter
	Active    int          // Records held after eviction
}

// record is the per-track crossing state
type record struct {
	status  geometry.Status
	history []geometry.Point
	missed  int
	class   string
	classID int
	shape   geometry.Shape // Last seen shape, drawn only while the track is visible
	visible bool
}

func (r *record) last() geometry.Point {
	return r.history[len(r.history)-1]
}

func (r *record) push(p geometry.Point, limit int) {
	r.history = append(r.history, p)
	if len(r.history) > limit {
		r.history = append(r.history[:0], r.history[len(r.history)-limit:]...)
	}
}

// Counter holds the crossing state of one region for one run. It is not
// safe for concurrent use.
type Counter struct {
	cfg     Config
	classes map[int]struct{}
	records map[int]*record
	in      int
	out     int
	style   Style
}

// New validates cfg and creates a counter with zeroed counts.
func New(cfg Config) (*Counter, error) {
	if cfg.Region.IsZero() {
		return nil, errors.New("counter region is not set")
	}
	if cfg.EvictAfter < 0 {
		return nil, fmt.Errorf("evict after must be >= 0, got %d", cfg.EvictAfter)
	}
	if cfg.HistoryLen < 0 {
		return nil, fmt.Errorf("history length must be >= 0, got %d", cfg.HistoryLen)
	}
	if cfg.HistoryLen == 0 {
		cfg.HistoryLen = DefaultHistoryLen
	}
	if cfg.Name == "" {
		cfg.Name = "region"
	}

	var classes map[int]struct{}
	if len(cfg.Classes) > 0 {
		classes = make(map[int]struct{}, len(cfg.Classes))
		for _, c := range cfg.Classes {
			classes[c] = struct{}{}
		}
	}

	return &Counter{
		cfg:     cfg,
		classes: classes,
		records: make(map[int]*record),
		style:   DefaultStyle(),
	}, nil
}

func (c *Counter) Name() string {
	return c.cfg.Name
}

func (c *Counter) Region() geometry.Region {
	return c.cfg.Region
}

// Counts returns the cumulative inward and outward counts.
func (c *Counter) Counts() (in, out int) {
	return c.in, c.out
}

// Active returns the number of tracks currently remembered.
func (c *Counter) Active() int {
	return len(c.records)
}

// SetStyle replaces the overlay style.
func (c *Counter) SetStyle(s Style) {
	c.style = s
}

func (c *Counter) accepts(classID int) bool {
	if c.classes == nil {
		return true
	}
	_, ok := c.classes[classID]
	return ok
}

// Process updates the crossing state with one frame's observations and
// returns the annotated frame with the cumulative counts.
func (c *Counter) Process(f *frame.Frame, observations []tracking.Observation) *Result {
	res := &Result{}
	seen := make(map[int]struct{}, len(observations))

	for _, rec := range c.records {
		rec.visible = false
	}

	for _, o := range observations {
		if !c.accepts(o.ClassID) || o.Shape == nil {
			continue
		}
		// A tracker should never repeat an id within a frame; keep the first.
		if _, dup := seen[o.TrackID]; dup {
			continue
		}
		seen[o.TrackID] = struct{}{}
		res.Observed++

		centroid := o.Shape.Centroid()
		status := c.cfg.Region.Classify(centroid)

		rec, ok := c.records[o.TrackID]
		if !ok {
			rec = &record{status: status}
			c.records[o.TrackID] = rec
		} else if status != rec.status {
			prev := rec.last()
			dir := geometry.Transition(rec.status, status)
			if dir != geometry.DirectionNone && (!c.cfg.SegmentOnly || c.cfg.Region.Crosses(prev, centroid)) {
				if dir == geometry.DirectionIn {
					c.in++
				} else {
					c.out++
				}
				res.Crossings = append(res.Crossings, Crossing{
					TrackID:   o.TrackID,
					ClassID:   o.ClassID,
					Class:     o.Class,
					Direction: dir,
					From:      prev,
					To:        centroid,
				})
			}
			rec.status = status
		}

		rec.missed = 0
		rec.visible = true
		rec.class = o.Class
		rec.classID = o.ClassID
		rec.shape = o.Shape
		rec.push(centroid, c.cfg.HistoryLen)
	}

	for id, rec := range c.records {
		if _, ok := seen[id]; ok {
			continue
		}
		rec.missed++
		if rec.missed > c.cfg.EvictAfter {
			delete(c.records, id)
		}
	}

	res.In, res.Out = c.in, c.out
	res.Active = len(c.records)
	if f != nil {
		res.Frame = c.render(f, true)
	}
	return res
}

// Annotate draws the current state onto a copy of f without changing it.
// Used for frames the tracker failed on.
func (c *Counter) Annotate(f *frame.Frame) *frame.Frame {
	return c.render(f, false)
}

// trackIDs returns the remembered ids in ascending order so overlays are
// drawn deterministically.
func (c *Counter) trackIDs() []int {
	ids := make([]int, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
