package ws

import (
	"time"

	"crosscount/internal/pipeline"
)

// Message types
const (
	TypeSnapshot = "snapshot" // Current counts, sent once on connect
	TypeCrossing = "crossing" // Counts right after a crossing
)

// CountMessage carries the counts of one counter
type CountMessage struct {
	Type      string        `json:"type"`
	RunID     string        `json:"run_id,omitempty"`
	Counter   string        `json:"counter"`
	Timestamp time.Time     `json:"timestamp"`
	In        int           `json:"in"`
	Out       int           `json:"out"`
	Crossing  *CrossingInfo `json:"crossing,omitempty"`
}

// CrossingInfo describes the crossing that produced a count update
type CrossingInfo struct {
	TrackID   int    `json:"track_id"`
	ClassID   int    `json:"class_id"`
	Class     string `json:"class,omitempty"`
	Direction string `json:"direction"`
	FrameSeq  uint64 `json:"frame_seq"`
}

// NewSnapshotMessage creates a message with the current counts
func NewSnapshotMessage(runID, counter string, in, out int) *CountMessage {
	return &CountMessage{
		Type:      TypeSnapshot,
		RunID:     runID,
		Counter:   counter,
		Timestamp: time.Now(),
		In:        in,
		Out:       out,
	}
}

// NewCrossingMessage converts a crossing event into a broadcast message
func NewCrossingMessage(event *pipeline.CrossingEvent) *CountMessage {
	return &CountMessage{
		Type:      TypeCrossing,
		RunID:     event.RunID,
		Counter:   event.Counter,
		Timestamp: event.Timestamp,
		In:        event.In,
		Out:       event.Out,
		Crossing: &CrossingInfo{
			TrackID:   event.TrackID,
			ClassID:   event.ClassID,
			Class:     event.Class,
			Direction: string(event.Direction),
			FrameSeq:  event.FrameSeq,
		},
	}
}
