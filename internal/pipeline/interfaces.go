package pipeline

import (
	"context"

	"crosscount/internal/frame"
)

// FrameSource produces decoded frames in order
type FrameSource interface {
	// Info returns the frame size and rate of the source
	Info() frame.Info

	// Next returns the next frame, or io.EOF once the source is exhausted.
	// Live sources block until a frame arrives or ctx is done.
	Next(ctx context.Context) (*frame.Frame, error)

	// Close releases the source
	Close() error
}

// Sink consumes frames in arrival order
type Sink interface {
	// Write appends a frame
	Write(f *frame.Frame) error

	// Close flushes and finalizes the output
	Close() error
}

// CrossingHandler receives crossing events
type CrossingHandler interface {
	// OnCrossing is called synchronously, once per counted crossing
	OnCrossing(event *CrossingEvent)
}

// CrossingHandlerFunc adapts a function to CrossingHandler
type CrossingHandlerFunc func(event *CrossingEvent)

func (f CrossingHandlerFunc) OnCrossing(event *CrossingEvent) {
	f(event)
}

// MultiSink fans a frame out to several sinks in order. Write stops at the
// first error; Close closes every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Write(f *frame.Frame) error {
	for _, s := range m {
		if err := s.Write(f); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
