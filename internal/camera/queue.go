package camera

import (
	"sync"

	"crosscount/internal/frame"
)

// DefaultQueueSize is the per-channel buffer used when none is configured
const DefaultQueueSize = 30

// FrameQueue is a bounded FIFO that discards its oldest frame when a new
// one arrives while full. Push never blocks.
type FrameQueue struct {
	mu      sync.Mutex
	buf     []*frame.Frame
	size    int
	dropped uint64
	ready   chan struct{}
}

// NewFrameQueue creates a queue holding at most size frames
func NewFrameQueue(size int) *FrameQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &FrameQueue{
		buf:   make([]*frame.Frame, 0, size),
		size:  size,
		ready: make(chan struct{}, 1),
	}
}

// Push appends f and reports whether an older frame was discarded
func (q *FrameQueue) Push(f *frame.Frame) bool {
	q.mu.Lock()
	dropped := false
	if len(q.buf) == q.size {
		q.buf[0] = nil
		q.buf = q.buf[1:]
		q.dropped++
		dropped = true
	}
	q.buf = append(q.buf, f)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// TryPop removes and returns the oldest frame without blocking
func (q *FrameQueue) TryPop() (*frame.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, false
	}
	f := q.buf[0]
	q.buf[0] = nil
	q.buf = q.buf[1:]
	return f, true
}

// Ready is signalled after each Push. A receive does not guarantee that a
// frame is still queued.
func (q *FrameQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns how many frames were discarded because the queue was full
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
