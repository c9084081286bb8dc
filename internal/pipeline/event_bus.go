package pipeline

import (
	"sync"
	"time"

	"crosscount/internal/geometry"
)

// CrossingEvent describes one counted crossing
type CrossingEvent struct {
	RunID     string             `json:"run_id"`
	Counter   string             `json:"counter"`
	Source    string             `json:"source"`
	FrameSeq  uint64             `json:"frame_seq"`
	Timestamp time.Time          `json:"timestamp"`
	TrackID   int                `json:"track_id"`
	ClassID   int                `json:"class_id"`
	Class     string             `json:"class"`
	Direction geometry.Direction `json:"direction"`
	X         float64            `json:"x"` // Centroid that completed the crossing
	Y         float64            `json:"y"`
	In        int                `json:"in"`  // Inward count including this crossing
	Out       int                `json:"out"` // Outward count including this crossing
}

// EventBus provides pub/sub for crossing events
type EventBus struct {
	subscribers []*eventSubscription
	mu          sync.RWMutex
}

type eventSubscription struct {
	counterFilter string // Empty string means receive all counters
	handler       CrossingHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) remove(sub *eventSubscription) {
	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Subscribe registers a handler for crossings from all counters.
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler CrossingHandler) func() {
	return b.SubscribeCounter("", handler)
}

// SubscribeCounter registers a handler for crossings of one counter
func (b *EventBus) SubscribeCounter(name string, handler CrossingHandler) func() {
	sub := &eventSubscription{
		counterFilter: name,
		handler:       handler,
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.remove(sub)
		b.mu.Unlock()
	}
}

// Publish delivers an event to subscribers in subscription order
func (b *EventBus) Publish(event *CrossingEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.counterFilter != "" && sub.counterFilter != event.Counter {
			continue
		}

		// Handlers run synchronously so stores see crossings in order.
		sub.handler.OnCrossing(event)
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = nil
}
