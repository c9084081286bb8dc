package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewEventBus()
	var order []string
	bus.Subscribe(CrossingHandlerFunc(func(*CrossingEvent) { order = append(order, "store") }))
	bus.Subscribe(CrossingHandlerFunc(func(*CrossingEvent) { order = append(order, "hub") }))

	bus.Publish(&CrossingEvent{Counter: "door"})
	bus.Publish(nil)
	assert.Equal(t, []string{"store", "hub"}, order)
}

func TestEventBusCounterFilter(t *testing.T) {
	bus := NewEventBus()
	var got []string
	bus.SubscribeCounter("door", CrossingHandlerFunc(func(e *CrossingEvent) { got = append(got, e.Counter) }))

	bus.Publish(&CrossingEvent{Counter: "door"})
	bus.Publish(&CrossingEvent{Counter: "gate"})
	assert.Equal(t, []string{"door"}, got)
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	unsubscribe := bus.Subscribe(CrossingHandlerFunc(func(*CrossingEvent) { calls++ }))
	assert.Equal(t, 1, bus.SubscriberCount())

	unsubscribe()
	unsubscribe()
	bus.Publish(&CrossingEvent{})
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestEventBusClose(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	unsubscribe := bus.Subscribe(CrossingHandlerFunc(func(*CrossingEvent) { calls++ }))
	bus.Subscribe(CrossingHandlerFunc(func(*CrossingEvent) { calls++ }))

	bus.Close()
	assert.Equal(t, 0, bus.SubscriberCount())
	bus.Publish(&CrossingEvent{})
	assert.Equal(t, 0, calls)
	require.NotPanics(t, unsubscribe)
}
