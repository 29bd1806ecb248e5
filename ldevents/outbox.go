package ldevents

import (
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// eventBuffer implements C5: a bounded, ordered sequence of individual events. It never grows past its
// configured capacity; once full, newest events are dropped and droppedEvents is incremented (spec §4.5,
// §8: "Capacity = 0 (or negative) → treated as 1").
type eventBuffer struct {
	events           []interface{}
	capacity         int
	capacityExceeded bool
	droppedEvents    int
	loggers          ldlog.Loggers
}

func newEventBuffer(capacity int, loggers ldlog.Loggers) *eventBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &eventBuffer{
		events:   make([]interface{}, 0, capacity),
		capacity: capacity,
		loggers:  loggers,
	}
}

// append stores event, returning true if there was room. If the buffer is full, it returns false and
// increments droppedEvents, which the dispatcher later collects via takeDroppedEvents.
func (b *eventBuffer) append(event interface{}) bool {
	if len(b.events) >= b.capacity {
		if !b.capacityExceeded {
			b.capacityExceeded = true
			b.loggers.Warn("Exceeded event queue capacity. Increase capacity to avoid dropping events.")
		}
		b.droppedEvents++
		return false
	}
	b.capacityExceeded = false
	b.events = append(b.events, event)
	return true
}

// drain removes and returns all buffered events, preserving order.
func (b *eventBuffer) drain() []interface{} {
	events := b.events
	b.events = make([]interface{}, 0, b.capacity)
	b.capacityExceeded = false
	return events
}

// takeDroppedEvents returns the number of events dropped to capacity overflow since the last call, and
// resets the count. The dispatcher folds this into its own droppedEventsCounter so that diagnostic
// reporting (spec §6's droppedEvents field) reflects every drop path, not just backpressure drops.
func (b *eventBuffer) takeDroppedEvents() int {
	n := b.droppedEvents
	b.droppedEvents = 0
	return n
}

func (b *eventBuffer) isEmpty() bool {
	return len(b.events) == 0
}

// droppedEventsCounter is the dispatcher's running count of dropped events (buffer overflow plus events in
// snapshots dropped under backpressure), shared with
// diagnostic reporting per spec §5 ("an atomic counter for dropped events observable by the dispatcher
// and diagnostic reporting").
type droppedEventsCounter struct {
	mu    sync.Mutex
	count int
}

func (d *droppedEventsCounter) add(n int) {
	d.mu.Lock()
	d.count += n
	d.mu.Unlock()
}

func (d *droppedEventsCounter) getAndReset() int {
	d.mu.Lock()
	n := d.count
	d.count = 0
	d.mu.Unlock()
	return n
}
