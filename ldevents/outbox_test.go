package ldevents

import (
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBufferAppendAndDrain(t *testing.T) {
	b := newEventBuffer(10, ldlog.NewDisabledLoggers())
	assert.True(t, b.isEmpty())

	assert.True(t, b.append("one"))
	assert.True(t, b.append("two"))
	assert.False(t, b.isEmpty())

	drained := b.drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "one", drained[0])
	assert.True(t, b.isEmpty())
}

func TestEventBufferDropsOnceFull(t *testing.T) {
	b := newEventBuffer(2, ldlog.NewDisabledLoggers())
	assert.True(t, b.append("one"))
	assert.True(t, b.append("two"))
	assert.False(t, b.append("three"))

	drained := b.drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 1, b.droppedEvents)
}

func TestEventBufferTakeDroppedEventsResets(t *testing.T) {
	b := newEventBuffer(1, ldlog.NewDisabledLoggers())
	assert.True(t, b.append("one"))
	assert.False(t, b.append("two"))
	assert.False(t, b.append("three"))

	assert.Equal(t, 2, b.takeDroppedEvents())
	assert.Equal(t, 0, b.takeDroppedEvents())
}

func TestEventBufferClampsNonPositiveCapacityToOne(t *testing.T) {
	b := newEventBuffer(0, ldlog.NewDisabledLoggers())
	assert.True(t, b.append("one"))
	assert.False(t, b.append("two"))
}

func TestDroppedEventsCounterAddAndReset(t *testing.T) {
	var c droppedEventsCounter
	c.add(3)
	c.add(2)
	assert.Equal(t, 5, c.getAndReset())
	assert.Equal(t, 0, c.getAndReset())
}
