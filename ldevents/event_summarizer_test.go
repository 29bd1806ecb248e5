package ldevents

import (
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvalData(key string, version, variation int, ctx ldcontext.Context) EvaluationData {
	return EvaluationData{
		BaseEvent: BaseEvent{CreationDate: 1000, Context: NewEventContext(ctx)},
		Key:       key,
		Version:   ldvalue.NewOptionalInt(version),
		Variation: ldvalue.NewOptionalInt(variation),
		Value:     ldvalue.String("a"),
		Default:   ldvalue.String("z"),
	}
}

func TestEventSummarizerAggregatesCounters(t *testing.T) {
	s := newEventSummarizer()
	ctx := ldcontext.New("userkey")

	s.summarizeEvent(makeEvalData("flag1", 1, 0, ctx))
	s.summarizeEvent(makeEvalData("flag1", 1, 0, ctx))
	s.summarizeEvent(makeEvalData("flag1", 1, 1, ctx))

	snapshot := s.snapshotAndReset()
	require.Len(t, snapshot.counters, 2)

	key0 := counterKey{flagKey: "flag1", version: 1, variation: 0}
	key1 := counterKey{flagKey: "flag1", version: 1, variation: 1}
	assert.Equal(t, 2, snapshot.counters[key0].count)
	assert.Equal(t, 1, snapshot.counters[key1].count)

	kinds := snapshot.contextKinds["flag1"]
	_, hasUserKind := kinds[ctx.Kind()]
	assert.True(t, hasUserKind)
}

func TestEventSummarizerUsesNegativeOneForUnknownVersionOrVariation(t *testing.T) {
	s := newEventSummarizer()
	evt := EvaluationData{
		BaseEvent: BaseEvent{CreationDate: 500, Context: NewEventContext(ldcontext.New("k"))},
		Key:       "flagX",
		Value:     ldvalue.Null(),
		Default:   ldvalue.Null(),
	}
	s.summarizeEvent(evt)
	snapshot := s.snapshotAndReset()

	key := counterKey{flagKey: "flagX", version: -1, variation: -1}
	require.Contains(t, snapshot.counters, key)
	assert.Equal(t, 1, snapshot.counters[key].count)
}

func TestEventSummarizerTracksStartAndEndDate(t *testing.T) {
	s := newEventSummarizer()
	ctx := ldcontext.New("k")
	evt1 := makeEvalData("f", 1, 0, ctx)
	evt1.CreationDate = 100
	evt2 := makeEvalData("f", 1, 0, ctx)
	evt2.CreationDate = 50
	evt3 := makeEvalData("f", 1, 0, ctx)
	evt3.CreationDate = 200

	s.summarizeEvent(evt1)
	s.summarizeEvent(evt2)
	s.summarizeEvent(evt3)

	snapshot := s.snapshotAndReset()
	assert.Equal(t, uint64(50), uint64(snapshot.startDate))
	assert.Equal(t, uint64(200), uint64(snapshot.endDate))
}

func TestEventSummarizerRestoreMergesBackIntoLiveSummary(t *testing.T) {
	s := newEventSummarizer()
	ctx := ldcontext.New("k")

	prev := newEventSummary()
	prev.startDate = 10
	prev.endDate = 20
	prevKey := counterKey{flagKey: "f", version: 1, variation: 0}
	prev.counters[prevKey] = &counterValue{count: 3, flagValue: ldvalue.String("a"), flagDefault: ldvalue.String("z")}
	prev.contextKinds["f"] = map[ldcontext.Kind]struct{}{ctx.Kind(): {}}

	s.summarizeEvent(makeEvalData("f", 1, 0, ctx)) // live summary gets one more of the same counter
	s.restore(prev)

	snapshot := s.snapshotAndReset()
	require.Contains(t, snapshot.counters, prevKey)
	assert.Equal(t, 4, snapshot.counters[prevKey].count)
	assert.Equal(t, uint64(10), uint64(snapshot.startDate))
}

func TestEventSummarizerSnapshotResetsState(t *testing.T) {
	s := newEventSummarizer()
	s.summarizeEvent(makeEvalData("f", 1, 0, ldcontext.New("k")))
	first := s.snapshotAndReset()
	assert.Len(t, first.counters, 1)

	second := s.snapshotAndReset()
	assert.Empty(t, second.counters)
}
