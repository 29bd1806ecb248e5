package ldevents

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingEventSender is an in-memory EventSender stand-in, recording every analytics payload it
// receives and letting a test script the result it should return.
type capturingEventSender struct {
	mu       sync.Mutex
	payloads [][]map[string]interface{}
	result   EventSenderResult
}

func newCapturingEventSender() *capturingEventSender {
	return &capturingEventSender{result: EventSenderResult{Success: true}}
}

func (s *capturingEventSender) SendEventData(kind EventDataKind, data []byte, eventCount int) EventSenderResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == AnalyticsEventDataKind {
		var events []map[string]interface{}
		_ = json.Unmarshal(data, &events)
		s.payloads = append(s.payloads, events)
	}
	return s.result
}

func (s *capturingEventSender) allPayloads() [][]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]map[string]interface{}, len(s.payloads))
	copy(out, s.payloads)
	return out
}

func eventuallyHasPayload(t *testing.T, sender *capturingEventSender) []map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if payloads := sender.allPayloads(); len(payloads) > 0 {
			return payloads[len(payloads)-1]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for a delivered payload")
	return nil
}

func newTestProcessor(sender EventSender, dedup ContextDeduplicator) EventProcessor {
	config := EventsConfiguration{
		Capacity:            100,
		FlushInterval:       time.Hour, // tests trigger flushes explicitly
		ContextDeduplicator: dedup,
		EventSender:         sender,
		Loggers:             ldlog.NewDisabledLoggers(),
	}
	return NewDefaultEventProcessor(config)
}

func TestDefaultEventProcessorSendsIdentifyEvent(t *testing.T) {
	sender := newCapturingEventSender()
	ep := newTestProcessor(sender, NewNullContextDeduplicator())
	defer ep.Close()

	ctx := ldcontext.New("user-key")
	ep.RecordIdentifyEvent(IdentifyEventData{BaseEvent{CreationDate: ldtime.UnixMillisNow(), Context: NewEventContext(ctx)}})
	ep.Flush()

	payload := eventuallyHasPayload(t, sender)
	require.Len(t, payload, 1)
	assert.Equal(t, IdentifyEventKind, payload[0]["kind"])
}

func TestDefaultEventProcessorSummarizesUntrackedEvaluations(t *testing.T) {
	sender := newCapturingEventSender()
	ep := newTestProcessor(sender, NewNullContextDeduplicator())
	defer ep.Close()

	ctx := ldcontext.New("user-key")
	for i := 0; i < 3; i++ {
		ep.RecordEvaluation(makeEvalData("flag", 1, 0, ctx))
	}
	ep.Flush()

	payload := eventuallyHasPayload(t, sender)
	require.Len(t, payload, 1) // only the summary; no individual feature events since trackEvents is false
	assert.Equal(t, SummaryEventKind, payload[0]["kind"])
}

func TestDefaultEventProcessorIndexEventSuppressedForKnownContext(t *testing.T) {
	sender := newCapturingEventSender()
	dedup := NewLRUContextDeduplicator(100, time.Hour)
	ep := newTestProcessor(sender, dedup)
	defer ep.Close()

	ctx := ldcontext.New("user-key")
	evt1 := makeEvalData("flag", 1, 0, ctx)
	evt1.RequireFullEvent = true
	evt2 := makeEvalData("flag", 1, 0, ctx)
	evt2.RequireFullEvent = true

	ep.RecordEvaluation(evt1)
	ep.RecordEvaluation(evt2)
	ep.Flush()

	payload := eventuallyHasPayload(t, sender)
	// index, feature, feature, summary
	require.Len(t, payload, 4)
	assert.Equal(t, IndexEventKind, payload[0]["kind"])
	assert.Equal(t, FeatureRequestEventKind, payload[1]["kind"])
	assert.Equal(t, FeatureRequestEventKind, payload[2]["kind"])
	assert.Equal(t, SummaryEventKind, payload[3]["kind"])
}

func TestDefaultEventProcessorDropsEventsPastCapacity(t *testing.T) {
	sender := newCapturingEventSender()
	config := EventsConfiguration{
		Capacity:            1,
		FlushInterval:       time.Hour,
		ContextDeduplicator: NewNullContextDeduplicator(),
		EventSender:         sender,
		Loggers:             ldlog.NewDisabledLoggers(),
	}
	ep := NewDefaultEventProcessor(config)
	defer ep.Close()

	ctx := ldcontext.New("user-key")
	for i := 0; i < 5; i++ {
		evt := makeEvalData("flag", 1, 0, ctx)
		evt.RequireFullEvent = true
		ep.RecordEvaluation(evt)
	}
	ep.Flush()

	payload := eventuallyHasPayload(t, sender)
	assert.Less(t, len(payload), 5)
}

func TestEventDispatcherCountsBufferOverflowAsDroppedEvents(t *testing.T) {
	sender := newCapturingEventSender()
	ed := directDispatcher(sender)
	ed.buffer = newEventBuffer(1, ed.config.Loggers)

	ctx := ldcontext.New("user-key")
	for i := 0; i < 3; i++ {
		evt := makeEvalData("flag", 1, 0, ctx)
		evt.RequireFullEvent = true
		ed.processEvaluation(evt)
	}
	ed.triggerFlush()
	ed.workersGroup.Wait()

	assert.Equal(t, 2, ed.droppedEvents.getAndReset(), "capacity overflow must be counted toward diagnostics")
}

// directDispatcher builds an eventDispatcher without the inbox/goroutine plumbing, so its state-transition
// methods can be driven synchronously from a single test goroutine.
func directDispatcher(sender EventSender) *eventDispatcher {
	config := EventsConfiguration{
		Capacity:    100,
		EventSender: sender,
		Loggers:     ldlog.NewDisabledLoggers(),
	}
	ed := &eventDispatcher{
		config:             config,
		buffer:             newEventBuffer(config.Capacity, config.Loggers),
		summarizer:         newEventSummarizer(),
		flushCh:            make(chan *flushPayload, 1),
		currentTimestampFn: ldtime.UnixMillisNow,
	}
	go ed.runFlushTask()
	return ed
}

func TestEventDispatcherDisablesOnUnrecoverableError(t *testing.T) {
	sender := newCapturingEventSender()
	sender.result = EventSenderResult{MustShutDown: true}
	ed := directDispatcher(sender)

	ctx := ldcontext.New("user-key")
	evt := makeEvalData("flag", 1, 0, ctx)
	evt.RequireFullEvent = true
	ed.processEvaluation(evt)
	ed.triggerFlush()
	ed.workersGroup.Wait()

	assert.True(t, ed.isDisabled())

	// Further events are dropped silently once disabled; a subsequent flush delivers nothing new.
	ed.processEvaluation(evt)
	ed.triggerFlush()
	assert.True(t, ed.buffer.isEmpty())
}

func TestEventDispatcherDebugEventRespectsServerClockSkew(t *testing.T) {
	sender := newCapturingEventSender()
	ed := directDispatcher(sender)

	now := ldtime.UnixMillisNow()
	ed.lastKnownServerTime = now + 10_000 // server clock is ahead of the debug expiration

	evt := makeEvalData("flag", 1, 0, ldcontext.New("user-key"))
	evt.DebugEventsUntilDate = now + 5_000

	assert.False(t, ed.shouldDebugEvent(evt))

	ed.lastKnownServerTime = 0
	assert.True(t, ed.shouldDebugEvent(evt))
}
