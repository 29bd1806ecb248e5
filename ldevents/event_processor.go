package ldevents

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// defaultEventProcessor is the EventProcessor implementation returned by NewDefaultEventProcessor. It is
// a thin, thread-safe façade: all it does is post messages onto the dispatcher's inbox channel. The
// summarizer, deduplicator and buffer (C3, C4, C5) belong exclusively to the eventDispatcher goroutine
// started alongside it (spec §5); disabled and lastKnownServerTime are also written by the delivery
// workers, under stateLock.
type defaultEventProcessor struct {
	inboxCh       chan eventDispatcherMessage
	inboxFullOnce sync.Once
	closeOnce     sync.Once
	loggers       ldlog.Loggers
}

// eventDispatcher is C6: the single-owner state machine described in spec §4.6.
type eventDispatcher struct {
	config              EventsConfiguration
	buffer              *eventBuffer
	summarizer          eventSummarizer
	droppedEvents       droppedEventsCounter
	flushCh             chan *flushPayload
	workersGroup        sync.WaitGroup
	inFlightFlushes     int32
	lastKnownServerTime ldtime.UnixMillisecondTime
	deduplicatedContext int
	eventsInLastBatch   int
	disabled            bool
	currentTimestampFn  func() ldtime.UnixMillisecondTime
	stateLock           sync.Mutex
}

type flushPayload struct {
	diagnosticEvent ldvalue.Value
	events          []interface{}
	summary         eventSummary
}

// eventDispatcherMessage is the payload type carried on the inbox channel.
type eventDispatcherMessage interface{}

type recordEvaluationMessage struct{ data EvaluationData }
type recordIdentifyMessage struct{ data IdentifyEventData }
type recordCustomMessage struct{ data CustomEventData }
type flushEventsMessage struct{}
type shutdownEventsMessage struct{ replyCh chan struct{} }

// NewDefaultEventProcessor creates the default EventProcessor implementation: a dispatcher goroutine plus
// a bounded pool of delivery goroutines (spec §5).
func NewDefaultEventProcessor(config EventsConfiguration) EventProcessor {
	capacity := config.Capacity
	if capacity < 1 {
		capacity = 1
	}
	inboxCh := make(chan eventDispatcherMessage, capacity)
	startEventDispatcher(config, inboxCh)
	return &defaultEventProcessor{inboxCh: inboxCh, loggers: config.Loggers}
}

func (ep *defaultEventProcessor) RecordEvaluation(data EvaluationData) {
	ep.postNonBlockingMessageToInbox(recordEvaluationMessage{data: data})
}

func (ep *defaultEventProcessor) RecordIdentifyEvent(data IdentifyEventData) {
	ep.postNonBlockingMessageToInbox(recordIdentifyMessage{data: data})
}

func (ep *defaultEventProcessor) RecordCustomEvent(data CustomEventData) {
	ep.postNonBlockingMessageToInbox(recordCustomMessage{data: data})
}

func (ep *defaultEventProcessor) Flush() {
	ep.postNonBlockingMessageToInbox(flushEventsMessage{})
}

// postNonBlockingMessageToInbox enqueues a message without ever blocking the caller. If the inbox is
// full, the message (and hence the event it carries) is dropped; a warning is logged exactly once
// (spec §5, §12).
func (ep *defaultEventProcessor) postNonBlockingMessageToInbox(e eventDispatcherMessage) {
	select {
	case ep.inboxCh <- e:
		return
	default:
	}
	// If the inbox is full, the dispatcher is seriously backed up with unprocessed events. This is
	// unlikely, but waiting for room would risk a very serious slowdown of the calling application, so
	// we drop the event instead. The warning about it is only logged once.
	ep.inboxFullOnce.Do(func() {
		ep.loggers.Warn("Events are being produced faster than they can be processed; some events will be dropped")
	})
}

func (ep *defaultEventProcessor) Close() error {
	ep.closeOnce.Do(func() {
		// These two go directly into the channel instead of through postNonBlockingMessageToInbox,
		// because we do want to block here to guarantee room: an orderly shutdown needs them delivered.
		ep.inboxCh <- flushEventsMessage{}
		m := shutdownEventsMessage{replyCh: make(chan struct{})}
		ep.inboxCh <- m
		<-m.replyCh
	})
	return nil
}

func startEventDispatcher(config EventsConfiguration, inboxCh <-chan eventDispatcherMessage) {
	ed := &eventDispatcher{
		config:             config,
		buffer:             newEventBuffer(config.Capacity, config.Loggers),
		summarizer:         newEventSummarizer(),
		flushCh:            make(chan *flushPayload, 1),
		currentTimestampFn: config.currentTimeProvider,
	}
	if ed.currentTimestampFn == nil {
		ed.currentTimestampFn = ldtime.UnixMillisNow
	}

	// Start a fixed-size pool of workers waiting on flushCh; this bounds how many deliveries can be
	// in flight at once (spec §5).
	for i := 0; i < maxFlushWorkers; i++ {
		go ed.runFlushTask()
	}
	if config.DiagnosticsManager != nil {
		ed.sendDiagnosticsEvent(config.DiagnosticsManager.CreateInitEvent())
	}
	go ed.runMainLoop(inboxCh)
}

func (ed *eventDispatcher) runMainLoop(inboxCh <-chan eventDispatcherMessage) {
	flushInterval := ed.config.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	flushTicker := time.NewTicker(flushInterval)
	defer flushTicker.Stop()

	var dedupTickerCh <-chan time.Time
	if ed.config.ContextDeduplicator != nil {
		if interval, ok := ed.config.ContextDeduplicator.FlushInterval(); ok && interval > 0 {
			dedupTicker := time.NewTicker(interval)
			defer dedupTicker.Stop()
			dedupTickerCh = dedupTicker.C
		}
	}

	diagnosticsManager := ed.config.DiagnosticsManager
	var diagnosticsTickerCh <-chan time.Time
	if diagnosticsManager != nil {
		diagnosticsTicker := time.NewTicker(ed.diagnosticInterval())
		defer diagnosticsTicker.Stop()
		diagnosticsTickerCh = diagnosticsTicker.C
	}

	for {
		select {
		case message := <-inboxCh:
			switch m := message.(type) {
			case recordEvaluationMessage:
				ed.processEvaluation(m.data)
			case recordIdentifyMessage:
				ed.processIdentify(m.data)
			case recordCustomMessage:
				ed.processCustom(m.data)
			case flushEventsMessage:
				ed.triggerFlush()
			case shutdownEventsMessage:
				ed.workersGroup.Wait() // wait for all in-progress flushes to complete
				close(ed.flushCh)      // causes idle flush workers to terminate
				m.replyCh <- struct{}{}
				return
			}
		case <-flushTicker.C:
			ed.triggerFlush()
		case <-dedupTickerCh:
			ed.config.ContextDeduplicator.Flush()
		case <-diagnosticsTickerCh:
			if !diagnosticsManager.CanSendStatsEvent() {
				break
			}
			event := diagnosticsManager.CreateStatsEventAndReset(
				ed.droppedEvents.getAndReset(),
				ed.deduplicatedContext,
				ed.eventsInLastBatch,
			)
			ed.deduplicatedContext = 0
			ed.eventsInLastBatch = 0
			ed.sendDiagnosticsEvent(event)
		}
	}
}

func (ed *eventDispatcher) diagnosticInterval() time.Duration {
	if ed.config.forceDiagnosticRecordingInterval > 0 {
		return ed.config.forceDiagnosticRecordingInterval
	}
	interval := ed.config.DiagnosticRecordingInterval
	if interval <= 0 {
		return DefaultDiagnosticRecordingInterval
	}
	if interval < MinimumDiagnosticRecordingInterval {
		return MinimumDiagnosticRecordingInterval
	}
	return interval
}

// processEvaluation implements spec §4.6 step 2.
func (ed *eventDispatcher) processEvaluation(data EvaluationData) {
	if ed.isDisabled() || !data.Context.Valid() {
		return
	}
	ed.summarizer.summarizeEvent(data)

	if ed.noteContextSeen(data.Context) {
		ed.buffer.append(indexEventData{BaseEvent{CreationDate: data.CreationDate, Context: data.Context}})
	}
	if data.RequireFullEvent {
		ed.buffer.append(data)
	}
	if ed.shouldDebugEvent(data) {
		ed.buffer.append(debugEventData{data})
	}
}

// processIdentify implements spec §4.6 step 3: an identify event is always appended in full, and it
// marks its context as seen so no later Index event is synthesized for it in the same window.
func (ed *eventDispatcher) processIdentify(data IdentifyEventData) {
	if ed.isDisabled() || !data.Context.Valid() {
		return
	}
	ed.noteContextSeen(data.Context)
	ed.buffer.append(data)
}

// processCustom implements spec §4.6 step 4.
func (ed *eventDispatcher) processCustom(data CustomEventData) {
	if ed.isDisabled() || !data.Context.Valid() {
		return
	}
	if ed.noteContextSeen(data.Context) {
		ed.buffer.append(indexEventData{BaseEvent{CreationDate: data.CreationDate, Context: data.Context}})
	}
	ed.buffer.append(data)
}

// noteContextSeen asks the configured ContextDeduplicator whether this context is new, counting it as
// deduplicated otherwise. A nil ContextDeduplicator behaves as "never new" (client-side flavor, §4.4).
func (ed *eventDispatcher) noteContextSeen(ec EventInputContext) bool {
	if ed.config.ContextDeduplicator == nil {
		return false
	}
	isNew := ed.config.ContextDeduplicator.ProcessContext(ec.Context())
	if !isNew {
		ed.deduplicatedContext++
	}
	return isNew
}

// shouldDebugEvent implements the debug-activation rule of spec §4.6/§4.7/§8: an evaluation is debug
// eligible only while DebugEventsUntilDate is later than both the current local clock and the most
// recently known server clock, so a skewed local clock can never extend the debug window.
func (ed *eventDispatcher) shouldDebugEvent(data EvaluationData) bool {
	if data.DebugEventsUntilDate == 0 {
		return false
	}
	ed.stateLock.Lock() // infrequent: only evaluated for flags with debugging turned on
	defer ed.stateLock.Unlock()
	return data.DebugEventsUntilDate > ed.lastKnownServerTime &&
		data.DebugEventsUntilDate > ed.currentTimestampFn()
}

func (ed *eventDispatcher) isDisabled() bool {
	ed.stateLock.Lock()
	defer ed.stateLock.Unlock()
	return ed.disabled
}

func (ed *eventDispatcher) handleResult(result EventSenderResult) {
	if result.MustShutDown {
		ed.stateLock.Lock()
		ed.disabled = true
		ed.stateLock.Unlock()
	} else if result.ServerTime > 0 {
		ed.stateLock.Lock()
		ed.lastKnownServerTime = result.ServerTime
		ed.stateLock.Unlock()
	}
}

// triggerFlush implements the flush/backpressure logic of spec §4.6 and §4.5: snapshot the buffer and
// summary, then either hand them to the workers through the one-slot flushCh or, if every worker is busy
// and a previous snapshot is already waiting in flushCh, drop the snapshot.
func (ed *eventDispatcher) triggerFlush() {
	if ed.isDisabled() {
		ed.buffer.drain()
		ed.droppedEvents.add(ed.buffer.takeDroppedEvents())
		ed.summarizer.snapshotAndReset()
		return
	}

	events := ed.buffer.drain()
	ed.droppedEvents.add(ed.buffer.takeDroppedEvents())
	summary := ed.summarizer.snapshotAndReset()
	totalCount := len(events)
	if len(summary.counters) > 0 {
		totalCount++
	}
	if totalCount == 0 {
		ed.eventsInLastBatch = 0
		return
	}

	atomic.AddInt32(&ed.inFlightFlushes, 1)
	ed.workersGroup.Add(1)
	select {
	case ed.flushCh <- &flushPayload{events: events, summary: summary}:
		ed.eventsInLastBatch = totalCount
	default:
		// Every worker is already busy and another payload is already waiting for one; this snapshot is
		// dropped rather than blocking the dispatcher goroutine (backpressure-by-dropping, spec §5).
		atomic.AddInt32(&ed.inFlightFlushes, -1)
		ed.workersGroup.Done()
		ed.droppedEvents.add(len(events))
	}
}

func (ed *eventDispatcher) sendDiagnosticsEvent(event ldvalue.Value) {
	atomic.AddInt32(&ed.inFlightFlushes, 1)
	ed.workersGroup.Add(1)
	select {
	case ed.flushCh <- &flushPayload{diagnosticEvent: event}:
	default:
		// Diagnostic data is nonessential; we'll send another one later rather than apply backpressure
		// for it.
		atomic.AddInt32(&ed.inFlightFlushes, -1)
		ed.workersGroup.Done()
	}
}

// runFlushTask is one of the fixed-size pool of delivery workers described in spec §5.
func (ed *eventDispatcher) runFlushTask() {
	formatter := newEventOutputFormatter(ed.config)
	for payload := range ed.flushCh {
		if !payload.diagnosticEvent.IsNull() {
			data, err := json.Marshal(payload.diagnosticEvent)
			if err != nil {
				ed.config.Loggers.Errorf("Unexpected error marshalling diagnostic event: %+v", err)
			} else {
				_ = ed.config.EventSender.SendEventData(DiagnosticEventDataKind, data, 1)
			}
		} else {
			data, count := ed.formatAnalyticsPayload(formatter, payload.events, payload.summary)
			if count > 0 {
				result := ed.config.EventSender.SendEventData(AnalyticsEventDataKind, data, count)
				ed.handleResult(result)
			}
		}
		ed.workersGroup.Done()
		atomic.AddInt32(&ed.inFlightFlushes, -1)
	}
}

func (ed *eventDispatcher) formatAnalyticsPayload(
	formatter eventOutputFormatter,
	events []interface{},
	summary eventSummary,
) ([]byte, int) {
	w := jwriter.NewWriter()
	count := formatter.writeOutputEvents(&w, events, summary)
	if count == 0 {
		return nil, 0
	}
	data, err := w.Bytes()
	if err != nil {
		ed.config.Loggers.Errorf("Unexpected error marshalling event JSON: %+v", err)
		return nil, 0
	}
	return data, count
}
