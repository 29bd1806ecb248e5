package ldevents

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// counterKey identifies one aggregated counter within a summary. version/variation use -1 for "unknown"
// per spec §3 ("Unknown flag evaluations use version=-1, variation=-1").
type counterKey struct {
	flagKey   string
	version   int
	variation int
}

type counterValue struct {
	count       int
	flagValue   ldvalue.Value
	flagDefault ldvalue.Value
}

// eventSummary is the snapshot produced by eventSummarizer.snapshotAndReset(), matching spec §3's
// Summary type.
type eventSummary struct {
	startDate    ldtime.UnixMillisecondTime
	endDate      ldtime.UnixMillisecondTime
	counters     map[counterKey]*counterValue
	contextKinds map[string]map[ldcontext.Kind]struct{}
}

func newEventSummary() eventSummary {
	return eventSummary{
		counters:     make(map[counterKey]*counterValue),
		contextKinds: make(map[string]map[ldcontext.Kind]struct{}),
	}
}

// eventSummarizer implements C3. Its methods are deliberately not thread-safe: they are only ever called
// from the dispatcher's single processing goroutine (spec §5).
type eventSummarizer struct {
	summary eventSummary
}

func newEventSummarizer() eventSummarizer {
	return eventSummarizer{summary: newEventSummary()}
}

// summarizeEvent records one flag evaluation. It is called for every EvaluationData regardless of that
// event's trackEvents setting (spec §3 invariant: "Every event whose trackEvents is false is fully
// represented in the summary").
func (s *eventSummarizer) summarizeEvent(evt EvaluationData) {
	version := -1
	if evt.Version.IsDefined() {
		version = evt.Version.IntValue()
	}
	variation := -1
	if evt.Variation.IsDefined() {
		variation = evt.Variation.IntValue()
	}

	key := counterKey{flagKey: evt.Key, version: version, variation: variation}
	if cv, ok := s.summary.counters[key]; ok {
		cv.count++
	} else {
		s.summary.counters[key] = &counterValue{
			count:       1,
			flagValue:   evt.Value,
			flagDefault: evt.Default,
		}
	}

	kinds := s.summary.contextKinds[evt.Key]
	if kinds == nil {
		kinds = make(map[ldcontext.Kind]struct{})
		s.summary.contextKinds[evt.Key] = kinds
	}
	c := evt.Context.Context()
	if c.Multiple() {
		for i := 0; i < c.IndividualContextCount(); i++ {
			ic := c.IndividualContextByIndex(i)
			if ic.IsDefined() {
				kinds[ic.Kind()] = struct{}{}
			}
		}
	} else if c.IsDefined() {
		kinds[c.Kind()] = struct{}{}
	}

	if s.summary.startDate == 0 || evt.CreationDate < s.summary.startDate {
		s.summary.startDate = evt.CreationDate
	}
	if evt.CreationDate > s.summary.endDate {
		s.summary.endDate = evt.CreationDate
	}
}

// snapshotAndReset returns the current summary and starts a new one.
func (s *eventSummarizer) snapshotAndReset() eventSummary {
	snapshot := s.summary
	s.summary = newEventSummary()
	return snapshot
}

// restore replaces the current summary with an earlier one, merging in anything accumulated since, for
// delivery-failure paths that want to coalesce an undelivered snapshot back into the live summary
// instead of losing it (spec §4.3).
func (s *eventSummarizer) restore(prev eventSummary) {
	if len(prev.counters) == 0 {
		return
	}
	for key, value := range prev.counters {
		if existing, ok := s.summary.counters[key]; ok {
			existing.count += value.count
		} else {
			s.summary.counters[key] = value
		}
	}
	for flagKey, kinds := range prev.contextKinds {
		dst := s.summary.contextKinds[flagKey]
		if dst == nil {
			dst = make(map[ldcontext.Kind]struct{})
			s.summary.contextKinds[flagKey] = dst
		}
		for k := range kinds {
			dst[k] = struct{}{}
		}
	}
	if s.summary.startDate == 0 || (prev.startDate != 0 && prev.startDate < s.summary.startDate) {
		s.summary.startDate = prev.startDate
	}
	if prev.endDate > s.summary.endDate {
		s.summary.endDate = prev.endDate
	}
}
