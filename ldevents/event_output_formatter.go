package ldevents

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Event kind strings used in the wire format (spec §4.2).
const (
	FeatureRequestEventKind = "feature"
	FeatureDebugEventKind   = "debug"
	IdentifyEventKind       = "identify"
	CustomEventKind         = "custom"
	IndexEventKind          = "index"
	SummaryEventKind        = "summary"
)

// eventOutputFormatter implements C2: it serializes the buffered events plus the summary snapshot into
// the wire JSON array sent to the events service.
type eventOutputFormatter struct {
	contextFormatter contextFormatter
}

func newEventOutputFormatter(config EventsConfiguration) eventOutputFormatter {
	return eventOutputFormatter{contextFormatter: newContextFormatter(config)}
}

// writeOutputEvents writes the JSON array of output events (one per accepted input event, plus a
// trailing summary element if summary is non-empty) and returns how many elements were written.
func (f eventOutputFormatter) writeOutputEvents(w *jwriter.Writer, events []interface{}, summary eventSummary) int {
	arr := w.Array()
	count := 0
	for _, e := range events {
		if f.writeOutputEvent(w, &arr, e) {
			count++
		}
	}
	if len(summary.counters) > 0 {
		f.writeSummaryEvent(w, &arr, summary)
		count++
	}
	arr.End()
	return count
}

// writeOutputEvent writes a single event. It returns false (writing nothing) if the event's context is
// invalid, per the skip rule in spec §4.2.
func (f eventOutputFormatter) writeOutputEvent(w *jwriter.Writer, arr *jwriter.ArrayState, e interface{}) bool {
	switch evt := e.(type) {
	case EvaluationData:
		if !evt.Context.Valid() {
			return false
		}
		f.writeFeatureEvent(w, arr, evt, false)
		return true
	case debugEventData:
		if !evt.Context.Valid() {
			return false
		}
		f.writeFeatureEvent(w, arr, evt.EvaluationData, true)
		return true
	case IdentifyEventData:
		if !evt.Context.Valid() {
			return false
		}
		obj := arr.Object()
		obj.Name("kind").String(IdentifyEventKind)
		obj.Name("creationDate").Float64(float64(evt.CreationDate))
		obj.Name("context")
		f.contextFormatter.writeContext(w, evt.Context)
		obj.End()
		return true
	case CustomEventData:
		if !evt.Context.Valid() {
			return false
		}
		obj := arr.Object()
		obj.Name("kind").String(CustomEventKind)
		obj.Name("creationDate").Float64(float64(evt.CreationDate))
		obj.Name("key").String(evt.Key)
		f.writeContextKeys(w, &obj, evt.Context)
		if evt.Data.IsDefined() && !evt.Data.IsNull() {
			obj.Name("data")
			evt.Data.WriteToJSONWriter(w)
		}
		if evt.MetricValue != nil {
			obj.Name("metricValue").Float64(*evt.MetricValue)
		}
		obj.End()
		return true
	case indexEventData:
		if !evt.Context.Valid() {
			return false
		}
		obj := arr.Object()
		obj.Name("kind").String(IndexEventKind)
		obj.Name("creationDate").Float64(float64(evt.CreationDate))
		obj.Name("context")
		f.contextFormatter.writeContext(w, evt.Context)
		obj.End()
		return true
	default:
		return false
	}
}

func (f eventOutputFormatter) writeFeatureEvent(w *jwriter.Writer, arr *jwriter.ArrayState, evt EvaluationData, debug bool) {
	obj := arr.Object()
	if debug {
		obj.Name("kind").String(FeatureDebugEventKind)
	} else {
		obj.Name("kind").String(FeatureRequestEventKind)
	}
	obj.Name("creationDate").Float64(float64(evt.CreationDate))
	obj.Name("key").String(evt.Key)
	if evt.Version.IsDefined() {
		obj.Name("version").Int(evt.Version.IntValue())
	}
	if evt.Variation.IsDefined() {
		obj.Name("variation").Int(evt.Variation.IntValue())
	}
	obj.Name("value")
	evt.Value.WriteToJSONWriter(w)
	if evt.Default.IsDefined() {
		obj.Name("default")
		evt.Default.WriteToJSONWriter(w)
	}
	if evt.PrereqOf.IsDefined() {
		obj.Name("prereqOf").String(evt.PrereqOf.StringValue())
	}
	if evt.RequireFullEvent || debug {
		if !evt.Reason.IsDefined() {
			// no reason supplied; omit the field entirely rather than writing a zero-value reason.
		} else {
			obj.Name("reason")
			evt.Reason.WriteToJSONWriter(w)
		}
	}
	if debug {
		obj.Name("context")
		f.contextFormatter.writeContext(w, evt.Context)
	} else {
		f.writeContextKeys(w, &obj, evt.Context)
	}
	obj.End()
}

// writeContextKeys writes the "contextKeys" property: an object mapping each constituent context's kind
// to its key, used on feature/custom events instead of inlining the full context (spec §4.2).
func (f eventOutputFormatter) writeContextKeys(w *jwriter.Writer, obj *jwriter.ObjectState, ec EventInputContext) {
	obj.Name("contextKeys")
	keys := w.Object()
	c := ec.Context()
	if c.Multiple() {
		for i := 0; i < c.IndividualContextCount(); i++ {
			ic := c.IndividualContextByIndex(i)
			if ic.IsDefined() {
				keys.Name(string(ic.Kind())).String(ic.Key())
			}
		}
	} else {
		keys.Name(string(c.Kind())).String(c.Key())
	}
	keys.End()
}

func (f eventOutputFormatter) writeSummaryEvent(w *jwriter.Writer, arr *jwriter.ArrayState, summary eventSummary) {
	obj := arr.Object()
	obj.Name("kind").String(SummaryEventKind)
	obj.Name("startDate").Float64(float64(summary.startDate))
	obj.Name("endDate").Float64(float64(summary.endDate))
	obj.Name("features")
	features := w.Object()

	byFlag := make(map[string][]counterKey)
	for key := range summary.counters {
		byFlag[key.flagKey] = append(byFlag[key.flagKey], key)
	}
	for flagKey, keys := range byFlag {
		features.Name(flagKey)
		flagObj := w.Object()
		flagObj.Name("default")
		summary.counters[keys[0]].flagDefault.WriteToJSONWriter(w)

		flagObj.Name("contextKinds")
		kindsArr := w.Array()
		for kind := range summary.contextKinds[flagKey] {
			kindsArr.String(string(kind))
		}
		kindsArr.End()

		flagObj.Name("counters")
		countersArr := w.Array()
		for _, key := range keys {
			value := summary.counters[key]
			counterObj := countersArr.Object()
			if key.variation >= 0 {
				counterObj.Name("variation").Int(key.variation)
			}
			if key.version >= 0 {
				counterObj.Name("version").Int(key.version)
			} else {
				counterObj.Name("unknown").Bool(true)
			}
			counterObj.Name("value")
			value.flagValue.WriteToJSONWriter(w)
			counterObj.Name("count").Int(value.count)
			counterObj.End()
		}
		countersArr.End()
		flagObj.End()
	}
	features.End()
	obj.End()
}
