package ldevents

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// EventInputContext wraps the context attached to an intake event. Normally it just holds an
// ldcontext.Context, but if the context has already been serialized and redacted by an upstream
// component (for instance a relay proxying events on behalf of another SDK) it can instead carry the
// preformatted JSON directly, in which case the context formatter emits it verbatim.
type EventInputContext struct {
	context       ldcontext.Context
	preserialized []byte
}

// NewEventContext wraps a context that has not been redacted yet; the context formatter will apply
// redaction when the event is written out.
func NewEventContext(context ldcontext.Context) EventInputContext {
	return EventInputContext{context: context}
}

// PreserializedContext wraps a context whose JSON representation has already been computed (and, if
// applicable, already redacted) by the caller. The context formatter writes preserializedJSON as-is.
func PreserializedContext(context ldcontext.Context, preserializedJSON []byte) EventInputContext {
	return EventInputContext{context: context, preserialized: preserializedJSON}
}

// Context returns the underlying ldcontext.Context.
func (c EventInputContext) Context() ldcontext.Context {
	return c.context
}

// Valid reports whether the context (and, for a multi-kind context, every constituent context) has a
// non-empty kind and key, per the validity rule in spec §3.
func (c EventInputContext) Valid() bool {
	return c.context.Err() == nil
}

// BaseEvent carries the fields common to every intake event kind.
type BaseEvent struct {
	CreationDate ldtime.UnixMillisecondTime
	Context      EventInputContext
}

// EvaluationData represents a single flag evaluation result reported to the pipeline. It corresponds to
// the FeatureRequest variant of spec §3.
type EvaluationData struct {
	BaseEvent

	// Key is the flag key being evaluated.
	Key string

	// Version is the flag's version, or undefined if the flag was unknown to the evaluator.
	Version ldvalue.OptionalInt

	// Variation is the variation index that was returned, or undefined if none (e.g. an error result).
	Variation ldvalue.OptionalInt

	Value   ldvalue.Value
	Default ldvalue.Value

	// PrereqOf is set when this evaluation happened only because the flag was a prerequisite of
	// another flag.
	PrereqOf ldvalue.OptionalString

	// Reason is included in the output event only when the evaluator supplied one and full event
	// tracking (RequireFullEvent or debugging) applies to this event.
	Reason ldreason.EvaluationReason

	// RequireFullEvent is true if the flag's own trackEvents setting (or an experiment rule) means a
	// full feature event must be produced in addition to the summary counter.
	RequireFullEvent bool

	// DebugEventsUntilDate is nonzero if temporary debug-mode tracking is active for this flag.
	DebugEventsUntilDate ldtime.UnixMillisecondTime
}

// IdentifyEventData represents an explicit identify call.
type IdentifyEventData struct {
	BaseEvent
}

// CustomEventData represents an application-defined custom/track event.
type CustomEventData struct {
	BaseEvent

	Key         string
	Data        ldvalue.Value
	MetricValue *float64
}

// indexEventData is synthesized internally by the dispatcher (spec §3: "Index: Synthesized only") and
// is never constructed by a caller.
type indexEventData struct {
	BaseEvent
}

// debugEventData is the debug-mode copy of an EvaluationData, synthesized internally when debugging is
// active (spec §4.6 step 2).
type debugEventData struct {
	EvaluationData
}
