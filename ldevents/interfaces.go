package ldevents

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
)

// EventProcessor is the event intake API (spec §4.6, "Event intake API (evaluation, identify, custom,
// index events)"). Index events are never submitted directly; the dispatcher synthesizes them.
//
// Every method is infallible from the caller's perspective (spec §7): invalid input is dropped silently,
// buffer overflow is counted silently, and delivery failures never propagate back to the caller.
type EventProcessor interface {
	// RecordEvaluation records a single flag evaluation result.
	RecordEvaluation(EvaluationData)

	// RecordIdentifyEvent records an explicit identify call.
	RecordIdentifyEvent(IdentifyEventData)

	// RecordCustomEvent records an application-defined custom/track event.
	RecordCustomEvent(CustomEventData)

	// Flush asks for an out-of-band flush as soon as possible. This is asynchronous: events may not
	// actually be sent until sometime after Flush returns.
	Flush()

	// Close drains the buffer, performs one final flush, and waits for it (and any already in-flight
	// deliveries) to complete before returning. After Close, all other methods are no-ops.
	Close() error
}

// EventSender implements C7: delivery of an already-formatted payload to the events service.
type EventSender interface {
	// SendEventData attempts to deliver data (count events, for an analytics payload; ignored for a
	// diagnostic payload) to the events service, using the sender's analytics (/bulk) or diagnostic
	// (/diagnostic) endpoint according to kind.
	SendEventData(kind EventDataKind, data []byte, eventCount int) EventSenderResult
}

// EventDataKind selects which endpoint/headers SendEventData uses.
type EventDataKind string

const (
	// AnalyticsEventDataKind denotes a payload of analytics event data, posted to <base>/bulk.
	AnalyticsEventDataKind EventDataKind = "analytics"
	// DiagnosticEventDataKind denotes a payload of diagnostic event data, posted to <base>/diagnostic.
	DiagnosticEventDataKind EventDataKind = "diagnostic"
)

// EventSenderResult is the result record described in spec §4.7/§9, replacing exception-based control
// flow around delivery failures.
type EventSenderResult struct {
	// Success is true if the payload was delivered (or the payload was empty, per the short-circuit in
	// spec §4.7).
	Success bool

	// MustShutDown is true if the server returned an unrecoverable error (401, 403, or any other 4xx
	// besides 400/408/429). The dispatcher disables the pipeline permanently when this is set.
	MustShutDown bool

	// ServerTime is the server's Date header from the final successful response, if present and
	// parseable; zero otherwise.
	ServerTime ldtime.UnixMillisecondTime
}

// FlagEventProperties describes the subset of a feature flag's configuration that the events package
// needs in order to decide full-event-tracking and debug-mode behavior, without depending on the flag
// evaluation engine itself (which is out of scope for this package per spec §1).
type FlagEventProperties interface {
	// GetKey returns the feature flag key.
	GetKey() string
	// GetVersion returns the feature flag version.
	GetVersion() int
	// IsFullEventTrackingEnabled returns true if the flag is configured to always generate full
	// (non-summarized) event data.
	IsFullEventTrackingEnabled() bool
	// GetDebugEventsUntilDate returns zero normally, or the expiration time if temporary event
	// debugging is currently enabled for the flag.
	GetDebugEventsUntilDate() ldtime.UnixMillisecondTime
	// IsExperimentationEnabled returns true if, given the evaluation's reason, the event should have
	// full tracking enabled (and always report the reason) even if the application didn't ask for it.
	IsExperimentationEnabled(reason ldreason.EvaluationReason) bool
}
