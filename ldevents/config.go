package ldevents

import (
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldattr"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
)

// Defaults and bounds for EventsConfiguration, matching the values the teacher SDK ships with.
const (
	// DefaultFlushInterval is how often the dispatcher flushes the buffer/summary if no explicit
	// Flush() call has happened in the meantime.
	DefaultFlushInterval = 5 * time.Second

	// DefaultEventCapacity is the recommended size of the event buffer (EventBuffer capacity, §4.5). It is
	// not applied automatically: a Capacity <= 0 is clamped to 1.
	DefaultEventCapacity = 10_000

	// DefaultContextDeduplicatorCapacity is the default LRU size for the built-in server-side
	// ContextDeduplicator.
	DefaultContextDeduplicatorCapacity = 1000

	// DefaultContextDeduplicatorFlushInterval is how often the built-in ContextDeduplicator forgets
	// which contexts it has seen.
	DefaultContextDeduplicatorFlushInterval = 5 * time.Minute

	// DefaultDiagnosticRecordingInterval is how often periodic diagnostic events are sent when no
	// interval is configured.
	DefaultDiagnosticRecordingInterval = 15 * time.Minute

	// MinimumDiagnosticRecordingInterval is the floor enforced on DiagnosticRecordingInterval (§6,
	// §8: "Diagnostic interval < 60s → clamped to 60s").
	MinimumDiagnosticRecordingInterval = 60 * time.Second

	// DefaultRetryDelay is the delay before the single retry attempt when a delivery fails
	// recoverably (§4.7).
	DefaultRetryDelay = time.Second

	// maxFlushWorkers bounds the number of concurrent in-flight deliveries (§4.6, §5).
	maxFlushWorkers = 5

	currentEventSchema = "4"
)

// EventsConfiguration bundles everything the dispatcher and sender need, corresponding to the
// configuration enumerated in spec §6.
type EventsConfiguration struct {
	// Capacity is the EventBuffer capacity. Values <= 0 are clamped to 1 (§4.5, §8).
	Capacity int

	// FlushInterval is how often the dispatcher automatically flushes. Values <= 0 use
	// DefaultFlushInterval.
	FlushInterval time.Duration

	// AllAttributesPrivate, if true, redacts every context attribute except kind/key/anonymous.
	AllAttributesPrivate bool

	// PrivateAttributes is the global private-attribute list applied to every context.
	PrivateAttributes []ldattr.Ref

	// ContextDeduplicator decides whether a context needs a synthesized index event. May be nil,
	// in which case the dispatcher behaves as if no context is ever new (client-side flavor, §4.4).
	ContextDeduplicator ContextDeduplicator

	// EventSender delivers formatted payloads. Required.
	EventSender EventSender

	// DiagnosticsManager produces diagnostic-init/diagnostic-stats events. May be nil to disable
	// diagnostics entirely.
	DiagnosticsManager *DiagnosticsManager

	// DiagnosticRecordingInterval is how often the periodic diagnostic event is sent. Values below
	// MinimumDiagnosticRecordingInterval are clamped up to it; values <= 0 use
	// DefaultDiagnosticRecordingInterval.
	DiagnosticRecordingInterval time.Duration

	// Loggers receives structured log output for recoverable/unrecoverable delivery errors, malformed
	// server dates, and retry attempts (§6, §7).
	Loggers ldlog.Loggers

	// currentTimeProvider is a test hook; nil means ldtime.UnixMillisNow.
	currentTimeProvider func() ldtime.UnixMillisecondTime

	// forceDiagnosticRecordingInterval is a test hook that bypasses the minimum-interval clamp.
	forceDiagnosticRecordingInterval time.Duration
}
