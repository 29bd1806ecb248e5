package ldevents

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// streamInitRecord captures one attempt to open a streaming connection, for the "streamInits" array of
// the periodic diagnostic event. This pipeline has no stream of its own (spec.md's Non-goals exclude the
// streaming transport), but RecordStreamInit is kept as a pass-through hook: an embedding SDK that does
// own a stream can report its connection attempts through the same diagnostic channel as everything else.
type streamInitRecord struct {
	timestamp      ldtime.UnixMillisecondTime
	failed         bool
	durationMillis uint64
}

func (r streamInitRecord) toValue() ldvalue.Value {
	return ldvalue.ObjectBuild().
		Set("timestamp", ldvalue.Float64(float64(r.timestamp))).
		Set("failed", ldvalue.Bool(r.failed)).
		Set("durationMillis", ldvalue.Float64(float64(r.durationMillis))).
		Build()
}

// DiagnosticsManager accumulates the data behind the two diagnostic event kinds spec.md §6 describes: a
// one-time diagnostic-init event with static configuration/platform data, and a periodic diagnostic event
// with counters the dispatcher resets on every send. It holds no opinion about whether or how often those
// events actually go out - that's the dispatcher's job (event_processor.go).
type DiagnosticsManager struct {
	id             ldvalue.Value
	configData     ldvalue.Value
	sdkData        ldvalue.Value
	createdAt      ldtime.UnixMillisecondTime
	periodStart    ldtime.UnixMillisecondTime
	streamInits    []streamInitRecord
	statsEventGate <-chan struct{}
	lock           sync.Mutex
}

// NewDiagnosticID builds the {diagnosticId, sdkKeySuffix} value that identifies one running SDK instance
// across its diagnostic-init and diagnostic events. The suffix is deliberately short - just enough to
// distinguish instances sharing a dashboard without reproducing the key itself.
func NewDiagnosticID(sdkKey string) ldvalue.Value {
	instanceID, _ := uuid.NewRandom()
	suffix := sdkKey
	if len(sdkKey) > 6 {
		suffix = sdkKey[len(sdkKey)-6:]
	}
	return ldvalue.ObjectBuild().
		Set("diagnosticId", ldvalue.String(instanceID.String())).
		Set("sdkKeySuffix", ldvalue.String(suffix)).
		Build()
}

// NewDiagnosticsManager constructs a DiagnosticsManager. configData and sdkData are opaque blobs supplied
// by the embedding SDK (spec.md §6 leaves their exact contents to the host); startTime anchors both the
// init event's creationDate and the first period's dataSinceDate. statsEventGate is test-only: see
// CanSendStatsEvent.
func NewDiagnosticsManager(
	id ldvalue.Value,
	configData ldvalue.Value,
	sdkData ldvalue.Value,
	startTime time.Time,
	statsEventGate <-chan struct{},
) *DiagnosticsManager {
	createdAt := ldtime.UnixMillisFromTime(startTime)
	return &DiagnosticsManager{
		id:             id,
		configData:     configData,
		sdkData:        sdkData,
		createdAt:      createdAt,
		periodStart:    createdAt,
		statsEventGate: statsEventGate,
	}
}

// RecordStreamInit records the outcome of one attempt to establish a streaming connection, for inclusion
// in the next periodic diagnostic event.
func (m *DiagnosticsManager) RecordStreamInit(timestamp ldtime.UnixMillisecondTime, failed bool, durationMillis uint64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.streamInits = append(m.streamInits, streamInitRecord{
		timestamp:      timestamp,
		failed:         failed,
		durationMillis: durationMillis,
	})
}

// CreateInitEvent builds the one-time diagnostic-init event sent when the pipeline starts up.
func (m *DiagnosticsManager) CreateInitEvent() ldvalue.Value {
	return ldvalue.ObjectBuild().
		Set("kind", ldvalue.String("diagnostic-init")).
		Set("id", m.id).
		Set("creationDate", ldvalue.Float64(float64(m.createdAt))).
		Set("sdk", m.sdkData).
		Set("configuration", m.configData).
		Set("platform", currentPlatformData()).
		Build()
}

// currentPlatformData reports the Go runtime details the diagnostic-init event carries. GOOS and GOARCH
// are both the compile-time target of the binary, and Go has no portable way to surface an OS version
// string, so that field is simply omitted rather than guessed at.
func currentPlatformData() ldvalue.Value {
	return ldvalue.ObjectBuild().
		Set("name", ldvalue.String("Go")).
		Set("goVersion", ldvalue.String(runtime.Version())).
		Set("osName", ldvalue.String(normalizeOSName(runtime.GOOS))).
		Set("osArch", ldvalue.String(runtime.GOARCH)).
		Build()
}

// CanSendStatsEvent reports whether the periodic diagnostic event is allowed to go out right now. In
// production this is always true; statsEventGate exists purely so tests can hold the dispatcher back from
// constructing a periodic event until the test has finished arranging its preconditions, by pushing to the
// channel when it's ready.
func (m *DiagnosticsManager) CanSendStatsEvent() bool {
	if m.statsEventGate == nil {
		return true
	}
	select {
	case <-m.statsEventGate:
		return true
	default:
		return false
	}
}

// CreateStatsEventAndReset builds the periodic diagnostic event and resets the window it covers.
// droppedEvents, deduplicatedContexts, and eventsInLastBatch are supplied by the caller rather than
// tracked here because the dispatcher already owns those counters (event_processor.go) and routing them
// through DiagnosticsManager as well would just add another lock to take on every event. The wire field
// for deduplicatedContexts is still named "deduplicatedUsers": spec.md §6 fixes that as the schema's name,
// a holdover from before contexts replaced users in the rest of the protocol.
func (m *DiagnosticsManager) CreateStatsEventAndReset(droppedEvents, deduplicatedContexts, eventsInLastBatch int) ldvalue.Value {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := ldtime.UnixMillisNow()
	inits := ldvalue.ArrayBuildWithCapacity(len(m.streamInits))
	for _, init := range m.streamInits {
		inits.Add(init.toValue())
	}

	event := ldvalue.ObjectBuild().
		Set("kind", ldvalue.String("diagnostic")).
		Set("id", m.id).
		Set("creationDate", ldvalue.Float64(float64(now))).
		Set("dataSinceDate", ldvalue.Float64(float64(m.periodStart))).
		Set("droppedEvents", ldvalue.Int(droppedEvents)).
		Set("deduplicatedUsers", ldvalue.Int(deduplicatedContexts)).
		Set("eventsInLastBatch", ldvalue.Int(eventsInLastBatch)).
		Set("streamInits", inits.Build()).
		Build()

	m.streamInits = nil
	m.periodStart = now
	return event
}

var osDisplayNames = map[string]string{
	"darwin":  "MacOS",
	"windows": "Windows",
	"linux":   "Linux",
}

// normalizeOSName maps a Go GOOS value to the display name the diagnostic schema expects; anything it
// doesn't recognize is passed through unchanged rather than rejected.
func normalizeOSName(goos string) string {
	if name, ok := osDisplayNames[goos]; ok {
		return name
	}
	return goos
}
