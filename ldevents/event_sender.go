package ldevents

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
)

const (
	defaultEventsURI  = "https://events.launchdarkly.com"
	eventSchemaHeader = "X-LaunchDarkly-Event-Schema"
	payloadIDHeader   = "X-LaunchDarkly-Payload-ID"
)

// defaultEventSender is the default EventSender implementation (C7): HTTP delivery with a single retry
// on a recoverable error, and unrecoverable-error classification that disables the pipeline (spec §4.7).
type defaultEventSender struct {
	httpClient    *http.Client
	eventsURI     string
	diagnosticURI string
	headers       http.Header
	loggers       ldlog.Loggers
	retryDelay    time.Duration
}

// NewDefaultEventSender creates the default implementation of EventSender. retryDelay is the delay
// before the single retry attempt on a recoverable error (spec §4.7, §6's retryDelayMillis); a
// non-positive value falls back to DefaultRetryDelay.
func NewDefaultEventSender(
	httpClient *http.Client,
	eventsURI string,
	diagnosticURI string,
	headers http.Header,
	loggers ldlog.Loggers,
	retryDelay time.Duration,
) EventSender {
	return &defaultEventSender{httpClient, eventsURI, diagnosticURI, headers, loggers, retryDelay}
}

// NewServerSideEventSender creates the standard implementation of EventSender for server-side SDKs: a
// convenience wrapper around NewDefaultEventSender that fills in the standard event endpoint paths and
// the Authorization header. retryDelay behaves as in NewDefaultEventSender.
func NewServerSideEventSender(
	httpClient *http.Client,
	sdkKey string,
	eventsURI string,
	headers http.Header,
	loggers ldlog.Loggers,
	retryDelay time.Duration,
) EventSender {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	allHeaders := make(http.Header)
	for k, vv := range headers {
		allHeaders[k] = vv
	}
	allHeaders.Set("Authorization", sdkKey)
	if eventsURI == "" {
		eventsURI = defaultEventsURI
	}
	return &defaultEventSender{
		httpClient:    httpClient,
		eventsURI:     strings.TrimRight(eventsURI, "/") + "/bulk",
		diagnosticURI: strings.TrimRight(eventsURI, "/") + "/diagnostic",
		headers:       allHeaders,
		loggers:       loggers,
		retryDelay:    retryDelay,
	}
}

func (s *defaultEventSender) SendEventData(kind EventDataKind, data []byte, eventCount int) EventSenderResult {
	if len(data) == 0 {
		// Nothing to deliver; treat it as a trivial success rather than making an empty request.
		return EventSenderResult{Success: true}
	}

	headers := make(http.Header)
	for k, vv := range s.headers {
		headers[k] = vv
	}
	headers.Set("Content-Type", "application/json; charset=utf-8")

	var uri, description string
	switch kind {
	case AnalyticsEventDataKind:
		uri = s.eventsURI
		description = fmt.Sprintf("%d events", eventCount)
		headers.Set(eventSchemaHeader, currentEventSchema)
		// The payload ID is generated once per delivery attempt sequence, not once per HTTP request: a
		// retry of the same payload must carry the same ID, so the receiving service can recognize and
		// discard a duplicate if both the original request and its retry actually arrived.
		payloadUUID, err := uuid.NewRandom()
		if err == nil {
			headers.Set(payloadIDHeader, payloadUUID.String())
		}
	case DiagnosticEventDataKind:
		uri = s.diagnosticURI
		description = "diagnostic event"
	default:
		return EventSenderResult{}
	}

	s.loggers.Debugf("Sending %s: %s", description, data)

	var resp *http.Response
	var respErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay
			if delay <= 0 {
				delay = DefaultRetryDelay
			}
			s.loggers.Warnf("Will retry posting events after %f second", delay/time.Second)
			time.Sleep(delay)
		}
		req, reqErr := http.NewRequest("POST", uri, bytes.NewReader(data))
		if reqErr != nil {
			s.loggers.Errorf("Unexpected error while creating event request: %+v", reqErr)
			return EventSenderResult{}
		}
		req.Header = headers

		resp, respErr = s.httpClient.Do(req)

		if resp != nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		if respErr != nil {
			s.loggers.Warnf("Unexpected error while sending events: %+v", respErr)
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result := EventSenderResult{Success: true}
			if t, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
				result.ServerTime = ldtime.UnixMillisFromTime(t)
			} else if resp.Header.Get("Date") != "" {
				s.loggers.Warnf("Received invalid Date header from events service: %s", resp.Header.Get("Date"))
			}
			return result
		}
		if isHTTPErrorRecoverable(resp.StatusCode) {
			maybeRetry := "will retry"
			if attempt == 1 {
				maybeRetry = "some events were dropped"
			}
			s.loggers.Warn(httpErrorMessage(resp.StatusCode, "sending events", maybeRetry))
		} else {
			s.loggers.Warn(httpErrorMessage(resp.StatusCode, "sending events", ""))
			return EventSenderResult{MustShutDown: true}
		}
	}
	return EventSenderResult{}
}

// isHTTPErrorRecoverable tests whether an HTTP error status represents a condition that might resolve on
// its own if we retry, or at least should not make us permanently stop sending requests.
func isHTTPErrorRecoverable(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		switch statusCode {
		case 400, 408, 429:
			return true
		default:
			return false // all other 4xx errors are unrecoverable
		}
	}
	return true
}

func httpErrorMessage(statusCode int, context string, recoverableMessage string) string {
	statusDesc := ""
	if statusCode == 401 || statusCode == 403 {
		statusDesc = " (invalid SDK key)"
	}
	resultMessage := recoverableMessage
	if !isHTTPErrorRecoverable(statusCode) {
		resultMessage = "giving up permanently"
	}
	return fmt.Sprintf("Received HTTP error %d%s for %s, %s", statusCode, statusDesc, context, resultMessage)
}
