// Package ldevents implements the analytics event pipeline that sits between flag evaluation and the
// LaunchDarkly events service: intake of evaluation/identify/custom events, summarization, context
// deduplication, private attribute redaction, debug-mode lifecycle, and HTTP delivery with retry.
//
// This package owns no network listener and no persistent store. It is meant to be embedded in an SDK
// client that produces events (evaluation results, identify/track calls) and wants them delivered without
// blocking the calling goroutine.
package ldevents
