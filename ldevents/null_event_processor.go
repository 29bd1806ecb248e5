package ldevents

type nullEventProcessor struct{}

// NewNullEventProcessor creates a no-op EventProcessor, for configurations where event sending has been
// disabled entirely (e.g. SendEvents=false).
func NewNullEventProcessor() EventProcessor {
	return nullEventProcessor{}
}

func (nullEventProcessor) RecordEvaluation(EvaluationData)       {}
func (nullEventProcessor) RecordIdentifyEvent(IdentifyEventData) {}
func (nullEventProcessor) RecordCustomEvent(CustomEventData)     {}
func (nullEventProcessor) Flush()                                {}
func (nullEventProcessor) Close() error                          { return nil }
