package otel

import (
	checkflow "github.com/petal-labs/checkflow"
)

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// When events are emitted, it looks up the active span from the
// TracingHandler and populates the TraceID and SpanID fields on the event.
//
// For step-level events (where StepID is set), the step span is checked
// first. If no step span is found, it falls back to the run-level span.
// When no span is active, the event passes through unchanged.
func EnrichEmitter(emit checkflow.EventEmitter, tracing *TracingHandler) checkflow.EventEmitter {
	return func(e checkflow.Event) {
		// For step-level events, try the step span first.
		if e.StepID != "" {
			sc := tracing.ActiveSpanContext(e.RunID, e.StepID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		// Fallback to run-level span.
		if e.TraceID == "" && e.RunID != "" {
			sc := tracing.ActiveRunSpanContext(e.RunID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}
