package otel_test

import (
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	checkflow "github.com/petal-labs/checkflow"
	checkotel "github.com/petal-labs/checkflow/otel"
)

func TestEnrichEmitter_PopulatesTraceContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	h := checkotel.NewTracingHandler(tp.Tracer("test"))

	var captured []checkflow.Event
	emit := checkotel.EnrichEmitter(func(e checkflow.Event) {
		captured = append(captured, e)
	}, h)

	now := time.Now()
	h.Handle(checkflow.Event{
		Kind: checkflow.EventRunStarted, RunID: "run-1", Time: now,
		Payload: map[string]any{"pipeline": "qa"},
	})

	// Run-level event falls back to the run span.
	emit(checkflow.Event{Kind: checkflow.EventRunStarted, RunID: "run-1"})

	h.Handle(checkflow.Event{
		Kind: checkflow.EventStepStarted, RunID: "run-1", StepID: "typecheck",
		Tool: "mypy", Time: now,
	})

	// Step-level event picks up the step span.
	emit(checkflow.Event{Kind: checkflow.EventStepStarted, RunID: "run-1", StepID: "typecheck"})

	if len(captured) != 2 {
		t.Fatalf("captured %d events, want 2", len(captured))
	}
	for i, e := range captured {
		if e.TraceID == "" || e.SpanID == "" {
			t.Errorf("event %d missing trace context: trace=%q span=%q", i, e.TraceID, e.SpanID)
		}
	}
	if captured[0].SpanID == captured[1].SpanID {
		t.Error("run-level and step-level events should carry different span IDs")
	}
	if captured[0].TraceID != captured[1].TraceID {
		t.Error("both events should share the run's trace ID")
	}
}

func TestEnrichEmitter_NoActiveSpanPassesThrough(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	h := checkotel.NewTracingHandler(tp.Tracer("test"))

	var captured checkflow.Event
	emit := checkotel.EnrichEmitter(func(e checkflow.Event) { captured = e }, h)

	emit(checkflow.Event{Kind: checkflow.EventRunStarted, RunID: "unknown-run"})

	if captured.TraceID != "" || captured.SpanID != "" {
		t.Errorf("expected no trace context, got trace=%q span=%q", captured.TraceID, captured.SpanID)
	}
}
