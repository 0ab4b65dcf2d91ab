// Package otel provides OpenTelemetry integration for checkflow runtime events.
package otel

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	checkflow "github.com/petal-labs/checkflow"
)

// TracingHandler translates checkflow runtime events into OpenTelemetry
// spans. It maintains maps of active run and step spans, creating and ending
// them based on event kind.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span      // runID -> span
	runCtxs   map[string]context.Context // runID -> context (for child spans)
	stepSpans map[string]trace.Span      // runID:stepID -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from runtime events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		stepSpans: make(map[string]trace.Span),
	}
}

// Handle processes a runtime event and creates or ends spans accordingly.
// It implements checkflow.EventHandler semantics.
func (h *TracingHandler) Handle(e checkflow.Event) {
	switch e.Kind {
	case checkflow.EventRunStarted:
		h.handleRunStarted(e)
	case checkflow.EventStepStarted:
		h.handleStepStarted(e)
	case checkflow.EventStepFinished:
		h.handleStepFinished(e)
	case checkflow.EventStepFailed:
		h.handleStepFailed(e)
	case checkflow.EventRunFinished:
		h.handleRunFinished(e)
	}
}

// ActiveRunSpanContext returns the span context of the run's root span, if any.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if span, ok := h.runSpans[runID]; ok {
		return span.SpanContext()
	}
	return trace.SpanContext{}
}

// ActiveSpanContext returns the span context of an active step span, if any.
func (h *TracingHandler) ActiveSpanContext(runID, stepID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if span, ok := h.stepSpans[runID+":"+stepID]; ok {
		return span.SpanContext()
	}
	return trace.SpanContext{}
}

// handleRunStarted creates a root span for the run.
func (h *TracingHandler) handleRunStarted(e checkflow.Event) {
	pipelineName := ""
	if name, ok := e.Payload["pipeline"]; ok {
		if s, ok := name.(string); ok {
			pipelineName = s
		}
	}

	spanName := "run:" + e.RunID
	if pipelineName != "" {
		spanName = "run:" + pipelineName
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("checkflow.run_id", e.RunID),
		),
		trace.WithTimestamp(e.Time),
	)

	if pipelineName != "" {
		span.SetAttributes(attribute.String("checkflow.pipeline", pipelineName))
	}

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

// handleStepStarted creates a child span under the run span.
func (h *TracingHandler) handleStepStarted(e checkflow.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()

	if !ok {
		// No parent run span; start from background context.
		parentCtx = context.Background()
	}

	spanName := "step:" + e.StepID

	_, span := h.tracer.Start(parentCtx, spanName,
		trace.WithAttributes(
			attribute.String("checkflow.run_id", e.RunID),
			attribute.String("checkflow.step_id", e.StepID),
			attribute.String("checkflow.tool", e.Tool),
		),
		trace.WithTimestamp(e.Time),
	)

	key := e.RunID + ":" + e.StepID
	h.mu.Lock()
	h.stepSpans[key] = span
	h.mu.Unlock()
}

// handleStepFinished ends the step span with success status.
func (h *TracingHandler) handleStepFinished(e checkflow.Event) {
	key := e.RunID + ":" + e.StepID

	h.mu.Lock()
	span, ok := h.stepSpans[key]
	if ok {
		delete(h.stepSpans, key)
	}
	h.mu.Unlock()

	if ok {
		span.SetAttributes(attribute.Int("checkflow.exit_code", 0))
		span.SetStatus(codes.Ok, "")
		span.End(trace.WithTimestamp(e.Time))
	}
}

// handleStepFailed ends the step span with error status.
func (h *TracingHandler) handleStepFailed(e checkflow.Event) {
	key := e.RunID + ":" + e.StepID

	h.mu.Lock()
	span, ok := h.stepSpans[key]
	if ok {
		delete(h.stepSpans, key)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	if code, found := e.Payload["exit_code"]; found {
		if n, ok := code.(int); ok {
			span.SetAttributes(attribute.Int("checkflow.exit_code", n))
		}
	}

	errMsg := "tool exited non-zero"
	if msg, found := e.Payload["error"]; found {
		if s, ok := msg.(string); ok {
			errMsg = s
		}
	}
	span.SetStatus(codes.Error, errMsg)
	span.RecordError(
		spanError(errMsg),
		trace.WithTimestamp(e.Time),
	)
	span.End(trace.WithTimestamp(e.Time))
}

// handleRunFinished ends the root run span.
func (h *TracingHandler) handleRunFinished(e checkflow.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	status := ""
	if s, found := e.Payload["status"]; found {
		if str, ok := s.(string); ok {
			status = str
		}
	}
	span.SetAttributes(attribute.String("checkflow.status", status))

	if status == "completed" {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, status)
	}
	span.End(trace.WithTimestamp(e.Time))
}

func spanError(msg string) error {
	return errors.New(msg)
}
