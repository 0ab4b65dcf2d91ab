package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	checkflow "github.com/petal-labs/checkflow"
)

// MetricsHandler translates checkflow runtime events into OpenTelemetry
// metrics. It records counters and histograms for step executions, failures,
// and run durations.
type MetricsHandler struct {
	stepExecutions metric.Int64Counter
	stepFailures   metric.Int64Counter
	stepDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording checkflow runtime metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	stepExec, err := meter.Int64Counter("checkflow.step.executions",
		metric.WithDescription("Number of tool step executions"),
	)
	if err != nil {
		return nil, err
	}

	stepFail, err := meter.Int64Counter("checkflow.step.failures",
		metric.WithDescription("Number of tool step failures"),
	)
	if err != nil {
		return nil, err
	}

	stepDur, err := meter.Float64Histogram("checkflow.step.duration",
		metric.WithDescription("Duration of tool step execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("checkflow.run.duration",
		metric.WithDescription("Duration of pipeline run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		stepExecutions: stepExec,
		stepFailures:   stepFail,
		stepDuration:   stepDur,
		runDuration:    runDur,
	}, nil
}

// Handle processes a runtime event and records the appropriate metrics.
// It implements checkflow.EventHandler semantics.
func (h *MetricsHandler) Handle(e checkflow.Event) {
	switch e.Kind {
	case checkflow.EventStepFinished:
		h.handleStepFinished(e)
	case checkflow.EventStepFailed:
		h.handleStepFailed(e)
	case checkflow.EventRunFinished:
		h.handleRunFinished(e)
	}
}

// handleStepFinished increments the execution counter and records duration.
func (h *MetricsHandler) handleStepFinished(e checkflow.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("tool", e.Tool),
		attribute.String("step_id", e.StepID),
	)
	h.stepExecutions.Add(ctx, 1, attrs)
	h.stepDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}

// handleStepFailed increments both counters.
func (h *MetricsHandler) handleStepFailed(e checkflow.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("tool", e.Tool),
		attribute.String("step_id", e.StepID),
	)
	h.stepExecutions.Add(ctx, 1, attrs)
	h.stepFailures.Add(ctx, 1, attrs)
}

// handleRunFinished records the pipeline run duration.
func (h *MetricsHandler) handleRunFinished(e checkflow.Event) {
	status := ""
	if s, ok := e.Payload["status"].(string); ok {
		status = s
	}
	h.runDuration.Record(context.Background(), e.Elapsed.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}
