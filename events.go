package checkflow

import (
	"sync/atomic"
	"time"
)

// EventKind identifies the type of event emitted by the runtime.
type EventKind string

const (
	// EventRunStarted is emitted when a pipeline run begins.
	EventRunStarted EventKind = "run_started"

	// EventStepStarted is emitted when a step's tool is about to be invoked.
	EventStepStarted EventKind = "step_started"

	// EventStepFinished is emitted when a step's tool exits zero.
	EventStepFinished EventKind = "step_finished"

	// EventStepFailed is emitted when a step's tool exits non-zero or
	// cannot be invoked at all.
	EventStepFailed EventKind = "step_failed"

	// EventRunFinished is emitted when a pipeline run completes, whether it
	// succeeded or was aborted by a fatal step.
	EventRunFinished EventKind = "run_finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured, streamable record of what happened during execution.
// Events should be kept small; tool output belongs in the run store, not in
// event payloads.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// StepID is the step that produced this event (empty for run-level events).
	StepID string

	// Tool is the executable the step invokes (empty for run-level events).
	Tool string

	// Seq is a monotonically increasing sequence number within the run.
	Seq uint64

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run started.
	Elapsed time.Duration

	// TraceID and SpanID carry OpenTelemetry context when tracing is enabled.
	TraceID string
	SpanID  string

	// Payload contains event-specific data (exit_code, policy, error).
	Payload map[string]any
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithStep sets the step information on the event.
func (e Event) WithStep(stepID, tool string) Event {
	e.StepID = stepID
	e.Tool = tool
	return e
}

// WithSeq sets the sequence number on the event.
func (e Event) WithSeq(seq uint64) Event {
	e.Seq = seq
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventHandler receives events during execution.
type EventHandler func(Event)

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps the internal event emitter, letting observers
// enrich events (e.g. with trace context) before they are delivered.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// seqGen numbers a run's events. The counter starts at 1 so a zero Seq
// always means "never assigned"; subscribers use the numbering to order
// events that arrive over buffered channels.
type seqGen struct {
	counter atomic.Uint64
}

func newSeqGen() *seqGen {
	return &seqGen{}
}

// Next returns the next sequence number.
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}
