package checkflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/checkflow/toolexec"
)

// Runtime errors
var (
	ErrInvalidPipeline = errors.New("invalid pipeline")
	ErrRunCanceled     = errors.New("run was canceled")
)

// Runtime executes pipelines and emits events.
type Runtime interface {
	// Run executes the pipeline's steps strictly in order.
	Run(ctx context.Context, p Pipeline, opts RunOptions) (*RunResult, error)

	// Events returns a channel for receiving runtime events.
	Events() <-chan Event
}

// RunOptions controls execution behavior.
type RunOptions struct {
	// Invoker runs the external tools. Defaults to toolexec.NewExecInvoker.
	Invoker toolexec.Invoker

	// PromoteBestEffort treats best-effort steps as fatal. Used by the CLI's
	// --fail-fast-all flag.
	PromoteBestEffort bool

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	// If nil, events are emitted without decoration.
	EventEmitterDecorator EventEmitterDecorator
}

// BasicRuntime is a strictly sequential runtime. There is no concurrency and
// no retry: each step's result is checked explicitly before the next step is
// considered, and the target trees are never touched by two tools at once.
type BasicRuntime struct {
	eventCh chan Event
}

// NewRuntime creates a new runtime instance.
func NewRuntime() *BasicRuntime {
	return &BasicRuntime{
		eventCh: make(chan Event, 100), // buffered channel
	}
}

// Events returns the event channel.
func (r *BasicRuntime) Events() <-chan Event {
	return r.eventCh
}

// Run executes the pipeline steps in slice order.
//
// A fatal step that exits non-zero aborts the run: no later step is invoked,
// and the tool's own exit code is propagated unchanged as RunResult.ExitCode.
// Best-effort failures are recorded and execution continues. The returned
// error is reserved for runs that could not complete at all (validation
// failure, canceled context); a tool failing on its own terms is not an
// error here.
func (r *BasicRuntime) Run(ctx context.Context, p Pipeline, opts RunOptions) (*RunResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	invoker := opts.Invoker
	if invoker == nil {
		invoker = toolexec.NewExecInvoker()
	}

	runID := uuid.NewString()
	runStart := opts.Now()

	seq := newSeqGen()
	emit := func(e Event) {
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
		select {
		case r.eventCh <- e:
		default:
			// Drop if channel is full
		}
	}
	if opts.EventEmitterDecorator != nil {
		emit = EventEmitter(opts.EventEmitterDecorator(emit))
	}

	emit(NewEvent(EventRunStarted, runID).
		WithSeq(seq.Next()).
		WithPayload("pipeline", p.Name).
		WithPayload("steps", len(p.Steps)))

	result := &RunResult{
		RunID:    runID,
		Pipeline: p.Name,
		Started:  runStart,
	}

	var runErr error
	for _, step := range p.Steps {
		if ctx.Err() != nil {
			runErr = fmt.Errorf("%w: %v", ErrRunCanceled, ctx.Err())
			break
		}

		stepRes := r.runStep(ctx, invoker, step, runID, seq, emit, opts, runStart)
		result.Steps = append(result.Steps, stepRes)

		if !stepRes.Failed() {
			continue
		}

		policy := step.Policy
		if opts.PromoteBestEffort {
			policy = PolicyFatal
		}
		if policy == PolicyFatal {
			// Propagate the underlying tool's code, not a custom one.
			result.ExitCode = stepRes.ExitCode
			result.FatalStepID = step.ID
			break
		}
	}

	result.Elapsed = opts.Now().Sub(runStart)

	finishEvent := NewEvent(EventRunFinished, runID).
		WithSeq(seq.Next()).
		WithElapsed(result.Elapsed).
		WithPayload("exit_code", result.ExitCode)
	switch {
	case runErr != nil:
		finishEvent = finishEvent.WithPayload("status", "canceled")
	case result.ExitCode != 0:
		finishEvent = finishEvent.
			WithPayload("status", "failed").
			WithPayload("fatal_step", result.FatalStepID)
	default:
		finishEvent = finishEvent.WithPayload("status", "completed")
	}
	emit(finishEvent)

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (r *BasicRuntime) runStep(
	ctx context.Context,
	invoker toolexec.Invoker,
	step Step,
	runID string,
	seq *seqGen,
	emit EventEmitter,
	opts RunOptions,
	runStart time.Time,
) StepResult {
	emit(NewEvent(EventStepStarted, runID).
		WithStep(step.ID, step.Tool).
		WithSeq(seq.Next()).
		WithElapsed(opts.Now().Sub(runStart)).
		WithPayload("policy", step.Policy.String()))

	started := opts.Now()
	outcome, err := invoker.Invoke(ctx, toolexec.Command{
		Name:    step.Tool,
		Args:    step.Args,
		Dir:     step.Dir,
		Env:     step.Env,
		Timeout: step.Timeout,
	})

	res := StepResult{
		StepID:     step.ID,
		Tool:       step.Tool,
		Args:       step.Args,
		Policy:     step.Policy,
		ExitCode:   outcome.ExitCode,
		Err:        err,
		OutputTail: outcome.OutputTail,
		Started:    started,
		Duration:   outcome.Duration,
	}

	if res.Failed() {
		ev := NewEvent(EventStepFailed, runID).
			WithStep(step.ID, step.Tool).
			WithSeq(seq.Next()).
			WithElapsed(opts.Now().Sub(runStart)).
			WithPayload("exit_code", res.ExitCode).
			WithPayload("policy", step.Policy.String())
		if err != nil {
			ev = ev.WithPayload("error", err.Error())
		}
		emit(ev)
		return res
	}

	emit(NewEvent(EventStepFinished, runID).
		WithStep(step.ID, step.Tool).
		WithSeq(seq.Next()).
		WithElapsed(opts.Now().Sub(runStart)).
		WithPayload("exit_code", 0))
	return res
}
