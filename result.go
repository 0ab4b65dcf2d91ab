package checkflow

import (
	"encoding/json"
	"time"
)

// StepResult records the outcome of a single step invocation.
type StepResult struct {
	// StepID identifies the step within the pipeline.
	StepID string `json:"step_id"`

	// Tool and Args mirror the invoked command for auditing.
	Tool string   `json:"tool"`
	Args []string `json:"args,omitempty"`

	// Policy is the failure policy the step ran under.
	Policy FailurePolicy `json:"policy"`

	// ExitCode is the tool's process exit code (0 = success).
	ExitCode int `json:"exit_code"`

	// Err holds invocation-level failures (tool not found, timeout). It is
	// nil when the tool ran to completion, regardless of its exit code.
	Err error `json:"-"`

	// OutputTail is the last portion of the tool's combined output, kept for
	// run records. The full output goes to the user's console untouched.
	OutputTail string `json:"output_tail,omitempty"`

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
}

// Failed reports whether the step exited non-zero or could not be invoked.
func (r StepResult) Failed() bool {
	return r.ExitCode != 0 || r.Err != nil
}

// MarshalJSON flattens Err into a plain string field.
func (r StepResult) MarshalJSON() ([]byte, error) {
	type alias StepResult
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// RunResult is the outcome of a whole pipeline run.
type RunResult struct {
	// RunID uniquely identifies this run.
	RunID string `json:"run_id"`

	// Pipeline is the name of the executed pipeline.
	Pipeline string `json:"pipeline"`

	// Steps holds per-step results in execution order. On a fatal failure
	// the slice ends at the failing step; later steps were never invoked.
	Steps []StepResult `json:"steps,omitempty"`

	// ExitCode is the overall status: 0 on full success, otherwise the
	// failing fatal step's own exit code, propagated unchanged so callers
	// observe the underlying tool's code.
	ExitCode int `json:"exit_code"`

	// FatalStepID names the step that aborted the run (empty if none).
	FatalStepID string `json:"fatal_step,omitempty"`

	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Succeeded reports whether every fatal step passed.
func (r RunResult) Succeeded() bool {
	return r.ExitCode == 0
}

// BestEffortFailures returns failed steps that did not gate the run.
func (r RunResult) BestEffortFailures() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Policy == PolicyBestEffort && s.Failed() {
			out = append(out, s)
		}
	}
	return out
}
