package checkflow

import (
	"fmt"
	"strings"
	"time"
)

// FailurePolicy determines how the runtime reacts when a step exits non-zero.
// The set is intentionally small: a step either gates the whole pipeline or
// it does not.
type FailurePolicy string

const (
	// PolicyFatal aborts the pipeline on failure. The failing tool's exit
	// code becomes the run's exit code, and no later step is invoked.
	PolicyFatal FailurePolicy = "fatal"

	// PolicyBestEffort records the failure in the run result and event
	// stream but never gates the pipeline or the overall exit code.
	// Rewriting steps (import sorting, formatting) use this.
	PolicyBestEffort FailurePolicy = "best_effort"
)

// String returns the string representation of the FailurePolicy.
func (p FailurePolicy) String() string {
	return string(p)
}

// Valid reports whether p is one of the known policies.
func (p FailurePolicy) Valid() bool {
	return p == PolicyFatal || p == PolicyBestEffort
}

// Step is one external tool invocation in a pipeline.
type Step struct {
	// ID uniquely identifies the step within its pipeline.
	ID string

	// Tool is the executable name, resolved via PATH at invocation time.
	Tool string

	// Args are passed to the tool verbatim.
	Args []string

	// Dir is the working directory for the invocation (empty = inherit).
	Dir string

	// Env holds extra environment variables, appended to the inherited
	// environment.
	Env map[string]string

	// Policy selects the failure handling for this step.
	Policy FailurePolicy

	// Timeout bounds the invocation (0 = no per-step timeout).
	Timeout time.Duration

	// Mutates marks steps that rewrite files in place. Watch mode uses this
	// to distinguish tool churn from developer edits.
	Mutates bool
}

// CommandLine renders the step as a shell-style string for display.
func (s Step) CommandLine() string {
	if len(s.Args) == 0 {
		return s.Tool
	}
	return s.Tool + " " + strings.Join(s.Args, " ")
}

// Pipeline is a named, ordered list of steps. Execution order is the slice
// order; there is no graph structure and no parallelism.
type Pipeline struct {
	Name  string
	Steps []Step
}

// Validate checks structural invariants: non-empty name and steps, unique
// step IDs, non-empty tools, and known failure policies.
func (p Pipeline) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: pipeline name is empty", ErrInvalidPipeline)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: pipeline %q has no steps", ErrInvalidPipeline, p.Name)
	}

	seen := make(map[string]struct{}, len(p.Steps))
	for i, s := range p.Steps {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("%w: step %d has no ID", ErrInvalidPipeline, i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: duplicate step ID %q", ErrInvalidPipeline, s.ID)
		}
		seen[s.ID] = struct{}{}

		if strings.TrimSpace(s.Tool) == "" {
			return fmt.Errorf("%w: step %q has no tool", ErrInvalidPipeline, s.ID)
		}
		if !s.Policy.Valid() {
			return fmt.Errorf("%w: step %q has unknown policy %q", ErrInvalidPipeline, s.ID, s.Policy)
		}
	}
	return nil
}

// StepByID returns the step with the given ID, if present.
func (p Pipeline) StepByID(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
