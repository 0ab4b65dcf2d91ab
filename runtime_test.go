package checkflow

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/petal-labs/checkflow/toolexec"
)

// scriptedInvoker records every invocation and returns scripted exit codes
// per tool name. Unscripted tools succeed.
type scriptedInvoker struct {
	exitCodes map[string]int
	errs      map[string]error
	calls     []toolexec.Command
}

func (s *scriptedInvoker) Invoke(_ context.Context, cmd toolexec.Command) (toolexec.Outcome, error) {
	s.calls = append(s.calls, cmd)
	return toolexec.Outcome{ExitCode: s.exitCodes[cmd.Name]}, s.errs[cmd.Name]
}

func (s *scriptedInvoker) commandLines() []string {
	var out []string
	for _, c := range s.calls {
		line := c.Name
		for _, a := range c.Args {
			line += " " + a
		}
		out = append(out, line)
	}
	return out
}

// qaPipeline mirrors the built-in default: fatal type-check and test steps,
// then best-effort import sorting and formatting over the three target trees.
func qaPipeline() Pipeline {
	steps := []Step{
		{ID: "typecheck", Tool: "mypy", Args: []string{"--ignore-missing-imports", "webauthn_rp"}, Policy: PolicyFatal},
		{ID: "test", Tool: "pytest", Args: []string{"--cov=webauthn_rp"}, Policy: PolicyFatal},
	}
	for _, dir := range []string{"webauthn_rp", "tests", "examples"} {
		steps = append(steps, Step{
			ID: "imports:" + dir, Tool: "isort", Args: []string{"-rc", dir},
			Policy: PolicyBestEffort, Mutates: true,
		})
	}
	for _, dir := range []string{"webauthn_rp", "tests", "examples"} {
		steps = append(steps, Step{
			ID: "format:" + dir, Tool: "yapf", Args: []string{"-r", "-i", dir},
			Policy: PolicyBestEffort, Mutates: true,
		})
	}
	return Pipeline{Name: "qa", Steps: steps}
}

func TestRun_TypecheckFailureAbortsBeforeTests(t *testing.T) {
	inv := &scriptedInvoker{exitCodes: map[string]int{"mypy": 2}}

	result, err := NewRuntime().Run(context.Background(), qaPipeline(), RunOptions{Invoker: inv})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.ExitCode != 2 {
		t.Errorf("RunResult.ExitCode = %d, want the type checker's own code 2", result.ExitCode)
	}
	if result.FatalStepID != "typecheck" {
		t.Errorf("RunResult.FatalStepID = %q, want 'typecheck'", result.FatalStepID)
	}
	if len(inv.calls) != 1 {
		t.Fatalf("invoked %d tools, want 1 (nothing after the type checker)", len(inv.calls))
	}
	if inv.calls[0].Name != "mypy" {
		t.Errorf("invoked %q first, want 'mypy'", inv.calls[0].Name)
	}
}

func TestRun_TestFailureAbortsBeforeRewriters(t *testing.T) {
	inv := &scriptedInvoker{exitCodes: map[string]int{"pytest": 1}}

	result, err := NewRuntime().Run(context.Background(), qaPipeline(), RunOptions{Invoker: inv})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.ExitCode != 1 {
		t.Errorf("RunResult.ExitCode = %d, want 1", result.ExitCode)
	}
	if result.FatalStepID != "test" {
		t.Errorf("RunResult.FatalStepID = %q, want 'test'", result.FatalStepID)
	}
	if len(inv.calls) != 2 {
		t.Fatalf("invoked %d tools, want 2 (no isort/yapf after a test failure)", len(inv.calls))
	}
	for _, c := range inv.calls {
		if c.Name == "isort" || c.Name == "yapf" {
			t.Errorf("rewriting tool %q was invoked after a fatal failure", c.Name)
		}
	}
}

func TestRun_FullSuccessInvokesAllStepsInOrder(t *testing.T) {
	inv := &scriptedInvoker{}

	result, err := NewRuntime().Run(context.Background(), qaPipeline(), RunOptions{Invoker: inv})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("RunResult.ExitCode = %d, want 0", result.ExitCode)
	}

	want := []string{
		"mypy --ignore-missing-imports webauthn_rp",
		"pytest --cov=webauthn_rp",
		"isort -rc webauthn_rp",
		"isort -rc tests",
		"isort -rc examples",
		"yapf -r -i webauthn_rp",
		"yapf -r -i tests",
		"yapf -r -i examples",
	}
	if got := inv.commandLines(); !reflect.DeepEqual(got, want) {
		t.Errorf("invocation order = %v, want %v", got, want)
	}
}

func TestRun_EachTargetPassedExactlyOnce(t *testing.T) {
	inv := &scriptedInvoker{}

	if _, err := NewRuntime().Run(context.Background(), qaPipeline(), RunOptions{Invoker: inv}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	counts := map[string]map[string]int{"isort": {}, "yapf": {}}
	for _, c := range inv.calls {
		if m, ok := counts[c.Name]; ok {
			m[c.Args[len(c.Args)-1]]++
		}
	}
	for tool, m := range counts {
		for _, target := range []string{"webauthn_rp", "tests", "examples"} {
			if m[target] != 1 {
				t.Errorf("%s saw target %q %d times, want exactly 1", tool, target, m[target])
			}
		}
		if len(m) != 3 {
			t.Errorf("%s saw targets %v, want exactly the three configured dirs", tool, m)
		}
	}
}

func TestRun_BestEffortFailureDoesNotGate(t *testing.T) {
	inv := &scriptedInvoker{exitCodes: map[string]int{"isort": 1}}

	result, err := NewRuntime().Run(context.Background(), qaPipeline(), RunOptions{Invoker: inv})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.ExitCode != 0 {
		t.Errorf("RunResult.ExitCode = %d, want 0 (rewriting steps are best effort)", result.ExitCode)
	}
	if len(inv.calls) != 8 {
		t.Errorf("invoked %d tools, want all 8 despite isort failures", len(inv.calls))
	}
	if got := len(result.BestEffortFailures()); got != 3 {
		t.Errorf("BestEffortFailures() = %d results, want 3 (one per isort target)", got)
	}
}

func TestRun_PromoteBestEffortStopsAtFirstRewriterFailure(t *testing.T) {
	inv := &scriptedInvoker{exitCodes: map[string]int{"isort": 1}}

	result, err := NewRuntime().Run(context.Background(), qaPipeline(), RunOptions{
		Invoker:           inv,
		PromoteBestEffort: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.ExitCode != 1 {
		t.Errorf("RunResult.ExitCode = %d, want 1", result.ExitCode)
	}
	if len(inv.calls) != 3 {
		t.Errorf("invoked %d tools, want 3 (stop at the first isort target)", len(inv.calls))
	}
}

func TestRun_RepeatRunsIssueIdenticalCommandSequence(t *testing.T) {
	first := &scriptedInvoker{}
	second := &scriptedInvoker{}
	rt := NewRuntime()

	if _, err := rt.Run(context.Background(), qaPipeline(), RunOptions{Invoker: first}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if _, err := rt.Run(context.Background(), qaPipeline(), RunOptions{Invoker: second}); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if !reflect.DeepEqual(first.commandLines(), second.commandLines()) {
		t.Errorf("second run issued a different command sequence:\nfirst:  %v\nsecond: %v",
			first.commandLines(), second.commandLines())
	}
}

func TestRun_InvocationErrorOnFatalStepAborts(t *testing.T) {
	inv := &scriptedInvoker{
		exitCodes: map[string]int{"mypy": toolexec.ExitToolNotFound},
		errs:      map[string]error{"mypy": toolexec.ErrToolNotFound},
	}

	result, err := NewRuntime().Run(context.Background(), qaPipeline(), RunOptions{Invoker: inv})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.ExitCode != toolexec.ExitToolNotFound {
		t.Errorf("RunResult.ExitCode = %d, want %d", result.ExitCode, toolexec.ExitToolNotFound)
	}
	if len(inv.calls) != 1 {
		t.Errorf("invoked %d tools, want 1", len(inv.calls))
	}
	if !errors.Is(result.Steps[0].Err, toolexec.ErrToolNotFound) {
		t.Errorf("StepResult.Err = %v, want ErrToolNotFound", result.Steps[0].Err)
	}
}

func TestRun_InvalidPipelineRejected(t *testing.T) {
	tests := []struct {
		name     string
		pipeline Pipeline
	}{
		{"empty name", Pipeline{Steps: []Step{{ID: "a", Tool: "mypy", Policy: PolicyFatal}}}},
		{"no steps", Pipeline{Name: "p"}},
		{"duplicate IDs", Pipeline{Name: "p", Steps: []Step{
			{ID: "a", Tool: "mypy", Policy: PolicyFatal},
			{ID: "a", Tool: "pytest", Policy: PolicyFatal},
		}}},
		{"unknown policy", Pipeline{Name: "p", Steps: []Step{{ID: "a", Tool: "mypy", Policy: "retry"}}}},
		{"empty tool", Pipeline{Name: "p", Steps: []Step{{ID: "a", Policy: PolicyFatal}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuntime().Run(context.Background(), tt.pipeline, RunOptions{Invoker: &scriptedInvoker{}})
			if !errors.Is(err, ErrInvalidPipeline) {
				t.Errorf("Run() error = %v, want ErrInvalidPipeline", err)
			}
		})
	}
}

func TestRun_CanceledContextStopsBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &cancelingInvoker{cancel: cancel}

	result, err := NewRuntime().Run(ctx, qaPipeline(), RunOptions{Invoker: inv})
	if !errors.Is(err, ErrRunCanceled) {
		t.Fatalf("Run() error = %v, want ErrRunCanceled", err)
	}
	if len(result.Steps) != 1 {
		t.Errorf("recorded %d steps, want 1 (cancellation observed before step 2)", len(result.Steps))
	}
}

// cancelingInvoker cancels the run context during the first invocation.
type cancelingInvoker struct {
	cancel context.CancelFunc
}

func (c *cancelingInvoker) Invoke(context.Context, toolexec.Command) (toolexec.Outcome, error) {
	c.cancel()
	return toolexec.Outcome{}, nil
}

func TestRun_EventSequence(t *testing.T) {
	inv := &scriptedInvoker{exitCodes: map[string]int{"pytest": 1}}
	var kinds []EventKind
	var steps []string

	now := time.Now()
	_, err := NewRuntime().Run(context.Background(), qaPipeline(), RunOptions{
		Invoker: inv,
		Now:     func() time.Time { return now },
		EventHandler: func(e Event) {
			kinds = append(kinds, e.Kind)
			if e.StepID != "" {
				steps = append(steps, e.StepID)
			}
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantKinds := []EventKind{
		EventRunStarted,
		EventStepStarted, EventStepFinished,
		EventStepStarted, EventStepFailed,
		EventRunFinished,
	}
	if !reflect.DeepEqual(kinds, wantKinds) {
		t.Errorf("event kinds = %v, want %v", kinds, wantKinds)
	}
	wantSteps := []string{"typecheck", "typecheck", "test", "test"}
	if !reflect.DeepEqual(steps, wantSteps) {
		t.Errorf("event steps = %v, want %v", steps, wantSteps)
	}
}

func TestRun_EventSeqMonotonic(t *testing.T) {
	inv := &scriptedInvoker{}
	var last uint64

	_, err := NewRuntime().Run(context.Background(), qaPipeline(), RunOptions{
		Invoker: inv,
		EventHandler: func(e Event) {
			if e.Seq <= last {
				t.Errorf("event seq %d not greater than previous %d", e.Seq, last)
			}
			last = e.Seq
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}
