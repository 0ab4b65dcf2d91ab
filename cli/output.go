package cli

import (
	"encoding/json"
	"fmt"
	"io"

	checkflow "github.com/petal-labs/checkflow"
)

// writePlan prints the resolved step sequence without executing anything.
func writePlan(w io.Writer, p checkflow.Pipeline, format string) {
	if format == "json" {
		type planStep struct {
			ID      string `json:"id"`
			Command string `json:"command"`
			Policy  string `json:"policy"`
		}
		steps := make([]planStep, 0, len(p.Steps))
		for _, s := range p.Steps {
			steps = append(steps, planStep{ID: s.ID, Command: s.CommandLine(), Policy: s.Policy.String()})
		}
		writeJSONIndent(w, map[string]any{"pipeline": p.Name, "steps": steps})
		return
	}

	fmt.Fprintf(w, "pipeline %s (%d steps)\n", p.Name, len(p.Steps))
	for i, s := range p.Steps {
		fmt.Fprintf(w, "  %2d. [%s] %s\n", i+1, s.Policy, s.CommandLine())
	}
}

// writeRunResult prints the run summary after the tools' own output has
// already streamed to the console.
func writeRunResult(w io.Writer, r *checkflow.RunResult, format string) {
	if format == "json" {
		writeJSONIndent(w, r)
		return
	}

	fmt.Fprintf(w, "\nrun %s (%s) finished in %s\n", r.RunID, r.Pipeline, formatElapsed(r.Elapsed))
	for _, s := range r.Steps {
		status := "ok"
		switch {
		case s.Err != nil:
			status = fmt.Sprintf("failed: %v", s.Err)
		case s.ExitCode != 0:
			status = fmt.Sprintf("exit %d", s.ExitCode)
		}
		fmt.Fprintf(w, "  %-20s %-12s %s (%s)\n", s.StepID, "["+s.Policy.String()+"]", status, formatElapsed(s.Duration))
	}

	if r.Succeeded() {
		if n := len(r.BestEffortFailures()); n > 0 {
			fmt.Fprintf(w, "passed with %d best-effort failure(s)\n", n)
		} else {
			fmt.Fprintln(w, "passed")
		}
		return
	}
	fmt.Fprintf(w, "failed at %s (exit %d)\n", r.FatalStepID, r.ExitCode)
}

func writeJSONIndent(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
