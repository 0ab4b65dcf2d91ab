package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRoot creates a fresh cobra root command wired to all subcommands.
// Each test gets an isolated command tree to avoid shared state.
func newTestRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "checkflow",
		SilenceUsage: true,
	}
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewPlanCmd())
	root.AddCommand(NewHistoryCmd())
	root.AddCommand(NewWatchCmd())
	root.AddCommand(NewServeCmd())
	return root
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeTestFile creates a temporary file with the given content and returns its path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validPipelineYAML = `
version: 1
name: sample
package_dir: mypkg
targets: [mypkg, tests]
steps:
  - id: noop
    tool: "true"
    policy: fatal
  - id: format
    tool: "true"
    policy: best_effort
    each_target: true
    mutates: true
`

const invalidPipelineYAML = `
version: 1
steps:
  - id: a
    tool: t
  - id: a
    tool: u
`

func TestValidateCmd_ValidFile(t *testing.T) {
	path := writeTestFile(t, "checkflow.yaml", validPipelineYAML)

	stdout, _, err := executeCommand(newTestRoot(), "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if !strings.Contains(stdout, "is valid") {
		t.Fatalf("stdout=%q, want contains %q", stdout, "is valid")
	}
}

func TestValidateCmd_InvalidFile(t *testing.T) {
	path := writeTestFile(t, "checkflow.yaml", invalidPipelineYAML)

	_, stderr, err := executeCommand(newTestRoot(), "validate", "--config", path)
	if err == nil {
		t.Fatal("validate expected error")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error is %T, want *ExitError", err)
	}
	if exitErr.Code != exitValidation {
		t.Fatalf("exit code=%d, want=%d", exitErr.Code, exitValidation)
	}
	if !strings.Contains(stderr, "CF-002") || !strings.Contains(stderr, "CF-011") {
		t.Fatalf("stderr=%q, want CF-002 and CF-011 diagnostics", stderr)
	}
}

func TestValidateCmd_MissingExplicitConfig(t *testing.T) {
	_, _, err := executeCommand(newTestRoot(), "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error is %T, want *ExitError", err)
	}
	if exitErr.Code != exitConfig {
		t.Fatalf("exit code=%d, want=%d", exitErr.Code, exitConfig)
	}
}

func TestPlanCmd_Text(t *testing.T) {
	path := writeTestFile(t, "checkflow.yaml", validPipelineYAML)

	stdout, _, err := executeCommand(newTestRoot(), "plan", "--config", path)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	for _, want := range []string{"pipeline sample (3 steps)", "[fatal]", "[best_effort]", "true mypkg", "true tests"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout=%q, want contains %q", stdout, want)
		}
	}
}

func TestPlanCmd_JSON(t *testing.T) {
	path := writeTestFile(t, "checkflow.yaml", validPipelineYAML)

	stdout, _, err := executeCommand(newTestRoot(), "plan", "--config", path, "--format", "json")
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	if !strings.Contains(stdout, `"pipeline": "sample"`) {
		t.Fatalf("stdout=%q, want JSON with pipeline name", stdout)
	}
}

func TestPlanCmd_UnknownFormat(t *testing.T) {
	path := writeTestFile(t, "checkflow.yaml", validPipelineYAML)

	_, _, err := executeCommand(newTestRoot(), "plan", "--config", path, "--format", "xml")
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRunCmd_DryRun(t *testing.T) {
	path := writeTestFile(t, "checkflow.yaml", validPipelineYAML)

	stdout, _, err := executeCommand(newTestRoot(), "run", "--config", path, "--dry-run")
	if err != nil {
		t.Fatalf("run --dry-run error: %v", err)
	}
	if !strings.Contains(stdout, "pipeline sample") {
		t.Fatalf("stdout=%q, want plan output", stdout)
	}
}

func TestRunCmd_Success(t *testing.T) {
	// The pipeline's tool is "true", which exists everywhere we test.
	path := writeTestFile(t, "checkflow.yaml", validPipelineYAML)

	stdout, _, err := executeCommand(newTestRoot(), "run", "--config", path, "--no-store")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if !strings.Contains(stdout, "passed") {
		t.Fatalf("stdout=%q, want contains %q", stdout, "passed")
	}
}

func TestRunCmd_FatalFailurePropagatesExitCode(t *testing.T) {
	path := writeTestFile(t, "checkflow.yaml", `
version: 1
name: failing
steps:
  - id: gate
    tool: "false"
    policy: fatal
  - id: after
    tool: "true"
`)

	_, _, err := executeCommand(newTestRoot(), "run", "--config", path, "--no-store")
	if err == nil {
		t.Fatal("run expected error")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error is %T, want *ExitError", err)
	}
	if exitErr.Code != 1 {
		t.Fatalf("exit code=%d, want=1 (the tool's own code)", exitErr.Code)
	}
}

func TestRunCmd_BestEffortFailureStillPasses(t *testing.T) {
	path := writeTestFile(t, "checkflow.yaml", `
version: 1
name: lenient
steps:
  - id: gate
    tool: "true"
  - id: cleanup
    tool: "false"
    policy: best_effort
`)

	stdout, _, err := executeCommand(newTestRoot(), "run", "--config", path, "--no-store")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if !strings.Contains(stdout, "best-effort failure") {
		t.Fatalf("stdout=%q, want best-effort failure note", stdout)
	}
}

func TestRunCmd_FailFastAllPromotesBestEffort(t *testing.T) {
	path := writeTestFile(t, "checkflow.yaml", `
version: 1
name: strictrun
steps:
  - id: cleanup
    tool: "false"
    policy: best_effort
  - id: after
    tool: "true"
`)

	_, _, err := executeCommand(newTestRoot(), "run", "--config", path, "--no-store", "--fail-fast-all")
	if err == nil {
		t.Fatal("run expected error with --fail-fast-all")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error is %T, want *ExitError", err)
	}
	if exitErr.Code != 1 {
		t.Fatalf("exit code=%d, want=1", exitErr.Code)
	}
}

func TestRunCmd_StoreRecordsRun(t *testing.T) {
	cfgPath := writeTestFile(t, "checkflow.yaml", validPipelineYAML)
	storePath := filepath.Join(t.TempDir(), "history.db")

	_, _, err := executeCommand(newTestRoot(), "run", "--config", cfgPath, "--store-path", storePath)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}

	stdout, _, err := executeCommand(newTestRoot(), "history", "--config", cfgPath, "--store-path", storePath)
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	if !strings.Contains(stdout, "sample") || !strings.Contains(stdout, "passed") {
		t.Fatalf("stdout=%q, want recorded run line", stdout)
	}
}

func TestHistoryCmd_NoStoreIsRejected(t *testing.T) {
	cfgPath := writeTestFile(t, "checkflow.yaml", validPipelineYAML)

	_, _, err := executeCommand(newTestRoot(), "history", "--config", cfgPath, "--no-store")
	if err == nil {
		t.Fatal("history --no-store expected error")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error is %T, want *ExitError", err)
	}
	if exitErr.Code != exitConfig {
		t.Fatalf("exit code=%d, want=%d", exitErr.Code, exitConfig)
	}
	if !strings.Contains(exitErr.Message, "run store") {
		t.Fatalf("message=%q, want run store rejection", exitErr.Message)
	}
}

func TestHistoryCmd_UnknownRun(t *testing.T) {
	cfgPath := writeTestFile(t, "checkflow.yaml", validPipelineYAML)
	storePath := filepath.Join(t.TempDir(), "history.db")

	_, _, err := executeCommand(newTestRoot(), "history", "--config", cfgPath, "--store-path", storePath, "--run", "missing")
	if err == nil {
		t.Fatal("expected error for unknown run ID")
	}
}
