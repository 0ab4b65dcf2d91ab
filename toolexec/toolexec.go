// Package toolexec is the process-execution boundary between checkflow and
// the external quality tools it orchestrates. The tools are opaque
// collaborators: checkflow starts them, streams their output to the user's
// console untouched, and consumes nothing but their exit status.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Exit codes for invocations that never produced a real tool status.
// These follow shell conventions so callers see familiar values.
const (
	// ExitToolNotFound mirrors the shell's "command not found" status.
	ExitToolNotFound = 127

	// ExitTimedOut mirrors timeout(1)'s status for a killed command.
	ExitTimedOut = 124
)

// Invocation errors.
var (
	ErrToolNotFound = errors.New("tool not found on PATH")
	ErrTimedOut     = errors.New("tool invocation timed out")
)

// Command describes one tool invocation.
type Command struct {
	// Name is the executable, resolved via PATH.
	Name string

	// Args are passed verbatim.
	Args []string

	// Dir is the working directory (empty = inherit).
	Dir string

	// Env holds extra variables appended to the inherited environment.
	Env map[string]string

	// Timeout bounds the invocation (0 = rely on ctx alone).
	Timeout time.Duration
}

// Outcome is what the runtime consumes after a tool exits: its status and a
// bounded tail of its output for run records.
type Outcome struct {
	// ExitCode is the tool's process exit code. Set even when the
	// accompanying error is non-nil (127 for a missing tool, 124 for a
	// timeout).
	ExitCode int

	// OutputTail holds the last portion of combined stdout+stderr.
	OutputTail string

	Duration time.Duration
}

// Invoker runs external tool commands. The runtime depends on this interface
// so orchestration behavior is testable without spawning processes.
type Invoker interface {
	Invoke(ctx context.Context, cmd Command) (Outcome, error)
}

// ExecInvoker invokes tools as child processes. Stdout and stderr are
// inherited so the user sees each tool's own console output; checkflow adds
// no wrapping of its own. A bounded tail of the combined output is captured
// for the run store.
type ExecInvoker struct {
	// Stdout and Stderr receive the tools' streams (default: os.Stdout,
	// os.Stderr).
	Stdout io.Writer
	Stderr io.Writer

	// TailBytes bounds the captured output tail (default: 8 KiB).
	TailBytes int
}

// NewExecInvoker creates an invoker that streams tool output to the process's
// own stdout/stderr.
func NewExecInvoker() *ExecInvoker {
	return &ExecInvoker{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Invoke runs the command and waits for it to exit. The returned error is
// non-nil only when the tool could not run to completion (missing binary,
// timeout, canceled context); a non-zero exit from a tool that did run is
// reported through Outcome.ExitCode alone.
func (e *ExecInvoker) Invoke(ctx context.Context, cmd Command) (Outcome, error) {
	execCtx := ctx
	cancel := func() {}
	if cmd.Timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		}
	}
	defer cancel()

	tail := newTailBuffer(e.tailBytes())

	// #nosec G204 -- tool and args come from the validated pipeline config.
	c := exec.CommandContext(execCtx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = mergedEnv(cmd.Env)
	c.Stdout = io.MultiWriter(e.stdout(), tail)
	c.Stderr = io.MultiWriter(e.stderr(), tail)

	start := time.Now()
	err := c.Run()
	outcome := Outcome{
		OutputTail: tail.String(),
		Duration:   time.Since(start),
	}

	if err == nil {
		return outcome, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		if execCtx.Err() == context.DeadlineExceeded {
			outcome.ExitCode = ExitTimedOut
			return outcome, fmt.Errorf("%w: %s after %s", ErrTimedOut, cmd.Name, cmd.Timeout)
		}
		// The tool ran and failed on its own terms: not an invocation error.
		outcome.ExitCode = exitErr.ExitCode()
		return outcome, nil
	case errors.Is(err, exec.ErrNotFound):
		outcome.ExitCode = ExitToolNotFound
		return outcome, fmt.Errorf("%w: %s", ErrToolNotFound, cmd.Name)
	case execCtx.Err() == context.DeadlineExceeded:
		outcome.ExitCode = ExitTimedOut
		return outcome, fmt.Errorf("%w: %s after %s", ErrTimedOut, cmd.Name, cmd.Timeout)
	default:
		outcome.ExitCode = 1
		return outcome, fmt.Errorf("invoking %s: %w", cmd.Name, err)
	}
}

func (e *ExecInvoker) stdout() io.Writer {
	if e.Stdout != nil {
		return e.Stdout
	}
	return os.Stdout
}

func (e *ExecInvoker) stderr() io.Writer {
	if e.Stderr != nil {
		return e.Stderr
	}
	return os.Stderr
}

func (e *ExecInvoker) tailBytes() int {
	if e.TailBytes > 0 {
		return e.TailBytes
	}
	return 8 * 1024
}

// mergedEnv appends extra variables to the inherited environment. Unlike a
// hermetic build runner, a quality pipeline wants the developer's PATH and
// virtualenv intact.
func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // nil means inherit in os/exec
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// tailBuffer keeps the last max bytes written to it. Safe for concurrent
// writes from the stdout and stderr pipes.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(p)
	if t.buf.Len() > t.max {
		trimmed := t.buf.Bytes()[t.buf.Len()-t.max:]
		var next bytes.Buffer
		next.Write(trimmed)
		t.buf = next
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
