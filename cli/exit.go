package cli

import "fmt"

// ExitError carries the process exit code a command wants to terminate
// with. Commands return it from RunE instead of calling os.Exit so output
// buffers flush and deferred cleanup runs; main unwraps it and exits. For a
// fatal tool failure the code is the tool's own, not one of the CLI codes.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
