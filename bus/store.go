package bus

import (
	"context"
	"errors"

	checkflow "github.com/petal-labs/checkflow"
)

// ErrRunNotFound is returned when a run ID has no stored record.
var ErrRunNotFound = errors.New("run not found")

// RunStore persists finished pipeline runs. Coverage files and reformatted
// sources are the tools' own side effects; the store records only what
// checkflow itself observed: which tools ran, in what order, with what exit
// codes.
type RunStore interface {
	// SaveRun persists a finished run and its step results.
	SaveRun(ctx context.Context, result checkflow.RunResult) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]checkflow.RunResult, error)

	// GetRun returns one run with its step results, or ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (checkflow.RunResult, error)

	// Close releases store resources.
	Close() error
}
