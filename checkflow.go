// Package checkflow runs ordered pipelines of external quality tools — type
// checkers, test runners, import sorters, formatters — against a project's
// source trees.
//
// The model is deliberately small: a Pipeline is an ordered list of Steps, a
// Step is one tool invocation with a FailurePolicy, and the Runtime walks the
// list strictly in sequence. A fatal step that exits non-zero stops the run
// and its exit code surfaces unchanged; best-effort steps (the in-place
// rewriting ones) are recorded but never gate the run.
//
// Subpackages:
//
//	toolexec — the process-execution boundary
//	loader   — pipeline config files and the built-in default pipeline
//	bus      — event distribution and the SQLite run store
//	cli      — the checkflow command-line interface
//	daemon   — scheduled runs and the HTTP API
//	watch    — filesystem-triggered re-runs
//	otel     — OpenTelemetry spans and metrics from runtime events
package checkflow
