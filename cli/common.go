// Package cli implements the checkflow subcommands. Each command is built by
// a NewXxxCmd constructor and signals its process exit code to main through
// *ExitError.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/checkflow/bus"
	"github.com/petal-labs/checkflow/loader"
)

// CLI exit codes. A fatal tool failure is not in this table: the run exits
// with the failing tool's own code, propagated unchanged, so wrapper scripts
// observe exactly what the tool reported. Tool-not-found (127) and timeout
// (124) follow the shell conventions and surface the same way.
const (
	exitSuccess    = 0
	exitValidation = 120 // config failed validation
	exitConfig     = 121 // config could not be read or resolved
	exitRuntime    = 122 // run could not complete (canceled, internal)
)

// resolveConfig loads the pipeline config for a command: the --config flag,
// an optional positional file argument, or discovery (./checkflow.yaml,
// ~/.checkflow/config.yaml, built-in default).
func resolveConfig(cmd *cobra.Command, args []string) (*loader.Config, string, error) {
	explicit, _ := cmd.Flags().GetString("config")
	if explicit == "" && len(args) > 0 {
		explicit = args[0]
	}

	cfg, path, err := loader.Resolve(explicit)
	if err != nil {
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			printDiagnostics(cmd.ErrOrStderr(), diagErr.Diagnostics)
			return nil, path, exitError(exitValidation, "config validation failed: %s", path)
		}
		return nil, path, exitError(exitConfig, "loading config: %v", err)
	}
	return cfg, path, nil
}

// printDiagnostics writes loader findings one per line, errors before
// warnings.
func printDiagnostics(w io.Writer, diags []loader.Diagnostic) {
	for _, d := range loader.Errors(diags) {
		fmt.Fprintf(w, "error %s [%s]: %s\n", d.Code, d.Field, d.Message)
	}
	for _, d := range loader.Warnings(diags) {
		fmt.Fprintf(w, "warning %s [%s]: %s\n", d.Code, d.Field, d.Message)
	}
}

// defaultStorePath is ~/.checkflow/checkflow.db, created on first use.
func defaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".checkflow")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return filepath.Join(dir, "checkflow.db"), nil
}

// openRunStore opens the SQLite history store for a command. Precedence:
// --no-store disables it, --store-path overrides, then the config file's
// store section, then the default location.
func openRunStore(cmd *cobra.Command, cfg *loader.Config) (bus.RunStore, error) {
	if noStore, _ := cmd.Flags().GetBool("no-store"); noStore {
		return nil, nil
	}

	path, _ := cmd.Flags().GetString("store-path")
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		var err error
		path, err = defaultStorePath()
		if err != nil {
			return nil, err
		}
	}

	retention, err := cfg.RetentionAge()
	if err != nil {
		return nil, err
	}

	store, err := bus.NewSQLiteRunStore(bus.SQLiteStoreConfig{
		DSN:          path,
		RetentionAge: retention,
	})
	if err != nil {
		return nil, fmt.Errorf("opening run store %s: %w", path, err)
	}
	return store, nil
}

func formatElapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
