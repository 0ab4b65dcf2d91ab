package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/checkflow/bus"
)

// NewHistoryCmd creates the "history" subcommand.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded pipeline runs",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	cmd.Flags().String("config", "", "Path to checkflow.yaml (default: discovery)")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list")
	cmd.Flags().String("run", "", "Show one run in full, including step results")
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().String("store-path", "", "Path to SQLite run history (default: ~/.checkflow/checkflow.db)")
	cmd.Flags().Bool("no-store", false, "")
	_ = cmd.Flags().MarkHidden("no-store")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitConfig, "unknown format %q (want text or json)", format)
	}

	cfg, _, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}

	store, err := openRunStore(cmd, cfg)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	if store == nil {
		return exitError(exitConfig, "history requires the run store (remove --no-store)")
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()

	if runID, _ := cmd.Flags().GetString("run"); runID != "" {
		result, err := store.GetRun(cmd.Context(), runID)
		if err != nil {
			if errors.Is(err, bus.ErrRunNotFound) {
				return exitError(exitConfig, "run not found: %s", runID)
			}
			return exitError(exitRuntime, "reading run: %v", err)
		}
		writeRunResult(out, &result, format)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return exitError(exitRuntime, "listing runs: %v", err)
	}

	if format == "json" {
		writeJSONIndent(out, runs)
		return nil
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}
	for _, r := range runs {
		status := "passed"
		if !r.Succeeded() {
			status = fmt.Sprintf("failed at %s (exit %d)", r.FatalStepID, r.ExitCode)
		}
		fmt.Fprintf(out, "%s  %s  %-8s %s  %s\n",
			r.RunID, r.Started.Format("2006-01-02 15:04:05"), r.Pipeline, formatElapsed(r.Elapsed), status)
	}
	return nil
}
