package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/petal-labs/checkflow/loader"
	"github.com/petal-labs/checkflow/watch"
)

// NewWatchCmd creates the "watch" subcommand.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [pipeline-file]",
		Short: "Re-run the pipeline when the target trees change",
		Long: "Watch the configured target directories and re-run the pipeline " +
			"after changes settle. Edits made by the rewriting steps themselves " +
			"are drained so a run does not trigger the next one.",
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch,
	}

	addRunFlags(cmd)
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a re-run")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}

	pipeline := cfg.Pipeline()
	if err := pipeline.Validate(); err != nil {
		return exitError(exitValidation, "invalid pipeline: %v", err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitConfig, "unknown format %q (want text or json)", format)
	}

	store, err := openRunStore(cmd, cfg)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")
	watcher, err := watch.New(watch.Config{
		Dirs:     watchDirs(cfg),
		Debounce: debounce,
	})
	if err != nil {
		return exitError(exitConfig, "starting watcher: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	log, err := zap.NewDevelopment()
	if err != nil {
		return exitError(exitRuntime, "creating logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	runOnce := func(context.Context) {
		result, runErr := executePipeline(cmd, pipeline, store, nil)
		if runErr != nil {
			log.Error("run did not complete", zap.Error(runErr))
			return
		}
		writeRunResult(cmd.OutOrStdout(), result, format)
	}

	// Initial run, then re-run on changes.
	fmt.Fprintf(cmd.OutOrStdout(), "watching %v (debounce %s)\n", watchDirs(cfg), debounce)
	runOnce(ctx)

	if err := watcher.Run(ctx, runOnce); err != nil && !errors.Is(err, context.Canceled) {
		return exitError(exitRuntime, "watcher: %v", err)
	}
	return nil
}

// watchDirs derives the watched trees: the configured targets, falling back
// to the package dir.
func watchDirs(cfg *loader.Config) []string {
	if len(cfg.Targets) > 0 {
		return cfg.Targets
	}
	if cfg.PackageDir != "" {
		return []string{cfg.PackageDir}
	}
	return []string{"."}
}
