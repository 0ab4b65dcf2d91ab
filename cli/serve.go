package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	checkflow "github.com/petal-labs/checkflow"
	"github.com/petal-labs/checkflow/bus"
	"github.com/petal-labs/checkflow/daemon"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon with an HTTP API",
		Long: "Run pipelines on the cron schedules from checkflow.yaml and " +
			"expose run history and manual triggering over HTTP. Runs are " +
			"serialized: the trees being rewritten are never touched by two " +
			"runs at once.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("config", "", "Path to checkflow.yaml (default: discovery)")
	cmd.Flags().String("addr", "", "HTTP listen address (default: config serve.addr or 127.0.0.1:8799)")
	cmd.Flags().Duration("timeout", 0, "Per-run timeout (0 = none)")
	cmd.Flags().String("store-path", "", "Path to SQLite run history (default: ~/.checkflow/checkflow.db)")
	cmd.Flags().Bool("no-store", false, "")
	_ = cmd.Flags().MarkHidden("no-store")
	cmd.Flags().Bool("fail-fast-all", false, "Treat best-effort steps as fatal")
	cmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for traces and metrics (default: $OTEL_EXPORTER_OTLP_ENDPOINT)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}

	pipeline := cfg.Pipeline()
	if err := pipeline.Validate(); err != nil {
		return exitError(exitValidation, "invalid pipeline: %v", err)
	}

	store, err := openRunStore(cmd, cfg)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	if store == nil {
		return exitError(exitConfig, "serve requires the run store (remove --no-store)")
	}
	defer func() { _ = store.Close() }()

	log, err := zap.NewProduction()
	if err != nil {
		return exitError(exitRuntime, "creating logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Serve.Addr
	}

	eventBus := bus.NewMemBus(bus.MemBusConfig{})
	defer func() { _ = eventBus.Close() }()

	runner := func(ctx context.Context) (*checkflow.RunResult, error) {
		cmd.SetContext(ctx)
		// The daemon persists results itself; pass no store here.
		return executePipeline(cmd, pipeline, nil, eventBus.Publish)
	}

	d, err := daemon.New(daemon.Config{
		Addr:      addr,
		Schedules: cfg.Schedules,
		Run:       runner,
		Store:     store,
		Bus:       eventBus,
		Logger:    log,
	})
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("serving", zap.String("pipeline", pipeline.Name), zap.Int("schedules", len(cfg.Schedules)))
	if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return exitError(exitRuntime, "daemon: %v", err)
	}
	return nil
}
