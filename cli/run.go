package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	checkflow "github.com/petal-labs/checkflow"
	"github.com/petal-labs/checkflow/bus"
	checkflowotel "github.com/petal-labs/checkflow/otel"
	"github.com/petal-labs/checkflow/toolexec"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [pipeline-file]",
		Short: "Execute the QA pipeline",
		Long: "Run the configured pipeline steps strictly in order: each tool's " +
			"output streams to the console untouched, a fatal step's non-zero " +
			"exit aborts the run with that tool's own exit code, and best-effort " +
			"steps never gate the result.",
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}

	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to checkflow.yaml (default: discovery)")
	cmd.Flags().Duration("timeout", 0, "Overall run timeout (0 = none)")
	cmd.Flags().Bool("dry-run", false, "Validate and print the plan, invoke nothing")
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().String("store-path", "", "Path to SQLite run history (default: ~/.checkflow/checkflow.db)")
	cmd.Flags().Bool("no-store", false, "Do not record this run in the history store")
	cmd.Flags().Bool("fail-fast-all", false, "Treat best-effort steps as fatal")
	cmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for traces and metrics (default: $OTEL_EXPORTER_OTLP_ENDPOINT)")
}

func runRun(cmd *cobra.Command, args []string) error {
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

	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		writePlan(cmd.OutOrStdout(), pipeline, format)
		return nil
	}

	store, err := openRunStore(cmd, cfg)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	result, err := executePipeline(cmd, pipeline, store, nil)
	if err != nil {
		return err
	}

	writeRunResult(cmd.OutOrStdout(), result, format)

	if !result.Succeeded() {
		return exitError(result.ExitCode, "step %s failed (exit %d)", result.FatalStepID, result.ExitCode)
	}
	return nil
}

// executePipeline runs one pipeline with tracing, metrics, and history
// persistence wired in. It is shared by run, watch, and serve; serve passes
// an extra handler that feeds the daemon's event bus.
func executePipeline(cmd *cobra.Command, pipeline checkflow.Pipeline, store bus.RunStore, extra checkflow.EventHandler) (*checkflow.RunResult, error) {
	ctx := cmd.Context()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shutdown, opts, err := buildRunOptions(cmd)
	if err != nil {
		return nil, err
	}
	if extra != nil {
		inner := opts.EventHandler
		opts.EventHandler = func(e checkflow.Event) {
			if inner != nil {
				inner(e)
			}
			extra(e)
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	result, err := checkflow.NewRuntime().Run(ctx, pipeline, opts)
	if err != nil {
		if errors.Is(err, checkflow.ErrRunCanceled) {
			return nil, exitError(exitRuntime, "run canceled: %v", err)
		}
		if errors.Is(err, checkflow.ErrInvalidPipeline) {
			return nil, exitError(exitValidation, "%v", err)
		}
		return nil, exitError(exitRuntime, "run failed: %v", err)
	}

	if store != nil {
		if saveErr := store.SaveRun(cmd.Context(), *result); saveErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: recording run: %v\n", saveErr)
		}
	}
	return result, nil
}

// buildRunOptions assembles runtime options: the real invoker plus optional
// OTLP tracing and metrics when an endpoint is configured.
func buildRunOptions(cmd *cobra.Command) (func(context.Context) error, checkflow.RunOptions, error) {
	opts := checkflow.RunOptions{Invoker: toolexec.NewExecInvoker()}
	if promote, _ := cmd.Flags().GetBool("fail-fast-all"); promote {
		opts.PromoteBestEffort = true
	}

	endpoint, _ := cmd.Flags().GetString("otel-endpoint")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	shutdown, err := checkflowotel.SetupProviders(cmd.Context(), checkflowotel.ProviderConfig{
		Endpoint: endpoint,
		Insecure: true,
	})
	if err != nil {
		return nil, opts, exitError(exitConfig, "setting up telemetry: %v", err)
	}

	if endpoint != "" {
		tracing := checkflowotel.NewTracingHandler(otelapi.Tracer("checkflow"))
		metrics, err := checkflowotel.NewMetricsHandler(otelapi.Meter("checkflow"))
		if err != nil {
			_ = shutdown(cmd.Context())
			return nil, opts, exitError(exitConfig, "setting up metrics: %v", err)
		}
		opts.EventHandler = func(e checkflow.Event) {
			tracing.Handle(e)
			metrics.Handle(e)
		}
		opts.EventEmitterDecorator = func(emit checkflow.EventEmitter) checkflow.EventEmitter {
			return checkflowotel.EnrichEmitter(emit, tracing)
		}
	}

	return shutdown, opts, nil
}
