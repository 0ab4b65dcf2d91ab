package cli

import (
	"github.com/spf13/cobra"
)

// NewPlanCmd creates the "plan" subcommand.
func NewPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [pipeline-file]",
		Short: "Print the resolved step sequence without executing",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPlan,
	}

	cmd.Flags().String("config", "", "Path to checkflow.yaml (default: discovery)")
	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
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

	writePlan(cmd.OutOrStdout(), pipeline, format)
	return nil
}
