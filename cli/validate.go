package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/checkflow/loader"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [pipeline-file]",
		Short: "Validate a pipeline config without executing",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("config", "", "Path to checkflow.yaml (default: discovery)")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	cfg, path, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}

	diags := loader.Validate(cfg)
	printDiagnostics(cmd.ErrOrStderr(), diags)

	if loader.HasErrors(diags) || (strict && len(loader.Warnings(diags)) > 0) {
		return exitError(exitValidation, "validation failed")
	}

	if path == "" {
		fmt.Fprintln(out, "no config file found; built-in default pipeline is valid")
	} else {
		fmt.Fprintf(out, "%s is valid\n", path)
	}
	return nil
}
