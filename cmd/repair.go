package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yarlson/anchor/internal/runner"
)

func newRepairCmd() *cobra.Command {
	var opts runner.Options

	cmd := &cobra.Command{
		Use:   "repair <dir>",
		Short: "Run the repair loop on an existing Terraform tree",
		Long: `Observe <dir> with fmt, init, validate and plan, ask the reasoning service
for fixes, apply them, and repeat until the service reports the deployment
is finished or the budget runs out. Nothing is committed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.MaxIterations, "max-iterations", "n", 0, "maximum repair iterations (0 uses config)")

	return cmd
}

func runRepair(cmd *cobra.Command, dir string, opts runner.Options) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	report, err := runner.Repair(cmd.Context(), dir, opts, runnerDeps(cfg, logger))
	if report != nil {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), runner.FormatReport(report))
	}
	return err
}
