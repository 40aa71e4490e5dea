package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yarlson/anchor/internal/runner"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Discover source resources into a normalized Terraform tree",
		Long: `Run the discovery tool against the source account and normalize its output
into <dir>: one module per service and region, generated root files, an init
check, pre-checks and a README. No repair loop runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0])
		},
	}
}

func runImport(cmd *cobra.Command, dir string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	report, err := runner.Import(cmd.Context(), dir, runnerDeps(cfg, logger))
	if report != nil {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), runner.FormatReport(report))
	}
	return err
}
