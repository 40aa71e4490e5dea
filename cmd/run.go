package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yarlson/anchor/internal/runner"
)

func newRunCmd() *cobra.Command {
	var opts runner.Options

	cmd := &cobra.Command{
		Use:   "run <repo-url>",
		Short: "Import, repair and publish infrastructure for a repository",
		Long: `Clone the repository, import the source account into the infrastructure
directory when it is empty, run the repair loop against the destination
account, then commit, push and optionally open a pull request.

An exhausted repair loop is reported but is not a failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RepoURL = args[0]
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.WorkDir, "workdir", "w", "", "checkout directory (default: new temporary directory)")
	cmd.Flags().IntVarP(&opts.MaxIterations, "max-iterations", "n", 0, "maximum repair iterations (0 uses config)")
	cmd.Flags().BoolVar(&opts.NoPush, "no-push", false, "commit locally without pushing or opening a pull request")

	return cmd
}

func runRun(cmd *cobra.Command, opts runner.Options) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	report, err := runner.Run(cmd.Context(), opts, runnerDeps(cfg, logger))
	if report != nil {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), runner.FormatReport(report))
	}
	return err
}
