package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yarlson/anchor/internal/precheck"
)

func newPrecheckCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "precheck <dir>",
		Short: "Check a Terraform tree for structural problems",
		Long:  "Report missing root files, modules without a source, duplicate provider blocks and literal credentials.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrecheck(cmd, args[0], fix)
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "apply deterministic fixes")

	return cmd
}

func runPrecheck(cmd *cobra.Command, dir string, fix bool) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("directory not found: %s", dir)
	}

	logger := newLogger(cmd.ErrOrStderr(), verbose)
	defer func() { _ = logger.Sync() }()

	ok, issues := precheck.Run(dir)
	out := cmd.OutOrStdout()
	if ok {
		_, _ = fmt.Fprintf(out, "✓ %s passed all pre-checks\n", dir)
		return nil
	}

	for _, issue := range issues {
		_, _ = fmt.Fprintf(out, "✗ %s\n", issue)
		if issue.SuggestedFix != "" {
			_, _ = fmt.Fprintf(out, "  fix: %s\n", issue.SuggestedFix)
		}
	}

	if fix {
		fixed := precheck.AutoFix(dir, issues, logger)
		_, _ = fmt.Fprintf(out, "\nApplied %d fix(es)\n", fixed)
	}

	return fmt.Errorf("pre-checks found %d issue(s)", len(issues))
}
