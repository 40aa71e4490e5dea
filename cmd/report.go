package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yarlson/anchor/internal/config"
	"github.com/yarlson/anchor/internal/loop"
	"github.com/yarlson/anchor/internal/runner"
	"github.com/yarlson/anchor/internal/state"
)

func newReportCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "report <dir>",
		Short: "Show the last run report",
		Long:  "Display the report and iteration summary saved under <dir>/.anchor by the last run, import or repair.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args[0], outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write report to file instead of stdout")

	return cmd
}

func runReport(cmd *cobra.Command, dir, outputFile string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	stateDir := state.DirPath(dir, cfg.State.Dir)
	report, err := state.LoadReport(stateDir)
	if err != nil {
		if errors.Is(err, state.ErrNoReport) {
			return fmt.Errorf("no report found in %s. Run 'anchor run', 'anchor import' or 'anchor repair' first", stateDir)
		}
		return err
	}

	records, err := loop.LoadRecords(state.LogsDirPath(stateDir))
	if err != nil {
		return fmt.Errorf("failed to load iteration logs: %w", err)
	}

	output := runner.FormatReport(report) + formatIterations(records)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", outputFile)
		return nil
	}

	_, _ = fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}

func formatIterations(records []*loop.IterationRecord) string {
	if len(records) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n### Iterations\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "- #%d %s %s (plan exit %d, %d tokens", r.Iteration, r.IterationID, r.Outcome, r.Snapshot.PlanExit, r.TokensUsed())
		if n := len(r.ToolResults); n > 0 {
			fmt.Fprintf(&sb, ", %d tool call(s)", n)
		}
		if r.Gutter != "" {
			fmt.Fprintf(&sb, ", stuck: %s", r.Gutter)
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}
