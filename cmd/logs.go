package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yarlson/anchor/internal/config"
	"github.com/yarlson/anchor/internal/loop"
	"github.com/yarlson/anchor/internal/state"
)

func newLogsCmd() *cobra.Command {
	var iterationID string

	cmd := &cobra.Command{
		Use:   "logs <dir>",
		Short: "Show iteration logs",
		Long:  "Display repair iteration logs saved under <dir>/.anchor/logs. Use --iteration to show a specific iteration, or list all available iterations.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, args[0], iterationID)
		},
	}

	cmd.Flags().StringVar(&iterationID, "iteration", "", "Show specific iteration log by ID")

	return cmd
}

func runLogs(cmd *cobra.Command, dir, iterationID string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logsDir := state.LogsDirPath(state.DirPath(dir, cfg.State.Dir))
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No logs found. Run 'anchor repair' to create iterations.\n")
		return nil
	}

	if iterationID != "" {
		return showIteration(cmd, logsDir, iterationID)
	}
	return listIterations(cmd, logsDir)
}

func showIteration(cmd *cobra.Command, logsDir, iterationID string) error {
	matches, err := filepath.Glob(filepath.Join(logsDir, fmt.Sprintf("iteration-*-%s.json", iterationID)))
	if err != nil || len(matches) == 0 {
		return fmt.Errorf("iteration %q not found", iterationID)
	}

	record, err := loop.LoadRecord(matches[0])
	if err != nil {
		return fmt.Errorf("failed to load iteration: %w", err)
	}

	_, _ = fmt.Fprint(cmd.OutOrStdout(), formatIterationRecord(record))
	return nil
}

func listIterations(cmd *cobra.Command, logsDir string) error {
	records, err := loop.LoadRecords(logsDir)
	if err != nil {
		return fmt.Errorf("failed to read logs directory: %w", err)
	}

	if len(records) == 0 {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No iterations found.\n")
		return nil
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Available iterations:\n\n")
	for _, record := range records {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s - #%d (%s) - %s\n",
			record.IterationID,
			record.Iteration,
			record.Outcome,
			record.StartTime.Format("2006-01-02 15:04:05"))
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nUse --iteration <id> to view details.\n")

	return nil
}

func formatIterationRecord(record *loop.IterationRecord) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Iteration: %s (#%d)\n", record.IterationID, record.Iteration)
	fmt.Fprintf(&sb, "Outcome: %s\n", record.Outcome)
	fmt.Fprintf(&sb, "Duration: %s\n", record.Duration())
	fmt.Fprintf(&sb, "\n")

	fmt.Fprintf(&sb, "Start: %s\n", record.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "End: %s\n", record.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "\n")

	s := record.Snapshot
	fmt.Fprintf(&sb, "Snapshot:\n")
	fmt.Fprintf(&sb, "  fmt: %d  init: %d  validate: %d  plan: %d\n", s.FormatExit, s.InitExit, s.ValidateExit, s.PlanExit)
	if s.PlanStats != nil {
		fmt.Fprintf(&sb, "  plan: %+v\n", *s.PlanStats)
	}
	fmt.Fprintf(&sb, "\n")

	r := record.Reasoning
	fmt.Fprintf(&sb, "Reasoning:\n")
	fmt.Fprintf(&sb, "  Messages: %d  Choices: %d  Tool calls: %d\n", r.Messages, r.Choices, r.ToolCalls)
	if r.PromptTokens > 0 || r.CompletionTokens > 0 {
		fmt.Fprintf(&sb, "  Tokens: %d in / %d out\n", r.PromptTokens, r.CompletionTokens)
	}
	if r.Content != "" {
		fmt.Fprintf(&sb, "  Reply: %s\n", r.Content)
	}
	if r.Error != "" {
		fmt.Fprintf(&sb, "  Error: %s\n", r.Error)
	}
	fmt.Fprintf(&sb, "\n")

	if len(record.ToolResults) > 0 {
		fmt.Fprintf(&sb, "Tools:\n")
		for _, res := range record.ToolResults {
			status := "OK"
			if !res.OK {
				status = "FAIL"
			}
			fmt.Fprintf(&sb, "  [%s] %s %s\n", status, res.Tool, res.Target)
			if !res.OK && res.Output != "" {
				fmt.Fprintf(&sb, "    %s\n", strings.ReplaceAll(strings.TrimSpace(res.Output), "\n", "\n    "))
			}
		}
		fmt.Fprintf(&sb, "\n")
	}

	if record.Gutter != "" {
		fmt.Fprintf(&sb, "Stuck: %s\n", record.Gutter)
	}

	return sb.String()
}
