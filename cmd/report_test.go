package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/anchor/internal/loop"
	"github.com/yarlson/anchor/internal/state"
	"github.com/yarlson/anchor/internal/tools"
)

func seedState(t *testing.T, root string) {
	t.Helper()
	stateDir := filepath.Join(root, state.AnchorDir)
	require.NoError(t, os.MkdirAll(root, 0o755))

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, state.SaveReport(stateDir, &state.Report{
		RunID:          "run12345",
		Mode:           state.ModeRun,
		Repo:           "https://github.com/acme/infra.git",
		Branch:         "anchor/infra",
		Dir:            "infra/terraform",
		StartedAt:      started,
		FinishedAt:     started.Add(3 * time.Minute),
		Modules:        []string{"s3_us-east-1"},
		Outcome:        "succeeded",
		Iterations:     2,
		TotalTokens:    900,
		Commit:         "abcdef0123456789",
		Pushed:         true,
		PullRequestURL: "https://github.com/acme/infra/pull/3",
	}))

	first := &loop.IterationRecord{
		IterationID: "it000001",
		Iteration:   1,
		StartTime:   started,
		EndTime:     started.Add(time.Minute),
		Snapshot:    loop.SnapshotSummary{PlanExit: 1},
		Reasoning:   loop.ReasoningMeta{PromptTokens: 400, CompletionTokens: 50},
		ToolResults: []tools.Result{{Tool: tools.NamePatchFile, Target: "main.tf", OK: true}},
		Outcome:     loop.OutcomeContinue,
	}
	second := &loop.IterationRecord{
		IterationID: "it000002",
		Iteration:   2,
		StartTime:   started.Add(time.Minute),
		EndTime:     started.Add(2 * time.Minute),
		Reasoning:   loop.ReasoningMeta{PromptTokens: 400, CompletionTokens: 50, Content: "finished"},
		Outcome:     loop.OutcomeFinished,
	}
	for _, r := range []*loop.IterationRecord{first, second} {
		_, err := loop.SaveRecord(state.LogsDirPath(stateDir), r)
		require.NoError(t, err)
	}
}

func TestReportCmd(t *testing.T) {
	dir := isolate(t)
	seedState(t, filepath.Join(dir, "checkout"))

	out, err := execute(t, "report", "checkout")
	require.NoError(t, err)

	assert.Contains(t, out, "## Anchor run: succeeded")
	assert.Contains(t, out, "- Run: run12345")
	assert.Contains(t, out, "- Commit: abcdef012345 (pushed: true)")
	assert.Contains(t, out, "- Pull request: https://github.com/acme/infra/pull/3")
	assert.Contains(t, out, "- s3_us-east-1")
	assert.Contains(t, out, "### Iterations")
	assert.Contains(t, out, "- #1 it000001 continue (plan exit 1, 450 tokens, 1 tool call(s))")
	assert.Contains(t, out, "- #2 it000002 finished (plan exit 0, 450 tokens)")
}

func TestReportCmd_OutputFile(t *testing.T) {
	dir := isolate(t)
	seedState(t, dir)

	out, err := execute(t, "report", ".", "-o", "report.md")
	require.NoError(t, err)
	assert.Contains(t, out, "Report written to report.md")

	data, err := os.ReadFile(filepath.Join(dir, "report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Anchor run: succeeded")
}

func TestReportCmd_NoReport(t *testing.T) {
	isolate(t)

	_, err := execute(t, "report", ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no report found")
}

func TestLogsCmd_NoLogsDirectory(t *testing.T) {
	isolate(t)

	out, err := execute(t, "logs", ".")
	require.NoError(t, err)
	assert.Contains(t, out, "No logs found")
}

func TestLogsCmd_EmptyLogsDirectory(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, state.EnsureDir(filepath.Join(dir, state.AnchorDir)))

	out, err := execute(t, "logs", ".")
	require.NoError(t, err)
	assert.Contains(t, out, "No iterations found")
}

func TestLogsCmd_ListIterations(t *testing.T) {
	dir := isolate(t)
	seedState(t, dir)

	out, err := execute(t, "logs", ".")
	require.NoError(t, err)

	assert.Contains(t, out, "Available iterations:")
	assert.Contains(t, out, "it000001 - #1 (continue)")
	assert.Contains(t, out, "it000002 - #2 (finished)")
}

func TestLogsCmd_ShowIteration(t *testing.T) {
	dir := isolate(t)
	seedState(t, dir)

	out, err := execute(t, "logs", ".", "--iteration", "it000001")
	require.NoError(t, err)

	assert.Contains(t, out, "Iteration: it000001 (#1)")
	assert.Contains(t, out, "fmt: 0  init: 0  validate: 0  plan: 1")
	assert.Contains(t, out, "Tokens: 400 in / 50 out")
	assert.Contains(t, out, "[OK] patch_file main.tf")
}

func TestLogsCmd_UnknownIteration(t *testing.T) {
	dir := isolate(t)
	seedState(t, dir)

	_, err := execute(t, "logs", ".", "--iteration", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `iteration "nope" not found`)
}
