package loop

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/anchor/internal/terraform"
	"github.com/yarlson/anchor/internal/tools"
)

func TestIterationOutcome_IsValid(t *testing.T) {
	tests := []struct {
		outcome IterationOutcome
		valid   bool
	}{
		{OutcomeContinue, true},
		{OutcomeFinished, true},
		{OutcomeReasoningError, true},
		{IterationOutcome("invalid"), false},
		{IterationOutcome(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.outcome.IsValid())
		})
	}
}

func TestNewIterationRecord(t *testing.T) {
	before := time.Now()
	record := NewIterationRecord(4)

	assert.Len(t, record.IterationID, 8)
	assert.Equal(t, 4, record.Iteration)
	assert.False(t, record.StartTime.Before(before))
	assert.True(t, record.EndTime.IsZero())
	assert.Zero(t, record.Duration())
}

func TestIterationRecord_Complete(t *testing.T) {
	record := NewIterationRecord(1)
	record.StartTime = time.Now().Add(-2 * time.Second)

	record.Complete(OutcomeFinished)

	assert.Equal(t, OutcomeFinished, record.Outcome)
	assert.GreaterOrEqual(t, record.Duration(), 2*time.Second)
}

func TestIterationRecord_TokensUsed(t *testing.T) {
	record := &IterationRecord{Reasoning: ReasoningMeta{PromptTokens: 1200, CompletionTokens: 80}}

	assert.Equal(t, 1280, record.TokensUsed())
}

func TestIterationRecord_PatchedFiles(t *testing.T) {
	record := &IterationRecord{ToolResults: []tools.Result{
		{Tool: tools.NamePatchFile, Target: "a.tf", OK: true},
		{Tool: tools.NamePatchFile, Target: "missing.tf", OK: false},
		{Tool: tools.NameDeleteFile, Target: "b.tf", OK: true},
		{Tool: tools.NameRunCommand, Target: "terraform init", OK: true},
	}}

	assert.Equal(t, []string{"a.tf", "b.tf"}, record.PatchedFiles())
}

func TestGenerateIterationID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateIterationID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSaveAndLoadRecord(t *testing.T) {
	dir := t.TempDir()
	record := NewIterationRecord(2)
	record.Snapshot = SnapshotSummary{PlanExit: 0, PlanStats: &terraform.PlanStats{Create: 3}}
	record.Reasoning = ReasoningMeta{Messages: 3, Choices: 1, ToolCalls: 1, Content: "Finished"}
	record.ToolResults = []tools.Result{{Tool: tools.NamePatchFile, Target: "main.tf", OK: true, Output: "Patched main.tf"}}
	record.Complete(OutcomeFinished)

	path, err := SaveRecord(dir, record)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "iteration-002-"+record.IterationID+".json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "finished", raw["outcome"])

	loaded, err := LoadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, record.IterationID, loaded.IterationID)
	assert.Equal(t, OutcomeFinished, loaded.Outcome)
	assert.Equal(t, 3, loaded.Snapshot.PlanStats.Create)
	assert.Equal(t, record.ToolResults, loaded.ToolResults)
}

func TestSaveRecord_Nil(t *testing.T) {
	_, err := SaveRecord(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestLoadRecord_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRecord(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = LoadRecord(bad)
	assert.Error(t, err)
}

func TestLoadRecords_Ordered(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int{3, 1, 2} {
		record := NewIterationRecord(n)
		record.Complete(OutcomeContinue)
		_, err := SaveRecord(dir, record)
		require.NoError(t, err)
	}

	records, err := LoadRecords(dir)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].Iteration)
	assert.Equal(t, 2, records[1].Iteration)
	assert.Equal(t, 3, records[2].Iteration)
}

func TestLoadRecords_MissingDir(t *testing.T) {
	records, err := LoadRecords(filepath.Join(t.TempDir(), "nope"))

	require.NoError(t, err)
	assert.Empty(t, records)
}
