// Package loop provides the repair loop that drives a workspace toward a
// clean plan.
package loop

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yarlson/anchor/internal/terraform"
	"github.com/yarlson/anchor/internal/tools"
	"github.com/yarlson/anchor/internal/workspace"
)

// IterationOutcome represents the result of an iteration.
type IterationOutcome string

const (
	// OutcomeContinue indicates the model asked for more work.
	OutcomeContinue IterationOutcome = "continue"
	// OutcomeFinished indicates the model signalled completion.
	OutcomeFinished IterationOutcome = "finished"
	// OutcomeReasoningError indicates the reasoning service call failed.
	OutcomeReasoningError IterationOutcome = "reasoning_error"
)

// validOutcomes is a set of valid iteration outcomes for validation.
var validOutcomes = map[IterationOutcome]bool{
	OutcomeContinue:       true,
	OutcomeFinished:       true,
	OutcomeReasoningError: true,
}

// IsValid returns true if the outcome is a valid value.
func (o IterationOutcome) IsValid() bool {
	return validOutcomes[o]
}

// IterationRecord is the audit record of one repair iteration.
type IterationRecord struct {
	// IterationID is the unique identifier for this iteration.
	IterationID string `json:"iteration_id"`

	// Iteration is the 1-based iteration number within the run.
	Iteration int `json:"iteration"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// Snapshot summarizes the observation taken at the start.
	Snapshot SnapshotSummary `json:"snapshot"`

	// Reasoning contains metadata about the reasoning service call.
	Reasoning ReasoningMeta `json:"reasoning"`

	// ToolResults are the results of the tool calls applied this turn.
	ToolResults []tools.Result `json:"tool_results,omitempty"`

	// Gutter describes a stall condition detected after this iteration.
	Gutter string `json:"gutter,omitempty"`

	// Outcome is the final result of the iteration.
	Outcome IterationOutcome `json:"outcome"`
}

// SnapshotSummary holds the exit codes and plan stats of an observation.
type SnapshotSummary struct {
	FormatExit   int                  `json:"format_exit"`
	InitExit     int                  `json:"init_exit"`
	ValidateExit int                  `json:"validate_exit"`
	PlanExit     int                  `json:"plan_exit"`
	PlanStats    *terraform.PlanStats `json:"plan_stats,omitempty"`
}

// ReasoningMeta contains metadata about a reasoning service call.
type ReasoningMeta struct {
	Messages         int    `json:"messages"`
	Choices          int    `json:"choices"`
	ToolCalls        int    `json:"tool_calls"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	Content          string `json:"content,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Summarize extracts a SnapshotSummary from an observation.
func Summarize(obs workspace.Observation) SnapshotSummary {
	return SnapshotSummary{
		FormatExit:   obs.Format.ExitCode,
		InitExit:     obs.Init.ExitCode,
		ValidateExit: obs.Validate.ExitCode,
		PlanExit:     obs.Plan.ExitCode,
		PlanStats:    obs.Plan.Stats,
	}
}

// NewIterationRecord creates a record for iteration n with a fresh ID and
// the current start time.
func NewIterationRecord(n int) *IterationRecord {
	return &IterationRecord{
		IterationID: GenerateIterationID(),
		Iteration:   n,
		StartTime:   time.Now(),
	}
}

// Duration returns the duration of the iteration.
func (r *IterationRecord) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Complete marks the iteration as complete with the given outcome.
func (r *IterationRecord) Complete(outcome IterationOutcome) {
	r.EndTime = time.Now()
	r.Outcome = outcome
}

// TokensUsed returns prompt plus completion tokens.
func (r *IterationRecord) TokensUsed() int {
	return r.Reasoning.PromptTokens + r.Reasoning.CompletionTokens
}

// PatchedFiles returns the paths successfully patched or deleted this turn.
func (r *IterationRecord) PatchedFiles() []string {
	var files []string
	for _, res := range r.ToolResults {
		if !res.OK || res.Target == "" {
			continue
		}
		if res.Tool == tools.NamePatchFile || res.Tool == tools.NameDeleteFile {
			files = append(files, res.Target)
		}
	}
	return files
}

// GenerateIterationID generates a unique iteration ID.
func GenerateIterationID() string {
	return uuid.New().String()[:8]
}

// SaveRecord saves an iteration record to the logs directory.
// Returns the path to the saved file.
func SaveRecord(logsDir string, record *IterationRecord) (string, error) {
	if record == nil {
		return "", errors.New("record cannot be nil")
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create logs directory: %w", err)
	}

	filename := fmt.Sprintf("iteration-%03d-%s.json", record.Iteration, record.IterationID)
	path := filepath.Join(logsDir, filename)

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write record: %w", err)
	}

	return path, nil
}

// LoadRecord loads an iteration record from a file.
func LoadRecord(path string) (*IterationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var record IterationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &record, nil
}

// LoadRecords loads every iteration record in logsDir, ordered by
// iteration number. A missing directory yields no records.
func LoadRecords(logsDir string) ([]*IterationRecord, error) {
	matches, err := filepath.Glob(filepath.Join(logsDir, "iteration-*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]*IterationRecord, 0, len(matches))
	for _, path := range matches {
		record, err := LoadRecord(path)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Iteration != records[j].Iteration {
			return records[i].Iteration < records[j].Iteration
		}
		return records[i].StartTime.Before(records[j].StartTime)
	})
	return records, nil
}
