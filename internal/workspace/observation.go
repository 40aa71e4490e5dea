// Package workspace inspects a Terraform working tree and records what the
// repair loop sees on each iteration.
package workspace

import (
	"time"

	"github.com/yarlson/anchor/internal/command"
	"github.com/yarlson/anchor/internal/terraform"
	"github.com/yarlson/anchor/internal/tools"
)

// Observation is one iteration's diagnostic snapshot of the workspace. It
// is treated as immutable once stored in memory.
type Observation struct {
	Iteration int       `json:"iteration"`
	TakenAt   time.Time `json:"taken_at"`

	// DirectoryTree lists workspace entries relative to the root,
	// directories suffixed with "/".
	DirectoryTree []string `json:"directory_tree"`

	// EntryFile is the entry file name and EntryFileText its content. The
	// text is empty when the file is missing.
	EntryFile     string `json:"entry_file"`
	EntryFileText string `json:"entry_file_text"`

	Format   command.Result `json:"format"`
	Init     command.Result `json:"init"`
	Validate command.Result `json:"validate"`
	Plan     PlanResult     `json:"plan"`

	// ToolResults are the outcomes of the previous turn's tool calls.
	ToolResults []tools.Result `json:"tool_results,omitempty"`
}

// PlanResult summarizes the plan stage.
type PlanResult struct {
	ExitCode   int    `json:"exit_code"`
	StderrTail string `json:"stderr_tail,omitempty"`

	// Stats is nil when no statistics are available, which happens when
	// the plan failed or its JSON form could not be read.
	Stats *terraform.PlanStats `json:"stats,omitempty"`

	// ShowError explains why statistics are missing after a successful plan.
	ShowError string `json:"show_error,omitempty"`
}

// WithToolResults returns a copy of o carrying results.
func (o Observation) WithToolResults(results []tools.Result) Observation {
	o.ToolResults = append([]tools.Result(nil), results...)
	return o
}
