package state

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoReport is returned when no run report has been written yet.
var ErrNoReport = errors.New("no run report found")

// Mode names the command that produced a report.
type Mode string

// Run modes.
const (
	ModeRun    Mode = "run"
	ModeImport Mode = "import"
	ModeRepair Mode = "repair"
)

// Report is the persisted summary of one anchor invocation.
type Report struct {
	RunID      string    `yaml:"run_id"`
	Mode       Mode      `yaml:"mode"`
	Repo       string    `yaml:"repo,omitempty"`
	Branch     string    `yaml:"branch,omitempty"`
	Dir        string    `yaml:"dir"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`

	// Import
	Modules        []string `yaml:"modules,omitempty"`
	ImportError    string   `yaml:"import_error,omitempty"`
	FallbackMain   bool     `yaml:"fallback_main,omitempty"`
	PrecheckIssues []string `yaml:"precheck_issues,omitempty"`

	// Identity
	AccountID string `yaml:"account_id,omitempty"`

	// Repair loop
	Outcome     string `yaml:"outcome,omitempty"`
	Message     string `yaml:"message,omitempty"`
	Iterations  int    `yaml:"iterations"`
	TotalTokens int    `yaml:"total_tokens"`

	// Publishing
	Commit         string `yaml:"commit,omitempty"`
	Pushed         bool   `yaml:"pushed,omitempty"`
	PullRequestURL string `yaml:"pull_request_url,omitempty"`

	// Probe
	ProbeURL     string `yaml:"probe_url,omitempty"`
	ProbeHealthy bool   `yaml:"probe_healthy,omitempty"`
	ProbeStatus  int    `yaml:"probe_status,omitempty"`

	Errors []string `yaml:"errors,omitempty"`
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// AddError records a non-fatal failure.
func (r *Report) AddError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// SaveReport writes the report to stateDir using an atomic rename.
func SaveReport(stateDir string, r *Report) error {
	if err := EnsureDir(stateDir); err != nil {
		return err
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	path := ReportPath(stateDir)
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// LoadReport reads the report from stateDir.
func LoadReport(stateDir string) (*Report, error) {
	data, err := os.ReadFile(ReportPath(stateDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &r, nil
}
