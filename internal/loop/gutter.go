package loop

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/yarlson/anchor/internal/workspace"
)

// GutterReason identifies why the loop is in the gutter.
type GutterReason string

const (
	// GutterReasonNone indicates no gutter condition.
	GutterReasonNone GutterReason = "none"
	// GutterReasonRepeatedFailure indicates the same diagnostic failure repeated N times in a row.
	GutterReasonRepeatedFailure GutterReason = "repeated_failure"
	// GutterReasonFileChurn indicates the same files are being rewritten repeatedly without progress.
	GutterReasonFileChurn GutterReason = "file_churn"
)

// GutterConfig holds configuration for gutter detection.
type GutterConfig struct {
	// MaxSameFailure is how many consecutive observations may carry the same
	// failure before the loop is considered stuck (0 = disabled).
	MaxSameFailure int `json:"max_same_failure"`

	// MaxChurnIterations is the number of recent iterations to consider for
	// file churn detection (0 = disabled).
	MaxChurnIterations int `json:"max_churn_iterations"`

	// ChurnThreshold is how many times a file must be rewritten within
	// MaxChurnIterations to be considered churning (0 = disabled).
	ChurnThreshold int `json:"churn_threshold"`
}

// DefaultGutterConfig returns the default gutter detection config.
func DefaultGutterConfig() GutterConfig {
	return GutterConfig{
		MaxSameFailure:     3,
		MaxChurnIterations: 5,
		ChurnThreshold:     3,
	}
}

// GutterStatus represents the result of gutter detection.
type GutterStatus struct {
	InGutter    bool
	Reason      GutterReason
	Description string
}

// GutterDetector tracks iteration history and detects a stalled loop. It
// only reports; the loop keeps running until its budget is spent.
type GutterDetector struct {
	config      GutterConfig
	lastSig     string
	sameCount   int
	fileChanges [][]string
}

// NewGutterDetector creates a new gutter detector with the given config.
func NewGutterDetector(config GutterConfig) *GutterDetector {
	return &GutterDetector{config: config}
}

// ComputeFailureSignature hashes the failing diagnostics of an observation.
// Returns empty string if validate and plan both succeeded.
func ComputeFailureSignature(obs workspace.Observation) string {
	var failures []string
	if !obs.Validate.OK() {
		failures = append(failures, fmt.Sprintf("validate:%d:%s", obs.Validate.ExitCode, obs.Validate.Stderr))
	}
	if obs.Plan.ExitCode != 0 {
		failures = append(failures, fmt.Sprintf("plan:%d:%s", obs.Plan.ExitCode, obs.Plan.StderrTail))
	}

	if len(failures) == 0 {
		return ""
	}

	hash := sha256.Sum256([]byte(strings.Join(failures, "\n")))
	return hex.EncodeToString(hash[:])
}

// RecordIteration records an iteration's observation and file changes.
func (d *GutterDetector) RecordIteration(obs workspace.Observation, record *IterationRecord) {
	sig := ComputeFailureSignature(obs)
	switch {
	case sig == "":
		d.lastSig = ""
		d.sameCount = 0
	case sig == d.lastSig:
		d.sameCount++
	default:
		d.lastSig = sig
		d.sameCount = 1
	}

	if record == nil {
		return
	}
	d.fileChanges = append(d.fileChanges, record.PatchedFiles())
	if d.config.MaxChurnIterations > 0 && len(d.fileChanges) > d.config.MaxChurnIterations {
		d.fileChanges = d.fileChanges[len(d.fileChanges)-d.config.MaxChurnIterations:]
	}
}

// Check checks for gutter conditions based on recorded iterations.
func (d *GutterDetector) Check() GutterStatus {
	if status := d.checkRepeatedFailure(); status.InGutter {
		return status
	}
	if status := d.checkFileChurn(); status.InGutter {
		return status
	}
	return GutterStatus{Reason: GutterReasonNone}
}

func (d *GutterDetector) checkRepeatedFailure() GutterStatus {
	if d.config.MaxSameFailure <= 0 || d.sameCount < d.config.MaxSameFailure {
		return GutterStatus{Reason: GutterReasonNone}
	}
	return GutterStatus{
		InGutter:    true,
		Reason:      GutterReasonRepeatedFailure,
		Description: fmt.Sprintf("same failure repeated %d times (threshold: %d), signature: %s", d.sameCount, d.config.MaxSameFailure, d.lastSig[:8]),
	}
}

func (d *GutterDetector) checkFileChurn() GutterStatus {
	if d.config.MaxChurnIterations <= 0 || d.config.ChurnThreshold <= 0 {
		return GutterStatus{Reason: GutterReasonNone}
	}

	fileCounts := make(map[string]int)
	for _, files := range d.fileChanges {
		seen := make(map[string]bool, len(files))
		for _, file := range files {
			if !seen[file] {
				seen[file] = true
				fileCounts[file]++
			}
		}
	}

	var churning []string
	for file, count := range fileCounts {
		if count >= d.config.ChurnThreshold {
			churning = append(churning, file)
		}
	}

	if len(churning) == 0 {
		return GutterStatus{Reason: GutterReasonNone}
	}

	sort.Strings(churning)
	return GutterStatus{
		InGutter:    true,
		Reason:      GutterReasonFileChurn,
		Description: fmt.Sprintf("files rewritten %d+ times in last %d iterations: %s", d.config.ChurnThreshold, len(d.fileChanges), strings.Join(churning, ", ")),
	}
}

// Reset clears all tracked state.
func (d *GutterDetector) Reset() {
	d.lastSig = ""
	d.sameCount = 0
	d.fileChanges = nil
}
