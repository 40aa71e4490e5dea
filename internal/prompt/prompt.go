// Package prompt renders repair-loop observations into the message list
// sent to the reasoning service.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yarlson/anchor/internal/command"
	"github.com/yarlson/anchor/internal/llm"
	"github.com/yarlson/anchor/internal/workspace"
)

// SizeOptions configures the maximum sizes of rendered sections.
type SizeOptions struct {
	// MaxEntryFileBytes bounds the entry file text per observation.
	MaxEntryFileBytes int

	// MaxErrorBytes bounds each validation or plan error section.
	MaxErrorBytes int

	// MaxToolOutputBytes bounds each tool result.
	MaxToolOutputBytes int
}

// DefaultSizeOptions returns the default size options.
func DefaultSizeOptions() SizeOptions {
	return SizeOptions{
		MaxEntryFileBytes:  16000,
		MaxErrorBytes:      4000,
		MaxToolOutputBytes: 2000,
	}
}

// Validate checks that all size options are non-negative.
func (o SizeOptions) Validate() error {
	if o.MaxEntryFileBytes < 0 {
		return errors.New("max entry file bytes cannot be negative")
	}
	if o.MaxErrorBytes < 0 {
		return errors.New("max error bytes cannot be negative")
	}
	if o.MaxToolOutputBytes < 0 {
		return errors.New("max tool output bytes cannot be negative")
	}
	return nil
}

// Builder builds reasoning-service requests from observations.
type Builder struct {
	opts SizeOptions
}

// NewBuilder creates a prompt builder. If opts is nil, defaults are used.
func NewBuilder(opts *SizeOptions) *Builder {
	if opts == nil {
		defaultOpts := DefaultSizeOptions()
		opts = &defaultOpts
	}
	return &Builder{opts: *opts}
}

// SystemPrompt returns the fixed instruction preamble.
func (b *Builder) SystemPrompt() string {
	return `You are Anchor, an autonomous infrastructure engineer specializing in Terraform.

Your mission:
1. Deploy Terraform configurations to a destination AWS account
2. Fix any deployment-specific issues (resource conflicts, naming collisions, permissions)
3. Ensure the infrastructure can be successfully deployed

The Terraform files have been pre-processed and should be structurally correct.
Focus on destination-account-specific issues:
- Resource naming conflicts (S3 buckets must be globally unique)
- IAM role/policy conflicts
- Resource limits or quotas
- Region-specific availability
- Existing resources that might conflict

You have access to these tools:
- patch_file: Replace the full content of an existing file
- delete_file: Remove unnecessary files
- run_command: Execute terraform or aws commands

IMPORTANT RULES:
1. The terraform configuration structure is correct. DO NOT modify main.tf or variables.tf
2. If you see "Module not installed", just run: terraform init
3. Focus on fixing actual deployment issues, not structural problems
4. When resources conflict, modify the resource names to be unique
5. S3 bucket names must be globally unique; add random suffixes if needed
6. IAM roles/policies may need unique names; add prefixes/suffixes

Common deployment fixes:
- S3 bucket already exists: add a random suffix to the bucket name
- IAM role already exists: add a unique prefix to the role name
- Resource limit exceeded: remove or modify the resource count
- Invalid availability zone: use a data source to get valid AZs

Each observation shows:
- Directory structure and main.tf content
- Terraform validate/plan results
- Results of the tools you called on the previous turn

Work iteratively:
1. First run terraform init if needed
2. Then terraform validate to check syntax
3. Then terraform plan to see what will be created
4. Fix any errors and repeat

When the plan succeeds and nothing is left to fix, reply with a message starting with "Finished".
`
}

// Build returns the system preamble followed by one user message per
// observation, oldest first.
func (b *Builder) Build(observations []workspace.Observation) []llm.Message {
	messages := make([]llm.Message, 0, len(observations)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: b.SystemPrompt()})

	for i, obs := range observations {
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: b.RenderObservation(i+1, obs),
		})
	}
	return messages
}

// RenderObservation renders a single observation as labeled sections.
func (b *Builder) RenderObservation(index int, obs workspace.Observation) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "=== Observation %d ===\n", index)

	if len(obs.ToolResults) > 0 {
		sb.WriteString("\nTool Results (previous turn):\n")
		for _, r := range obs.ToolResults {
			status := "ok"
			if !r.OK {
				status = "failed"
			}
			fmt.Fprintf(&sb, "- %s [%s]: %s\n", r.Tool, status, truncateWithMarker(r.Output, b.opts.MaxToolOutputBytes))
		}
	}

	tree, err := json.MarshalIndent(nonNil(obs.DirectoryTree), "", "  ")
	if err == nil {
		fmt.Fprintf(&sb, "\nDirectory Structure:\n%s\n", tree)
	}

	entry := obs.EntryFile
	if entry == "" {
		entry = workspace.DefaultEntryFile
	}
	if obs.EntryFileText != "" {
		fmt.Fprintf(&sb, "\n%s content:\n%s\n", entry, truncateWithMarker(obs.EntryFileText, b.opts.MaxEntryFileBytes))
	} else {
		fmt.Fprintf(&sb, "\n%s content: (missing or empty)\n", entry)
	}

	if !obs.Init.OK() && obs.Init.Stderr != "" {
		fmt.Fprintf(&sb, "\nInit Error:\n%s\n", tailWithMarker(obs.Init.Stderr, b.opts.MaxErrorBytes))
	}

	if !obs.Validate.OK() {
		fmt.Fprintf(&sb, "\nValidation Error:\n%s\n", tailWithMarker(obs.Validate.Stderr, b.opts.MaxErrorBytes))
	}

	switch {
	case obs.Plan.ExitCode != 0:
		fmt.Fprintf(&sb, "\nPlan Error:\n%s\n", tailWithMarker(obs.Plan.StderrTail, b.opts.MaxErrorBytes))
	case obs.Plan.Stats != nil:
		stats, _ := json.Marshal(obs.Plan.Stats)
		fmt.Fprintf(&sb, "\nPlan Summary: %s\n", stats)
	case obs.Plan.ShowError != "":
		fmt.Fprintf(&sb, "\nPlan Summary: unavailable (%s)\n", firstLine(obs.Plan.ShowError))
	}

	return sb.String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncateWithMarker keeps the first maxBytes of s, cut back to a rune
// boundary, and adds a marker if truncated. If maxBytes is 0, no truncation
// is performed.
func truncateWithMarker(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	end := maxBytes
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end] + "... [truncated]"
}

// tailWithMarker keeps the last maxBytes of s, where errors end up, and
// prefixes a marker if truncated.
func tailWithMarker(s string, maxBytes int) string {
	tail := command.TailBytes(s, maxBytes)
	if len(tail) == len(s) {
		return s
	}
	return "[truncated] ..." + tail
}
