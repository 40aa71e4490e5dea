// Package tools defines the operations the reasoning service may request
// against the workspace and applies them.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yarlson/anchor/internal/llm"
)

// Tool names advertised to the reasoning service.
const (
	NamePatchFile  = "patch_file"
	NameDeleteFile = "delete_file"
	NameRunCommand = "run_command"
)

// ErrUnknownTool is returned by Decode for names outside the tool set.
var ErrUnknownTool = errors.New("unknown tool")

// Invocation is one requested operation. The set of implementations is
// closed: PatchFile, DeleteFile and RunCommand.
type Invocation interface {
	ToolName() string
	invocation()
}

// PatchFile replaces the whole content of an existing file.
type PatchFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DeleteFile removes a file if it exists.
type DeleteFile struct {
	Path string `json:"path"`
}

// RunCommand executes a shell-style command line in the workspace.
type RunCommand struct {
	Cmd string `json:"cmd"`
}

func (PatchFile) ToolName() string  { return NamePatchFile }
func (DeleteFile) ToolName() string { return NameDeleteFile }
func (RunCommand) ToolName() string { return NameRunCommand }

func (PatchFile) invocation()  {}
func (DeleteFile) invocation() {}
func (RunCommand) invocation() {}

// Decode turns a tool name and its JSON-encoded arguments into an
// Invocation.
func Decode(name, argsJSON string) (Invocation, error) {
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}

	switch name {
	case NamePatchFile:
		var inv PatchFile
		if err := json.Unmarshal([]byte(argsJSON), &inv); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
		}
		if inv.Path == "" {
			return nil, fmt.Errorf("invalid %s arguments: path is required", name)
		}
		return inv, nil
	case NameDeleteFile:
		var inv DeleteFile
		if err := json.Unmarshal([]byte(argsJSON), &inv); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
		}
		if inv.Path == "" {
			return nil, fmt.Errorf("invalid %s arguments: path is required", name)
		}
		return inv, nil
	case NameRunCommand:
		var inv RunCommand
		if err := json.Unmarshal([]byte(argsJSON), &inv); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
		}
		return inv, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

// Specs returns the argument schemas for every tool.
func Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name: NamePatchFile,
			Description: `Replace the entire contents of a file. Use this to fix errors in Terraform files.

IMPORTANT: This replaces the ENTIRE file content, not just parts of it.
To fix a syntax error in main.tf, provide the complete corrected file content.
Cannot create new files; use only for existing files.`,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to file relative to repo root (e.g., 'ecs/us-east-1/provider.tf')",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "The complete new contents of the file. Must be valid Terraform syntax.",
					},
				},
				"required": []string{"path", "content"},
			},
		},
		{
			Name: NameDeleteFile,
			Description: `Delete a file from the repository. Use sparingly, only for truly unnecessary files.

WARNING: Cannot be undone. Only delete files that are causing errors and cannot be fixed,
for example duplicate provider configurations.`,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to file relative to repo root",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name: NameRunCommand,
			Description: `Execute a command in the workspace. Common commands:

Terraform:
- 'terraform init' initializes modules and backend (run this FIRST if modules are present)
- 'terraform validate' checks syntax (run after init)
- 'terraform plan' previews changes
- 'terraform fmt' formats files

AWS CLI (any command can be run), for example:
- 'aws sts get-caller-identity'
- 'aws s3 ls'
- 'aws iam list-roles'

Arguments are split with shell quoting rules; pipes and redirects are not interpreted.
The command runs with a 30-second timeout and returns its exit code, stdout and stderr.`,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"cmd": map[string]any{
						"type":        "string",
						"description": "Command to execute (e.g., 'terraform init', 'aws sts get-caller-identity')",
					},
				},
				"required": []string{"cmd"},
			},
		},
	}
}
