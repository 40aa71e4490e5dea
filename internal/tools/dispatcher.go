package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/yarlson/anchor/internal/command"
	"github.com/yarlson/anchor/internal/llm"
)

// Result is the outcome of one invocation, shown to the reasoning service
// on the following turn.
type Result struct {
	Tool string `json:"tool"`

	// Target is the file path or command line the tool acted on.
	Target string `json:"target,omitempty"`

	OK     bool   `json:"ok"`
	Output string `json:"output"`
}

// Dispatcher applies invocations against a workspace root.
type Dispatcher struct {
	root    string
	exec    command.Executor
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher creates a Dispatcher rooted at root. Commands run through
// exec with the default ad hoc timeout.
func NewDispatcher(root string, exec command.Executor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		root:    root,
		exec:    exec,
		timeout: command.DefaultCommandTimeout,
		logger:  logger,
	}
}

// SetTimeout sets the timeout for run_command.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.timeout = timeout
}

// Apply decodes and dispatches calls in order. Each call is independent; a
// failure does not stop later calls. Unknown tools are logged and skipped.
func (d *Dispatcher) Apply(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		inv, err := Decode(call.Name, call.Arguments)
		if err != nil {
			if errors.Is(err, ErrUnknownTool) {
				d.logger.Warn("tool not registered, skipping", zap.String("tool", call.Name))
			} else {
				d.logger.Warn("invalid tool arguments", zap.String("tool", call.Name), zap.Error(err))
			}
			results = append(results, Result{Tool: call.Name, Output: "Error: " + err.Error()})
			continue
		}

		res := d.Dispatch(ctx, inv)
		d.logger.Info("tool applied",
			zap.String("tool", res.Tool),
			zap.Bool("ok", res.OK),
			zap.String("output", firstLine(res.Output)))
		results = append(results, res)
	}
	return results
}

// Dispatch executes a single invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) Result {
	switch v := inv.(type) {
	case PatchFile:
		return d.patchFile(v)
	case DeleteFile:
		return d.deleteFile(v)
	case RunCommand:
		return d.runCommand(ctx, v)
	default:
		return Result{Tool: inv.ToolName(), Output: fmt.Sprintf("Error: unsupported invocation %T", inv)}
	}
}

func (d *Dispatcher) patchFile(inv PatchFile) Result {
	res := Result{Tool: NamePatchFile, Target: inv.Path}

	path, err := d.resolve(inv.Path)
	if err != nil {
		res.Output = "Error: " + err.Error()
		return res
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		res.Output = fmt.Sprintf("Error: file %s does not exist", inv.Path)
		return res
	}

	original, err := os.ReadFile(path)
	if err != nil {
		res.Output = fmt.Sprintf("Error: failed to read %s: %v", inv.Path, err)
		return res
	}

	if err := os.WriteFile(path, []byte(inv.Content), info.Mode().Perm()); err != nil {
		res.Output = fmt.Sprintf("Error: failed to write %s: %v", inv.Path, err)
		return res
	}

	res.OK = true
	res.Output = fmt.Sprintf("Patched %s (original: %d bytes, new: %d bytes)", inv.Path, len(original), len(inv.Content))
	return res
}

func (d *Dispatcher) deleteFile(inv DeleteFile) Result {
	res := Result{Tool: NameDeleteFile, Target: inv.Path}

	path, err := d.resolve(inv.Path)
	if err != nil {
		res.Output = "Error: " + err.Error()
		return res
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		res.OK = true
		res.Output = fmt.Sprintf("%s not found", inv.Path)
		return res
	}
	if err != nil {
		res.Output = fmt.Sprintf("Error: failed to stat %s: %v", inv.Path, err)
		return res
	}
	if info.IsDir() {
		res.Output = fmt.Sprintf("Error: %s is a directory", inv.Path)
		return res
	}

	if err := os.Remove(path); err != nil {
		res.Output = fmt.Sprintf("Error: failed to delete %s: %v", inv.Path, err)
		return res
	}

	res.OK = true
	res.Output = fmt.Sprintf("Deleted %s", inv.Path)
	return res
}

func (d *Dispatcher) runCommand(ctx context.Context, inv RunCommand) Result {
	res := Result{Tool: NameRunCommand, Target: inv.Cmd}

	argv, err := shlex.Split(inv.Cmd)
	if err != nil {
		res.Output = fmt.Sprintf("Error: cannot parse command %q: %v", inv.Cmd, err)
		return res
	}
	if len(argv) == 0 {
		res.Output = "Error: empty command"
		return res
	}

	out := d.exec.Run(ctx, command.Request{
		Name:    argv[0],
		Args:    argv[1:],
		Dir:     d.root,
		Timeout: d.timeout,
	})

	res.OK = out.OK()
	res.Output = FormatCommandResult(out)
	return res
}

// FormatCommandResult renders a command result for the reasoning service.
func FormatCommandResult(r command.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "returncode: %d\n", r.ExitCode)
	if r.Stdout != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", strings.TrimRight(r.Stdout, "\n"))
	}
	if r.Stderr != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", strings.TrimRight(r.Stderr, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// resolve maps a workspace-relative path to an absolute path inside root.
func (d *Dispatcher) resolve(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %s must be relative to the workspace", rel)
	}

	root, err := filepath.Abs(d.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	path := filepath.Join(root, rel)

	inside, err := filepath.Rel(root, path)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", rel)
	}
	return path, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
