// Package command executes external tools for anchor and captures their
// results in a structured, size-bounded form.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yarlson/anchor/internal/credentials"
)

// DefaultCommandTimeout bounds ad hoc commands requested by the model.
const DefaultCommandTimeout = 30 * time.Second

// waitDelay bounds how long Run waits for output pipes after the process
// is killed.
const waitDelay = 2 * time.Second

// ExitCodeFailed is reported when a command could not run to completion.
const ExitCodeFailed = -1

// stateMutatingSubcommands are the deployment-tool subcommands that talk to
// the destination account and therefore get credentials injected.
var stateMutatingSubcommands = map[string]bool{
	"plan":    true,
	"apply":   true,
	"destroy": true,
	"refresh": true,
	"import":  true,
}

// Request describes a single command execution.
type Request struct {
	// Name is the program to run.
	Name string

	// Args are the program arguments.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is overlaid on the process environment.
	Env map[string]string

	// Timeout bounds the execution. Zero means unbounded.
	Timeout time.Duration

	// FullStdout disables tail truncation of stdout, for output that is
	// parsed rather than shown to the model.
	FullStdout bool
}

// Result is the outcome of a command. Failures are reported here rather
// than as Go errors.
type Result struct {
	// Command is the full argument vector that was executed.
	Command []string `json:"command" yaml:"command"`

	// ExitCode is the process exit status, or -1 if it never finished.
	ExitCode int `json:"exit_code" yaml:"exit_code"`

	// Stdout is the tail of standard output.
	Stdout string `json:"stdout,omitempty" yaml:"stdout,omitempty"`

	// Stderr is the tail of standard error.
	Stderr string `json:"stderr,omitempty" yaml:"stderr,omitempty"`

	// Duration is how long the command ran.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// TimedOut is set when the timeout killed the command.
	TimedOut bool `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Executor runs commands.
type Executor interface {
	Run(ctx context.Context, req Request) Result
}

// Runner implements Executor with os/exec.
type Runner struct {
	deployTool    string
	maxOutputSize int
	getenv        credentials.Getenv
	logger        *zap.Logger
}

// NewRunner creates a Runner. deployTool is the binary name (for example
// "terraform") whose state-mutating subcommands receive destination
// credentials.
func NewRunner(deployTool string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		deployTool:    deployTool,
		maxOutputSize: DefaultMaxOutputBytes,
		getenv:        os.Getenv,
		logger:        logger,
	}
}

// SetMaxOutputSize sets the tail budget for stdout and stderr.
func (r *Runner) SetMaxOutputSize(size int) {
	r.maxOutputSize = size
}

// SetGetenv replaces the environment lookup used for credential injection.
func (r *Runner) SetGetenv(getenv credentials.Getenv) {
	r.getenv = getenv
}

// IsStateMutating reports whether name/args is a deployment-tool command
// that needs destination credentials.
func (r *Runner) IsStateMutating(name string, args []string) bool {
	if r.deployTool == "" || len(args) == 0 {
		return false
	}
	if filepath.Base(name) != filepath.Base(r.deployTool) {
		return false
	}
	return stateMutatingSubcommands[args[0]]
}

// Prepare returns the argument vector and environment overlay that will
// actually be used for req, after credential injection.
func (r *Runner) Prepare(req Request) ([]string, map[string]string) {
	args := append([]string(nil), req.Args...)
	env := make(map[string]string, len(req.Env))
	for k, v := range req.Env {
		env[k] = v
	}

	if !r.IsStateMutating(req.Name, args) {
		return args, env
	}

	// Read on every call so rotated credentials are picked up.
	dest := credentials.Destination(r.getenv)
	if vars := dest.TerraformVars(); len(vars) > 0 && !appliesSavedPlan(args) {
		injected := make([]string, 0, len(args)+len(vars))
		injected = append(injected, args[0])
		injected = append(injected, vars...)
		injected = append(injected, args[1:]...)
		args = injected
	}
	for k, v := range dest.Env() {
		env[k] = v
	}

	return args, env
}

// appliesSavedPlan reports whether args apply a saved plan file. Terraform
// rejects -var for a saved plan; the variables are baked into the plan.
func appliesSavedPlan(args []string) bool {
	if args[0] != "apply" {
		return false
	}
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		a := rest[i]
		if !strings.HasPrefix(a, "-") {
			return true
		}
		if valueFlags[strings.TrimLeft(a, "-")] {
			i++
		}
	}
	return false
}

// valueFlags are apply flags whose value may follow as a separate argument.
var valueFlags = map[string]bool{
	"var":          true,
	"var-file":     true,
	"target":       true,
	"replace":      true,
	"parallelism":  true,
	"lock-timeout": true,
	"state":        true,
	"state-out":    true,
	"backup":       true,
}

// Run executes the command and returns its result. It never returns an
// error; timeouts and start failures are reported with exit code -1.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	args, env := r.Prepare(req)
	argv := append([]string{req.Name}, args...)

	if req.Name == "" {
		return Result{
			Command:  argv,
			ExitCode: ExitCodeFailed,
			Stderr:   "error running command: empty command",
			Duration: time.Since(start),
		}
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, req.Name, args...)
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running command",
		zap.String("name", req.Name),
		zap.Int("args", len(args)),
		zap.String("dir", req.Dir),
		zap.Duration("timeout", req.Timeout))

	err := cmd.Run()
	out := stdout.String()
	if !req.FullStdout {
		out = TailBytes(out, r.maxOutputSize)
	}
	result := Result{
		Command:  argv,
		Stdout:   out,
		Stderr:   TailBytes(stderr.String(), r.maxOutputSize),
		Duration: time.Since(start),
	}

	if err == nil {
		return result
	}

	if req.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = ExitCodeFailed
		result.TimedOut = true
		result.Stderr = fmt.Sprintf("command timed out after %s", req.Timeout)
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result
	}

	result.ExitCode = ExitCodeFailed
	result.Stderr = fmt.Sprintf("error running command: %v", err)
	return result
}

// Ensure Runner implements Executor.
var _ Executor = (*Runner)(nil)
