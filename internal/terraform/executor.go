// Package terraform wraps the Terraform CLI subcommands anchor drives.
package terraform

import (
	"context"
	"fmt"

	"github.com/yarlson/anchor/internal/command"
)

// DefaultBinary is the Terraform executable name.
const DefaultBinary = "terraform"

// DefaultPlanFile is the plan artifact written by Plan and read by ShowPlan.
const DefaultPlanFile = "tfplan"

// Executor runs Terraform subcommands in one working directory.
// Diagnostic subcommands run without a timeout.
type Executor struct {
	exec     command.Executor
	binary   string
	dir      string
	planFile string
}

// NewExecutor creates an Executor for dir.
func NewExecutor(exec command.Executor, binary, dir string) *Executor {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Executor{
		exec:     exec,
		binary:   binary,
		dir:      dir,
		planFile: DefaultPlanFile,
	}
}

// SetPlanFile overrides the plan artifact name.
func (e *Executor) SetPlanFile(name string) {
	e.planFile = name
}

// Dir returns the working directory.
func (e *Executor) Dir() string {
	return e.dir
}

// PlanFile returns the plan artifact name.
func (e *Executor) PlanFile() string {
	return e.planFile
}

func (e *Executor) run(ctx context.Context, args ...string) command.Result {
	return e.exec.Run(ctx, command.Request{
		Name: e.binary,
		Args: args,
		Dir:  e.dir,
	})
}

func (e *Executor) runFull(ctx context.Context, args ...string) command.Result {
	return e.exec.Run(ctx, command.Request{
		Name:       e.binary,
		Args:       args,
		Dir:        e.dir,
		FullStdout: true,
	})
}

// Fmt checks formatting recursively without rewriting files.
func (e *Executor) Fmt(ctx context.Context) command.Result {
	return e.run(ctx, "fmt", "-recursive", "-check")
}

// Init initializes providers and modules.
func (e *Executor) Init(ctx context.Context) command.Result {
	return e.run(ctx, "init", "-input=false", "-upgrade")
}

// InitWithoutBackend initializes with the state backend disabled.
func (e *Executor) InitWithoutBackend(ctx context.Context) command.Result {
	return e.run(ctx, "init", "-backend=false")
}

// Validate checks the configuration.
func (e *Executor) Validate(ctx context.Context) command.Result {
	return e.run(ctx, "validate", "-no-color")
}

// Plan writes a plan artifact.
func (e *Executor) Plan(ctx context.Context) command.Result {
	return e.run(ctx, "plan", "-input=false", "-no-color", "-out="+e.planFile)
}

// ShowPlan renders the plan artifact as JSON. Stdout is kept whole so it
// can be parsed.
func (e *Executor) ShowPlan(ctx context.Context) command.Result {
	return e.runFull(ctx, "show", "-json", e.planFile)
}

// ShowPlanStats runs ShowPlan and parses its output. The error is non-nil
// only when the command succeeded but produced unparseable JSON.
func (e *Executor) ShowPlanStats(ctx context.Context) (command.Result, *PlanStats, error) {
	result := e.ShowPlan(ctx)
	if !result.OK() {
		return result, nil, nil
	}

	stats, err := ParsePlanStats([]byte(result.Stdout))
	if err != nil {
		return result, nil, fmt.Errorf("show %s: %w", e.planFile, err)
	}
	return result, stats, nil
}
