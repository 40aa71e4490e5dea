// Package normalize turns discovered cloud resources into a Terraform tree
// the repair loop can work on.
package normalize

import "fmt"

// Stage names the pipeline step that failed.
type Stage string

// Pipeline stages, in execution order.
const (
	StageDiscover Stage = "discover"
	StageRelocate Stage = "relocate"
	StageRewrite  Stage = "rewrite"
	StageModules  Stage = "modules"
	StageGenerate Stage = "generate"
	StageInit     Stage = "init"
	StageVerify   Stage = "verify"
	StagePrecheck Stage = "precheck"
	StageReadme   Stage = "readme"
)

// StageError reports a fatal pipeline failure. No later stage runs and no
// cleanup is performed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
