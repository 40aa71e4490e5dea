// Package state manages the .anchor directory: iteration logs and the run
// report.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Directory and file names for the .anchor structure.
const (
	AnchorDir  = ".anchor"
	LogsDir    = "logs"
	ReportFile = "report.yaml"
)

// DirPath returns the state directory below root. An empty name means
// AnchorDir; an absolute name is used as is.
func DirPath(root, name string) string {
	if name == "" {
		name = AnchorDir
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(root, name)
}

// LogsDirPath returns the iteration log directory inside stateDir.
func LogsDirPath(stateDir string) string {
	return filepath.Join(stateDir, LogsDir)
}

// ReportPath returns the run report path inside stateDir.
func ReportPath(stateDir string) string {
	return filepath.Join(stateDir, ReportFile)
}

// EnsureDir creates stateDir and its logs directory. The parent must exist.
// It is idempotent.
func EnsureDir(stateDir string) error {
	parent := filepath.Dir(stateDir)
	if _, err := os.Stat(parent); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("parent directory does not exist: %s", parent)
	}

	for _, dir := range []string{stateDir, LogsDirPath(stateDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
