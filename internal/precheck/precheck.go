// Package precheck runs read-only structural checks over a generated
// Terraform tree. Findings are advisory.
package precheck

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Root files the checks expect.
const (
	EntryFile     = "main.tf"
	VariablesFile = "variables.tf"
	ProviderFile  = "provider.tf"
	BackendFile   = "backend.tf"
)

// Issue is one advisory finding.
type Issue struct {
	File         string `json:"file" yaml:"file"`
	Issue        string `json:"issue" yaml:"issue"`
	SuggestedFix string `json:"suggested_fix" yaml:"suggested_fix"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.File, i.Issue)
}

var (
	modulePattern       = regexp.MustCompile(`module\s+"([^"]+)"\s*\{\s*source\s*=\s*"([^"]+)"`)
	credentialLiteral   = regexp.MustCompile(`(?m)^\s*(access_key|secret_key)\s*=\s*"[^"]*"`)
	awsProviderBlockTag = `provider "aws"`
)

var requiredFiles = []struct {
	name        string
	description string
}{
	{VariablesFile, "variable definitions for AWS credentials"},
	{ProviderFile, "AWS provider configuration"},
	{BackendFile, "Terraform state backend configuration"},
}

// Run checks dir and returns whether it is clean along with the ordered
// issues: required files, then module structure, then provider files.
func Run(dir string) (bool, []Issue) {
	var issues []Issue
	issues = append(issues, CheckRequiredFiles(dir)...)
	issues = append(issues, CheckModuleStructure(dir)...)
	issues = append(issues, CheckProviders(dir)...)
	return len(issues) == 0, issues
}

// CheckRequiredFiles reports missing variables, provider and backend files.
func CheckRequiredFiles(dir string) []Issue {
	var issues []Issue
	for _, f := range requiredFiles {
		if fileExists(filepath.Join(dir, f.name)) {
			continue
		}
		issues = append(issues, Issue{
			File:         f.name,
			Issue:        fmt.Sprintf("Missing %s (%s)", f.name, f.description),
			SuggestedFix: fmt.Sprintf("Create %s with appropriate configuration", f.name),
		})
	}
	return issues
}

// CheckModuleStructure reports a missing entry file, or module blocks whose
// relative source does not exist on disk.
func CheckModuleStructure(dir string) []Issue {
	data, err := os.ReadFile(filepath.Join(dir, EntryFile))
	if err != nil {
		return []Issue{{
			File:         EntryFile,
			Issue:        "Missing main.tf file",
			SuggestedFix: "Run the import pipeline first",
		}}
	}

	var issues []Issue
	for _, m := range modulePattern.FindAllStringSubmatch(string(data), -1) {
		name, source := m[1], m[2]
		if !strings.HasPrefix(source, "./") {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(source, "./")))); err == nil {
			continue
		}
		issues = append(issues, Issue{
			File:         EntryFile,
			Issue:        fmt.Sprintf("Module '%s' references non-existent path: %s", name, source),
			SuggestedFix: fmt.Sprintf("Check if path %s exists or correct the source path", source),
		})
	}
	return issues
}

// CheckProviders inspects every provider.tf under dir for literal
// credentials and duplicate AWS provider blocks. Hidden directories such as
// .terraform are skipped.
func CheckProviders(dir string) []Issue {
	var issues []Issue

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ProviderFile {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)
		content := string(data)

		if credentialLiteral.MatchString(content) {
			issues = append(issues, Issue{
				File:         rel,
				Issue:        "Possible hardcoded AWS credentials",
				SuggestedFix: "Use variables instead: access_key = var.aws_access_key",
			})
		}

		if n := strings.Count(content, awsProviderBlockTag); n > 1 {
			issues = append(issues, Issue{
				File:         rel,
				Issue:        fmt.Sprintf("Multiple provider blocks (%d) in same file", n),
				SuggestedFix: "Keep only one provider block per file",
			})
		}
		return nil
	})

	return issues
}

// AutoFix applies deterministic fixes for issues and returns how many were
// applied. The only recognized case, a missing variables.tf, is already
// handled by generation, so it is logged and skipped.
func AutoFix(dir string, issues []Issue, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, issue := range issues {
		if issue.File == VariablesFile && strings.HasPrefix(issue.Issue, "Missing") {
			logger.Info("skipping auto-fix, file is generated by the pipeline",
				zap.String("dir", dir),
				zap.String("file", issue.File))
		}
	}
	return 0
}

// Log writes issues at warn level, or a single info line when there are none.
func Log(logger *zap.Logger, issues []Issue) {
	if len(issues) == 0 {
		logger.Info("pre-checks passed")
		return
	}
	logger.Warn("pre-checks found issues", zap.Int("count", len(issues)))
	for _, issue := range issues {
		logger.Warn("pre-check issue",
			zap.String("file", issue.File),
			zap.String("issue", issue.Issue),
			zap.String("suggested_fix", issue.SuggestedFix))
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
