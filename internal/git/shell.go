package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ShellManager runs git operations by shelling out to the git binary.
type ShellManager struct {
	workDir string
}

// NewShellManager creates a new ShellManager for the repository at workDir.
func NewShellManager(workDir string) *ShellManager {
	return &ShellManager{workDir: workDir}
}

// WorkDir returns the repository root.
func (m *ShellManager) WorkDir() string {
	return m.workDir
}

// Clone clones url into dest and returns a manager for the checkout.
func Clone(ctx context.Context, repoURL, dest string) (*ShellManager, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clone parent: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", repoURL, dest)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &GitError{
			Command: "git clone " + RedactURL(repoURL),
			Output:  strings.ReplaceAll(stderr.String(), repoURL, RedactURL(repoURL)),
			Err:     ErrCloneFailed,
		}
	}
	return NewShellManager(dest), nil
}

// RedactURL strips user credentials from a remote URL. Non-URL remotes
// (scp-style) are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

// runGit executes a git command and returns the combined output.
func (m *ShellManager) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		stderrStr := stderr.String()
		stderrLower := strings.ToLower(stderrStr)

		// Check if this is a "not a git repository" error
		if strings.Contains(stderrLower, "not a git repository") {
			return "", &GitError{
				Command: "git " + strings.Join(args, " "),
				Output:  stderrStr,
				Err:     ErrNotAGitRepo,
			}
		}

		// Check if this is an empty repo (no commits) error
		if strings.Contains(stderrLower, "ambiguous argument 'head'") ||
			strings.Contains(stderrLower, "unknown revision") {
			return "", &GitError{
				Command: "git " + strings.Join(args, " "),
				Output:  stderrStr,
				Err:     ErrNoCommits,
			}
		}

		return "", &GitError{
			Command: "git " + strings.Join(args, " "),
			Output:  stderrStr,
			Err:     err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// GetCurrentBranch returns the name of the current branch.
func (m *ShellManager) GetCurrentBranch(ctx context.Context) (string, error) {
	return m.runGit(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// getCurrentBranchSymbolic returns the current branch using symbolic-ref.
// This works even in empty repos with no commits.
func (m *ShellManager) getCurrentBranchSymbolic(ctx context.Context) (string, error) {
	return m.runGit(ctx, "symbolic-ref", "--short", "HEAD")
}

// GetCurrentCommit returns the current HEAD commit hash.
func (m *ShellManager) GetCurrentCommit(ctx context.Context) (string, error) {
	return m.runGit(ctx, "rev-parse", "HEAD")
}

// HasChanges returns true if there are uncommitted changes in the working tree.
// This includes staged changes, unstaged changes, and untracked files.
func (m *ShellManager) HasChanges(ctx context.Context) (bool, error) {
	output, err := m.runGit(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return output != "", nil
}

// CommitAll stages all changes and commits them, returning the commit hash.
func (m *ShellManager) CommitAll(ctx context.Context, message string) (string, error) {
	hasChanges, err := m.HasChanges(ctx)
	if err != nil {
		return "", err
	}
	if !hasChanges {
		return "", &GitError{
			Command: "git commit",
			Output:  "nothing to commit, working tree clean",
			Err:     ErrNoChanges,
		}
	}

	if _, err := m.runGit(ctx, "add", "-A"); err != nil {
		return "", err
	}

	if _, err := m.runGit(ctx, "commit", "-m", message); err != nil {
		return "", &GitError{
			Command: "git commit",
			Output:  err.Error(),
			Err:     ErrCommitFailed,
		}
	}

	return m.GetCurrentCommit(ctx)
}

// EnsureBranch ensures a branch exists and switches to it.
// Handles empty repos (no commits) gracefully.
func (m *ShellManager) EnsureBranch(ctx context.Context, branchName string) error {
	currentBranch, err := m.GetCurrentBranch(ctx)
	if err != nil {
		// An empty repo has no HEAD commit, but symbolic-ref still works.
		if errors.Is(err, ErrNoCommits) {
			currentBranch, err = m.getCurrentBranchSymbolic(ctx)
			if err != nil {
				return err
			}
			if currentBranch == branchName {
				return nil
			}
			_, err = m.runGit(ctx, "checkout", "-b", branchName)
			return err
		}
		return err
	}
	if currentBranch == branchName {
		return nil
	}

	if _, err := m.runGit(ctx, "rev-parse", "--verify", branchName); err == nil {
		_, err = m.runGit(ctx, "checkout", branchName)
		return err
	}

	_, err = m.runGit(ctx, "checkout", "-b", branchName)
	return err
}

// Push pushes branch to remote with upstream tracking.
func (m *ShellManager) Push(ctx context.Context, remote, branch string) error {
	if _, err := m.runGit(ctx, "push", "-u", remote, branch); err != nil {
		var gitErr *GitError
		if errors.As(err, &gitErr) {
			return &GitError{Command: gitErr.Command, Output: gitErr.Output, Err: ErrPushFailed}
		}
		return err
	}
	return nil
}

// Exclude appends pattern to .git/info/exclude unless it is already listed,
// keeping local state out of commits without touching .gitignore.
func (m *ShellManager) Exclude(pattern string) error {
	path := filepath.Join(m.workDir, ".git", "info", "exclude")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create exclude dir: %w", err)
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read exclude file: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(existing))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == pattern {
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open exclude file: %w", err)
	}
	defer func() { _ = f.Close() }()

	prefix := ""
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + pattern + "\n"); err != nil {
		return fmt.Errorf("failed to write exclude file: %w", err)
	}
	return nil
}
