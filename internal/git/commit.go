package git

import (
	"fmt"
	"strings"
)

// CommitType represents the type prefix for conventional commits.
type CommitType string

// Supported commit types.
const (
	// CommitTypeFeat is used when a tree is imported for the first time.
	CommitTypeFeat CommitType = "feat"

	// CommitTypeFix is used when an existing tree is repaired.
	CommitTypeFix CommitType = "fix"

	// CommitTypeChore indicates maintenance or other changes.
	CommitTypeChore CommitType = "chore"
)

var validCommitTypes = map[CommitType]bool{
	CommitTypeFeat:  true,
	CommitTypeFix:   true,
	CommitTypeChore: true,
}

// String returns the string representation of the commit type.
func (ct CommitType) String() string {
	return string(ct)
}

// IsValid returns true if the commit type is a supported value.
func (ct CommitType) IsValid() bool {
	return validCommitTypes[ct]
}

// CommitDetails are the run facts recorded in the commit body.
type CommitDetails struct {
	RunID      string
	Outcome    string
	Iterations int
	Modules    int
}

// FormatCommitMessage builds "<type>: <subject>" followed by a body listing
// the run details that are set. A subject that already carries a valid type
// prefix is kept as is.
func FormatCommitMessage(commitType CommitType, subject string, d CommitDetails) string {
	subject = strings.TrimSpace(subject)
	if ct, _, ok := strings.Cut(subject, ":"); !ok || !CommitType(strings.TrimSpace(ct)).IsValid() {
		subject = fmt.Sprintf("%s: %s", commitType, subject)
	}

	var body []string
	if d.Modules > 0 {
		body = append(body, fmt.Sprintf("Modules: %d", d.Modules))
	}
	if d.Outcome != "" {
		body = append(body, fmt.Sprintf("Repair outcome: %s after %d iteration(s)", d.Outcome, d.Iterations))
	}
	if d.RunID != "" {
		body = append(body, "Anchor run: "+d.RunID)
	}

	if len(body) == 0 {
		return subject
	}
	return subject + "\n\n" + strings.Join(body, "\n")
}
