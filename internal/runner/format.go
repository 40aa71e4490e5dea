package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yarlson/anchor/internal/normalize"
	"github.com/yarlson/anchor/internal/state"
)

// FallbackMain is written when discovery fails so the loop has a
// configuration to start from.
const FallbackMain = `terraform {
  required_providers {
    aws = {
      source  = "hashicorp/aws"
      version = "~> 5.0"
    }
  }
}

provider "aws" {
  region = var.aws_region
}

variable "aws_region" {
  type    = string
  default = %q
}

# Resource discovery failed. Add resources from the source account here.
`

// WriteFallbackMain writes the minimal main.tf into dir.
func WriteFallbackMain(dir, region string) error {
	if region == "" {
		region = normalize.DefaultRegion
	}
	path := filepath.Join(dir, normalize.MainFile)
	if err := os.WriteFile(path, []byte(fmt.Sprintf(FallbackMain, region)), 0o644); err != nil {
		return fmt.Errorf("failed to write fallback %s: %w", normalize.MainFile, err)
	}
	return nil
}

// FormatReport formats a run report for CLI output.
func FormatReport(r *state.Report) string {
	var b strings.Builder

	outcome := r.Outcome
	if outcome == "" {
		outcome = "n/a"
	}
	fmt.Fprintf(&b, "## Anchor %s: %s\n\n", r.Mode, outcome)
	if r.Message != "" {
		fmt.Fprintf(&b, "**Message**: %s\n\n", r.Message)
	}

	b.WriteString("### Summary\n")
	fmt.Fprintf(&b, "- Run: %s\n", r.RunID)
	if r.Repo != "" {
		fmt.Fprintf(&b, "- Repository: %s (%s)\n", r.Repo, r.Branch)
	}
	fmt.Fprintf(&b, "- Directory: %s\n", r.Dir)
	if r.AccountID != "" {
		fmt.Fprintf(&b, "- Destination account: %s\n", r.AccountID)
	}
	if r.Outcome != "" {
		fmt.Fprintf(&b, "- Iterations: %d\n", r.Iterations)
		fmt.Fprintf(&b, "- Tokens: %d\n", r.TotalTokens)
	}
	if d := r.Duration(); d > 0 {
		fmt.Fprintf(&b, "- Elapsed time: %s\n", d.Round(time.Second))
	}
	if r.Commit != "" {
		fmt.Fprintf(&b, "- Commit: %s (pushed: %t)\n", shortHash(r.Commit), r.Pushed)
	}
	if r.PullRequestURL != "" {
		fmt.Fprintf(&b, "- Pull request: %s\n", r.PullRequestURL)
	}
	if r.ProbeURL != "" {
		fmt.Fprintf(&b, "- Probe: %s healthy=%t status=%d\n", r.ProbeURL, r.ProbeHealthy, r.ProbeStatus)
	}

	if len(r.Modules) > 0 {
		b.WriteString("\n### Modules\n")
		for _, m := range r.Modules {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if r.ImportError != "" || r.FallbackMain {
		b.WriteString("\n### Import\n")
		if r.ImportError != "" {
			fmt.Fprintf(&b, "- Failed: %s\n", r.ImportError)
		}
		if r.FallbackMain {
			b.WriteString("- Minimal main.tf written\n")
		}
	}
	if len(r.PrecheckIssues) > 0 {
		b.WriteString("\n### Precheck Issues\n")
		for _, issue := range r.PrecheckIssues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if len(r.Errors) > 0 {
		b.WriteString("\n### Errors\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	return b.String()
}

// PullRequestBody describes the run for reviewers.
func PullRequestBody(r *state.Report, extra string) string {
	var b strings.Builder

	b.WriteString("This branch adds Terraform configuration generated by anchor.\n\n")
	if len(r.Modules) > 0 {
		fmt.Fprintf(&b, "Discovered %d module(s):\n\n", len(r.Modules))
		for _, m := range r.Modules {
			fmt.Fprintf(&b, "- `%s`\n", m)
		}
		b.WriteString("\n")
	}
	if r.FallbackMain {
		b.WriteString("Resource discovery failed, so the tree starts from a minimal `main.tf`.\n\n")
	}
	if r.Outcome != "" {
		fmt.Fprintf(&b, "Repair loop: **%s** after %d iteration(s).\n", r.Outcome, r.Iterations)
	}
	if r.AccountID != "" {
		fmt.Fprintf(&b, "Destination account: `%s`.\n", r.AccountID)
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		fmt.Fprintf(&b, "\n%s\n", extra)
	}
	fmt.Fprintf(&b, "\n_Run %s_\n", r.RunID)

	return b.String()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
