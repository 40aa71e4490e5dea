package normalize

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// CallerIdentityRef is the expression that replaces literal account IDs.
const CallerIdentityRef = "${data.aws_caller_identity.current.account_id}"

// CallerIdentityBlock declares the lookup CallerIdentityRef depends on.
const CallerIdentityBlock = `data "aws_caller_identity" "current" {}`

// Rule is a single text rewrite applied to discovered files.
type Rule struct {
	Name  string
	Apply func(string) string
}

var (
	arnAccountPattern      = regexp.MustCompile(`arn:aws:([a-z0-9-]+):([a-z0-9-]*):(\d{12}):`)
	ecrAccountPattern      = regexp.MustCompile(`\b(\d{12})\.dkr\.ecr\.`)
	regionPattern          = regexp.MustCompile(`(?m)^([ \t]*)region[ \t]*=[ \t]*"[a-z]{2}(?:-gov)?-[a-z]+-\d+"`)
	providerAliasPattern   = regexp.MustCompile(`(?m)^([ \t]*)provider[ \t]*=[ \t]*"?aws\.[A-Za-z0-9_-]+"?`)
	preventDestroyPattern  = regexp.MustCompile(`(?m)^[ \t]*lifecycle[ \t]*\{[^{}]*prevent_destroy[ \t]*=[ \t]*true[^{}]*\}[ \t]*\n?`)
	callerIdentityDecl     = regexp.MustCompile(`(?m)^[ \t]*data[ \t]+"aws_caller_identity"[ \t]+"current"[ \t]*\{[ \t]*\}[ \t]*\n*`)
	callerIdentityRefMatch = regexp.MustCompile(`data\.aws_caller_identity\.current\b`)
)

// Rules returns the rewrite rules in the order they are applied.
func Rules() []Rule {
	return []Rule{
		{Name: "account-ids", Apply: RewriteAccountIDs},
		{Name: "regions", Apply: RewriteRegions},
		{Name: "provider-aliases", Apply: RewriteProviderAliases},
		{Name: "prevent-destroy", Apply: StripPreventDestroy},
		{Name: "caller-identity", Apply: EnsureCallerIdentity},
	}
}

// RewriteAccountIDs replaces 12-digit account IDs inside ARNs and ECR
// registry hosts with the caller-identity lookup.
func RewriteAccountIDs(text string) string {
	text = arnAccountPattern.ReplaceAllString(text, "arn:aws:${1}:${2}:$"+CallerIdentityRef+":")
	return ecrAccountPattern.ReplaceAllString(text, "$"+CallerIdentityRef+".dkr.ecr.")
}

// RewriteRegions replaces literal region assignments with var.aws_region.
func RewriteRegions(text string) string {
	return regionPattern.ReplaceAllString(text, "${1}region = var.aws_region")
}

// RewriteProviderAliases replaces aliased provider references such as
// provider = "aws.us-west-2" with the default provider.
func RewriteProviderAliases(text string) string {
	return providerAliasPattern.ReplaceAllString(text, "${1}provider = aws")
}

// StripPreventDestroy removes lifecycle blocks that set prevent_destroy to
// true. Blocks with nested blocks are left alone.
func StripPreventDestroy(text string) string {
	return preventDestroyPattern.ReplaceAllString(text, "")
}

// EnsureCallerIdentity makes a file that references the caller-identity
// lookup declare it exactly once, at the top. Files without a reference are
// returned unchanged.
func EnsureCallerIdentity(text string) string {
	body := callerIdentityDecl.ReplaceAllString(text, "")
	if !callerIdentityRefMatch.MatchString(body) {
		return text
	}
	return CallerIdentityBlock + "\n\n" + strings.TrimLeft(body, "\n")
}

// HasCallerIdentity reports whether text declares the caller-identity lookup.
func HasCallerIdentity(text string) bool {
	return callerIdentityDecl.MatchString(text)
}

// RemoveCallerIdentity drops every caller-identity declaration from text.
func RemoveCallerIdentity(text string) string {
	return callerIdentityDecl.ReplaceAllString(text, "")
}

// RewriteText applies every rule in order.
func RewriteText(text string) string {
	for _, r := range Rules() {
		text = r.Apply(text)
	}
	return text
}

// rootFiles are generated later and never rewritten.
var rootFiles = map[string]bool{
	"main.tf":      true,
	"variables.tf": true,
	"provider.tf":  true,
}

// RewriteStats summarizes a tree rewrite.
type RewriteStats struct {
	FilesScanned      int `json:"files_scanned" yaml:"files_scanned"`
	FilesChanged      int `json:"files_changed" yaml:"files_changed"`
	ProvidersReplaced int `json:"providers_replaced" yaml:"providers_replaced"`
	ProvidersAdded    int `json:"providers_added" yaml:"providers_added"`
}

// RewriteTree rewrites every .tf file below dir except the root aggregator
// files, replaces module-level provider.tf files with the standard template,
// and adds the template to module directories that lack one. A module
// directory keeps a single caller-identity declaration, in the first file
// that needs it, since Terraform rejects duplicate data blocks in a module.
func RewriteTree(dir string, modules []Module) (RewriteStats, error) {
	var stats RewriteStats
	byDir := make(map[string][]string)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".tf" {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if filepath.Dir(rel) == "." && rootFiles[rel] {
			return nil
		}

		stats.FilesScanned++
		if d.Name() == "provider.tf" {
			if err := os.WriteFile(path, []byte(ModuleProviderTF()), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", rel, err)
			}
			stats.ProvidersReplaced++
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		rewritten := RewriteText(string(data))
		if rewritten != string(data) {
			if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", rel, err)
			}
			stats.FilesChanged++
		}
		byDir[filepath.Dir(path)] = append(byDir[filepath.Dir(path)], path)
		return nil
	})
	if err != nil {
		return stats, err
	}

	if err := dedupeCallerIdentity(byDir); err != nil {
		return stats, err
	}

	for _, m := range modules {
		path := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(m.Source, "./")), "provider.tf")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(ModuleProviderTF()), 0o644); err != nil {
			return stats, fmt.Errorf("failed to write provider for module %s: %w", m.Name, err)
		}
		stats.ProvidersAdded++
	}

	return stats, nil
}

// dedupeCallerIdentity keeps the caller-identity declaration only in the
// first file (by name) of each directory.
func dedupeCallerIdentity(byDir map[string][]string) error {
	for _, files := range byDir {
		sort.Strings(files)
		declared := false
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			text := string(data)
			if !HasCallerIdentity(text) {
				continue
			}
			if !declared {
				declared = true
				continue
			}
			if err := os.WriteFile(path, []byte(strings.TrimLeft(RemoveCallerIdentity(text), "\n")), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
		}
	}
	return nil
}
