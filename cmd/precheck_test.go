package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/anchor/internal/normalize"
)

func TestPrecheckCmd_Clean(t *testing.T) {
	dir := isolate(t)
	tree := filepath.Join(dir, "infra")
	require.NoError(t, os.MkdirAll(tree, 0o755))
	require.NoError(t, normalize.Generate(tree, nil, "us-east-1"))

	out, err := execute(t, "precheck", tree)
	require.NoError(t, err)
	assert.Contains(t, out, "passed all pre-checks")
}

func TestPrecheckCmd_ReportsIssues(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "infra/main.tf", `module "s3_us-east-1" {
  source = "./s3/us-east-1"
}
`)

	out, err := execute(t, "precheck", "infra", "--fix")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre-checks found")

	assert.Contains(t, out, "✗ variables.tf: Missing variables.tf")
	assert.Contains(t, out, "fix:")
	assert.Contains(t, out, "Applied 0 fix(es)")
}

func TestPrecheckCmd_MissingDir(t *testing.T) {
	isolate(t)

	_, err := execute(t, "precheck", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory not found")
}
