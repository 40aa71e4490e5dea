package precheck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const cleanProvider = `provider "aws" {
  access_key = var.aws_access_key
  secret_key = var.aws_secret_key
  region     = var.aws_region
}
`

func cleanTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, "main.tf", `module "s3_us-east-1" {
  source = "./s3/us-east-1"
}
`)
	write(t, dir, "variables.tf", `variable "aws_region" {}`)
	write(t, dir, "provider.tf", cleanProvider)
	write(t, dir, "backend.tf", `terraform {}`)
	write(t, dir, "s3/us-east-1/provider.tf", cleanProvider)
	return dir
}

func TestRun_Clean(t *testing.T) {
	ok, issues := Run(cleanTree(t))

	assert.True(t, ok)
	assert.Empty(t, issues)
}

func TestRun_EmptyDirOrder(t *testing.T) {
	ok, issues := Run(t.TempDir())

	assert.False(t, ok)
	require.Len(t, issues, 4)
	assert.Equal(t, "variables.tf", issues[0].File)
	assert.Equal(t, "provider.tf", issues[1].File)
	assert.Equal(t, "backend.tf", issues[2].File)
	assert.Equal(t, Issue{File: "main.tf", Issue: "Missing main.tf file", SuggestedFix: "Run the import pipeline first"}, issues[3])
}

func TestCheckModuleStructure_MissingSource(t *testing.T) {
	dir := cleanTree(t)
	write(t, dir, "main.tf", `module "s3_us-east-1" {
  source = "./s3/us-east-1"
}

module "lambda_us-west-2" {
  source = "./lambda/us-west-2"
}

module "vpc" {
  source = "terraform-aws-modules/vpc/aws"
}
`)

	issues := CheckModuleStructure(dir)

	require.Len(t, issues, 1)
	assert.Equal(t, "main.tf", issues[0].File)
	assert.Contains(t, issues[0].Issue, "lambda_us-west-2")
	assert.Contains(t, issues[0].Issue, "./lambda/us-west-2")
}

func TestCheckProviders_DuplicateBlocks(t *testing.T) {
	dir := cleanTree(t)
	write(t, dir, "s3/us-east-1/provider.tf", cleanProvider+"\n"+cleanProvider)

	issues := CheckProviders(dir)

	require.Len(t, issues, 1)
	assert.Equal(t, "s3/us-east-1/provider.tf", issues[0].File)
	assert.Equal(t, "Multiple provider blocks (2) in same file", issues[0].Issue)
}

func TestCheckProviders_LiteralCredentials(t *testing.T) {
	dir := cleanTree(t)
	write(t, dir, "provider.tf", `provider "aws" {
  access_key = "AKIAEXAMPLE"
  secret_key = "secret"
  region     = var.aws_region
}
`)

	issues := CheckProviders(dir)

	require.Len(t, issues, 1)
	assert.Equal(t, "provider.tf", issues[0].File)
	assert.Equal(t, "Possible hardcoded AWS credentials", issues[0].Issue)
}

func TestCheckProviders_SkipsHiddenDirs(t *testing.T) {
	dir := cleanTree(t)
	write(t, dir, ".terraform/modules/x/provider.tf", cleanProvider+cleanProvider)

	assert.Empty(t, CheckProviders(dir))
}

func TestAutoFix_IsNoOp(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	dir := t.TempDir()
	issues := CheckRequiredFiles(dir)

	fixed := AutoFix(dir, issues, zap.New(core))

	assert.Zero(t, fixed)
	assert.Equal(t, 1, logs.Len())
	assert.NoFileExists(t, filepath.Join(dir, "variables.tf"))
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	Log(logger, nil)
	Log(logger, []Issue{{File: "a", Issue: "b"}})

	assert.Equal(t, 1, logs.FilterMessage("pre-checks passed").Len())
	assert.Equal(t, 1, logs.FilterMessage("pre-check issue").Len())
}
