package normalize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "us-east-1", NormalizeName(" us-east-1 "))
	assert.Equal(t, "api_gateway", NormalizeName("api gateway"))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestDiscoverModules(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "s3/us-east-1/bucket.tf", "")
	write(t, dir, "lambda/us-east-1/function.tf", "")
	write(t, dir, "lambda/eu-west-1/function.tf", "")
	write(t, dir, ".terraform/providers/x.tf", "")
	write(t, dir, "main.tf", "")

	modules, err := DiscoverModules(dir)
	require.NoError(t, err)

	assert.Equal(t, []Module{
		{Name: "lambda_eu-west-1", Source: "./lambda/eu-west-1"},
		{Name: "lambda_us-east-1", Source: "./lambda/us-east-1"},
		{Name: "s3_us-east-1", Source: "./s3/us-east-1"},
	}, modules)
}

func TestDiscoverModules_Empty(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "main.tf", "")

	_, err := DiscoverModules(dir)
	require.ErrorIs(t, err, ErrNoModules)
}

func TestVariablesTF(t *testing.T) {
	tf := VariablesTF("")

	assert.Contains(t, tf, `variable "aws_access_key"`)
	assert.Contains(t, tf, `variable "aws_secret_key"`)
	assert.Contains(t, tf, `default     = "us-east-1"`)
	assert.Equal(t, 2, strings.Count(tf, "sensitive   = true"))

	assert.Contains(t, VariablesTF("eu-west-1"), `default     = "eu-west-1"`)
}

func TestMainTF(t *testing.T) {
	tf := MainTF([]Module{
		{Name: "s3_us-east-1", Source: "./s3/us-east-1"},
		{Name: "lambda_us-east-1", Source: "./lambda/us-east-1"},
	})

	assert.True(t, strings.HasPrefix(tf, "#"))
	assert.Equal(t, 2, strings.Count(tf, "module \""))
	assert.Contains(t, tf, "module \"s3_us-east-1\" {\n  source = \"./s3/us-east-1\"\n")
	assert.Equal(t, 2, strings.Count(tf, "aws_access_key = var.aws_access_key"))
	assert.Equal(t, 2, strings.Count(tf, "aws_region     = var.aws_region"))
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	modules := []Module{{Name: "s3_us-east-1", Source: "./s3/us-east-1"}}

	require.NoError(t, Generate(dir, modules, "us-east-1"))

	require.NoError(t, VerifyRootFiles(dir))
	assert.Equal(t, ProviderTF(), read(t, dir, ProviderFile))
	assert.Equal(t, BackendTF(), read(t, dir, BackendFile))
	assert.Equal(t, MainTF(modules), read(t, dir, MainFile))
	assert.Contains(t, BackendTF(), `backend "local"`)
	assert.Contains(t, ProviderTF(), `version = "~> 5.0"`)
}

func TestGenerate_StopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory where provider.tf should go makes the second write fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, ProviderFile), 0o755))

	err := Generate(dir, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ProviderFile)

	assert.FileExists(t, filepath.Join(dir, VariablesFile))
	assert.NoFileExists(t, filepath.Join(dir, BackendFile))
	assert.NoFileExists(t, filepath.Join(dir, MainFile))
}

func TestVerifyRootFiles_Missing(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, VariablesFile, "")
	write(t, dir, ProviderFile, "")

	err := VerifyRootFiles(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), BackendFile)
}

func TestReadmeMD(t *testing.T) {
	md := ReadmeMD([]Module{{Name: "s3_us-east-1", Source: "./s3/us-east-1"}})

	assert.Contains(t, md, "- `s3_us-east-1` (`./s3/us-east-1`)")
	assert.Contains(t, md, "terraform init")
}
