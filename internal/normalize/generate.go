package normalize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yarlson/anchor/internal/credentials"
)

// DefaultRegion is the fallback for the aws_region variable.
const DefaultRegion = "us-east-1"

// Generated root file names, in generation order.
const (
	VariablesFile = "variables.tf"
	ProviderFile  = "provider.tf"
	BackendFile   = "backend.tf"
	MainFile      = "main.tf"
	ReadmeFile    = "README.md"
)

// RootFiles lists the files that must exist after generation.
var RootFiles = []string{VariablesFile, ProviderFile, BackendFile, MainFile}

const requiredProvidersBlock = `terraform {
  required_providers {
    aws = {
      source  = "hashicorp/aws"
      version = "~> 5.0"
    }
  }
}
`

const providerBlock = `provider "aws" {
  access_key = var.` + credentials.VarAccessKey + `
  secret_key = var.` + credentials.VarSecretKey + `
  region     = var.` + credentials.VarRegion + `
}
`

// VariablesTF declares the three credential variables. Keys default to
// null so the provider can fall back to environment credentials.
func VariablesTF(defaultRegion string) string {
	if defaultRegion == "" {
		defaultRegion = DefaultRegion
	}
	return fmt.Sprintf(`variable "%s" {
  description = "AWS access key for the destination account"
  type        = string
  sensitive   = true
  default     = null
}

variable "%s" {
  description = "AWS secret key for the destination account"
  type        = string
  sensitive   = true
  default     = null
}

variable "%s" {
  description = "AWS region to deploy into"
  type        = string
  default     = %q
}
`, credentials.VarAccessKey, credentials.VarSecretKey, credentials.VarRegion, defaultRegion)
}

// ProviderTF is the root provider configuration.
func ProviderTF() string {
	return requiredProvidersBlock + "\n" + providerBlock
}

// ModuleProviderTF is written into every module directory. It declares the
// variables the aggregator forwards.
func ModuleProviderTF() string {
	return requiredProvidersBlock + "\n" + providerBlock + "\n" + moduleVariables
}

const moduleVariables = `variable "` + credentials.VarAccessKey + `" {
  type      = string
  sensitive = true
  default   = null
}

variable "` + credentials.VarSecretKey + `" {
  type      = string
  sensitive = true
  default   = null
}

variable "` + credentials.VarRegion + `" {
  type = string
}
`

// BackendTF configures local state.
func BackendTF() string {
	return `terraform {
  backend "local" {
    path = "terraform.tfstate"
  }
}
`
}

// MainTF renders one module block per module, each forwarding the
// credential variables.
func MainTF(modules []Module) string {
	var sb strings.Builder
	sb.WriteString("# Generated by anchor from the discovered <service>/<region> directories.\n")
	sb.WriteString("# Do not edit by hand: fix the module directories instead.\n")

	for _, m := range modules {
		fmt.Fprintf(&sb, `
module %q {
  source = %q

  %s = var.%s
  %s = var.%s
  %s     = var.%s
}
`, m.Name, m.Source,
			credentials.VarAccessKey, credentials.VarAccessKey,
			credentials.VarSecretKey, credentials.VarSecretKey,
			credentials.VarRegion, credentials.VarRegion)
	}
	return sb.String()
}

// ReadmeMD documents the generated tree.
func ReadmeMD(modules []Module) string {
	var sb strings.Builder
	sb.WriteString(`# Terraform infrastructure

This directory was generated by anchor from resources discovered in the
source AWS account and normalized for deployment into a destination account.

## Layout

- ` + "`variables.tf`" + `: credential and region variables
- ` + "`provider.tf`" + `: AWS provider configured from those variables
- ` + "`backend.tf`" + `: local state backend
- ` + "`main.tf`" + `: one module per discovered service and region

## Modules

`)
	for _, m := range modules {
		fmt.Fprintf(&sb, "- `%s` (`%s`)\n", m.Name, m.Source)
	}
	sb.WriteString(`
## Usage

` + "```sh" + `
export DEST_AWS_ACCESS_KEY_ID=...
export DEST_AWS_SECRET_ACCESS_KEY=...
export AWS_REGION=us-east-1

terraform init
terraform plan \
  -var aws_access_key="$DEST_AWS_ACCESS_KEY_ID" \
  -var aws_secret_key="$DEST_AWS_SECRET_ACCESS_KEY" \
  -var aws_region="$AWS_REGION" \
  -out=tfplan
terraform apply tfplan
` + "```" + `
`)
	return sb.String()
}

// Generate writes variables.tf, provider.tf, backend.tf and main.tf in
// that order, stopping at the first write failure.
func Generate(dir string, modules []Module, defaultRegion string) error {
	files := []struct {
		name    string
		content string
	}{
		{VariablesFile, VariablesTF(defaultRegion)},
		{ProviderFile, ProviderTF()},
		{BackendFile, BackendTF()},
		{MainFile, MainTF(modules)},
	}

	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}

// VerifyRootFiles returns an error naming the first missing root file.
func VerifyRootFiles(dir string) error {
	for _, name := range RootFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("required file %s is missing: %w", name, err)
		}
		if info.IsDir() {
			return fmt.Errorf("required file %s is a directory", name)
		}
	}
	return nil
}
