// Package credentials resolves AWS credential material for the source and
// destination accounts from the process environment.
package credentials

import (
	"os"
	"strings"
)

// Environment variable names read by anchor.
const (
	EnvDestAccessKeyID     = "DEST_AWS_ACCESS_KEY_ID"
	EnvDestSecretAccessKey = "DEST_AWS_SECRET_ACCESS_KEY"
	EnvSrcAccessKeyID      = "SRC_AWS_ACCESS_KEY_ID"
	EnvSrcSecretAccessKey  = "SRC_AWS_SECRET_ACCESS_KEY"
	EnvAccessKeyID         = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey     = "AWS_SECRET_ACCESS_KEY"
	EnvRegion              = "AWS_REGION"
	EnvMetadataDisabled    = "AWS_EC2_METADATA_DISABLED"
)

// Terraform variable names the generated configuration declares.
const (
	VarAccessKey = "aws_access_key"
	VarSecretKey = "aws_secret_key"
	VarRegion    = "aws_region"
)

// Getenv looks up an environment variable. os.Getenv satisfies it.
type Getenv func(string) string

// Credentials is one account's key pair plus the region to operate in.
// Any field may be empty when the corresponding input is absent.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// Destination reads the destination-account credentials. It is called on
// every command invocation so rotated values take effect immediately.
func Destination(getenv Getenv) Credentials {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Credentials{
		AccessKeyID:     strings.TrimSpace(getenv(EnvDestAccessKeyID)),
		SecretAccessKey: strings.TrimSpace(getenv(EnvDestSecretAccessKey)),
		Region:          strings.TrimSpace(getenv(EnvRegion)),
	}
}

// Source reads the source-account credentials, preferring SRC_AWS_* and
// falling back to the standard AWS_* variables.
func Source(getenv Getenv) Credentials {
	if getenv == nil {
		getenv = os.Getenv
	}
	creds := Credentials{
		AccessKeyID:     strings.TrimSpace(getenv(EnvSrcAccessKeyID)),
		SecretAccessKey: strings.TrimSpace(getenv(EnvSrcSecretAccessKey)),
		Region:          strings.TrimSpace(getenv(EnvRegion)),
	}
	if creds.AccessKeyID == "" {
		creds.AccessKeyID = strings.TrimSpace(getenv(EnvAccessKeyID))
		creds.SecretAccessKey = strings.TrimSpace(getenv(EnvSecretAccessKey))
	}
	return creds
}

// Complete reports whether both halves of the key pair are present.
func (c Credentials) Complete() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// TerraformVars returns "-var key=value" pairs for the inputs that are set.
func (c Credentials) TerraformVars() []string {
	var args []string
	if c.AccessKeyID != "" {
		args = append(args, "-var", VarAccessKey+"="+c.AccessKeyID)
	}
	if c.SecretAccessKey != "" {
		args = append(args, "-var", VarSecretKey+"="+c.SecretAccessKey)
	}
	if c.Region != "" {
		args = append(args, "-var", VarRegion+"="+c.Region)
	}
	return args
}

// Env returns the standard AWS environment variables for the inputs that
// are set, suitable as a process environment overlay.
func (c Credentials) Env() map[string]string {
	env := make(map[string]string, 3)
	if c.AccessKeyID != "" {
		env[EnvAccessKeyID] = c.AccessKeyID
	}
	if c.SecretAccessKey != "" {
		env[EnvSecretAccessKey] = c.SecretAccessKey
	}
	if c.Region != "" {
		env[EnvRegion] = c.Region
	}
	return env
}

// Redacted returns the access key id with all but the last four characters
// masked, for logging.
func (c Credentials) Redacted() string {
	if len(c.AccessKeyID) <= 4 {
		return strings.Repeat("*", len(c.AccessKeyID))
	}
	return strings.Repeat("*", len(c.AccessKeyID)-4) + c.AccessKeyID[len(c.AccessKeyID)-4:]
}
