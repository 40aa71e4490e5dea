package normalize

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yarlson/anchor/internal/command"
	"github.com/yarlson/anchor/internal/credentials"
)

// DefaultDiscoveryBinary is the resource-discovery executable.
const DefaultDiscoveryBinary = "terraformer"

// DefaultStagingDir is the provider subdirectory the discovery tool writes
// into below the output root.
const DefaultStagingDir = "aws"

// DefaultServices is the service allowlist passed to the discovery tool.
var DefaultServices = []string{
	"cloudwatch",
	"ec2_instance",
	"ebs",
	"ecs",
	"lambda",
	"cloudfront",
	"api_gateway",
	"s3",
	"eks",
	"ecr",
}

// DiscoveryOptions configures the discovery invocation.
type DiscoveryOptions struct {
	Binary    string
	Services  []string
	Regions   []string
	OutputDir string
}

// DiscoveryArgs returns the discovery tool arguments. The empty profile
// forces credentials to come from the environment.
func DiscoveryArgs(opts DiscoveryOptions) []string {
	return []string{
		"import",
		"aws",
		"--profile=",
		"--resources=" + strings.Join(opts.Services, ","),
		"--regions=" + strings.Join(opts.Regions, ","),
		"--path-output=" + opts.OutputDir,
		"--compact",
	}
}

// DiscoveryEnv returns the environment overlay for the discovery tool:
// source-account credentials with instance metadata lookup disabled.
func DiscoveryEnv(getenv credentials.Getenv) map[string]string {
	env := credentials.Source(getenv).Env()
	env[credentials.EnvMetadataDisabled] = "true"
	return env
}

// Discover runs the discovery tool. The run has no timeout; it is bounded
// only by ctx.
func Discover(ctx context.Context, exec command.Executor, opts DiscoveryOptions, getenv credentials.Getenv) (command.Result, error) {
	if len(opts.Services) == 0 {
		return command.Result{}, fmt.Errorf("no services to discover")
	}
	if len(opts.Regions) == 0 {
		return command.Result{}, fmt.Errorf("no regions to discover")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return command.Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	binary := opts.Binary
	if binary == "" {
		binary = DefaultDiscoveryBinary
	}

	res := exec.Run(ctx, command.Request{
		Name: binary,
		Args: DiscoveryArgs(opts),
		Env:  DiscoveryEnv(getenv),
	})
	if !res.OK() {
		return res, fmt.Errorf("%s exited with code %d: %s", binary, res.ExitCode, lastLine(res.Stderr))
	}
	return res, nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
