package config

// Terraform defaults
const (
	DefaultTerraformBinary = "terraform"
	DefaultTerraformDir    = "infra/terraform"
	DefaultPlanFile        = "tfplan"
)

// Discovery defaults
const (
	DefaultDiscoveryBinary = "terraformer"
	DefaultStagingDir      = "aws"
	DefaultRegion          = "us-east-1"
)

// DefaultServices is the discovery allowlist.
var DefaultServices = []string{
	"cloudwatch", "ec2_instance", "ebs", "ecs", "lambda",
	"cloudfront", "api_gateway", "s3", "eks", "ecr",
}

// Workspace defaults
const (
	DefaultEntryFile             = "main.tf"
	DefaultTreeDepth             = 3
	DefaultStderrTailBytes       = 2000
	DefaultCommandTimeoutSeconds = 30
	DefaultMaxOutputBytes        = 4000
)

// Loop defaults
const (
	DefaultMaxIterations  = 20
	DefaultWindow         = 7
	DefaultMemoryCapacity = 50
	DefaultBackoffMillis  = 1000
)

// Gutter detection defaults
const (
	DefaultMaxSameFailure     = 3
	DefaultMaxChurnIterations = 5
	DefaultChurnThreshold     = 3
)

// LLM defaults
const (
	DefaultLLMBaseURL         = "https://api.openai.com/v1"
	DefaultLLMModel           = "gpt-4o"
	DefaultLLMAPIKeyEnv       = "OPENAI_API_KEY"
	DefaultLLMTimeoutSeconds  = 120
	DefaultMaxEntryFileBytes  = 16000
	DefaultMaxErrorBytes      = 4000
	DefaultMaxToolOutputBytes = 2000
)

// Repo defaults
const (
	DefaultBranch        = "anchor/infra"
	DefaultBaseBranch    = "main"
	DefaultRemote        = "origin"
	DefaultCommitMessage = "Add normalized Terraform infrastructure"
)

// GitHub defaults
const (
	DefaultGitHubTokenEnv = "GITHUB_TOKEN"
	DefaultPRTitle        = "Add Terraform infrastructure"
)

// Probe defaults
const DefaultProbeTimeoutSeconds = 10

// State defaults
const DefaultStateDir = ".anchor"
