package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// ANCHOR_LOOP_MAX_ITERATIONS.
const EnvPrefix = "ANCHOR"

// Config holds all anchor configuration
type Config struct {
	Terraform TerraformConfig `mapstructure:"terraform"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Loop      LoopConfig      `mapstructure:"loop"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Repo      RepoConfig      `mapstructure:"repo"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	State     StateConfig     `mapstructure:"state"`
}

// TerraformConfig holds deployment tool settings
type TerraformConfig struct {
	Binary   string `mapstructure:"binary"`
	Dir      string `mapstructure:"dir"`
	PlanFile string `mapstructure:"plan_file"`
}

// DiscoveryConfig holds resource discovery settings
type DiscoveryConfig struct {
	Binary        string   `mapstructure:"binary"`
	Services      []string `mapstructure:"services"`
	Regions       []string `mapstructure:"regions"`
	StagingDir    string   `mapstructure:"staging_dir"`
	DefaultRegion string   `mapstructure:"default_region"`
}

// WorkspaceConfig holds snapshot and command settings
type WorkspaceConfig struct {
	EntryFile             string `mapstructure:"entry_file"`
	TreeDepth             int    `mapstructure:"tree_depth"`
	StderrTailBytes       int    `mapstructure:"stderr_tail_bytes"`
	CommandTimeoutSeconds int    `mapstructure:"command_timeout_seconds"`
	MaxOutputBytes        int    `mapstructure:"max_output_bytes"`
}

// CommandTimeout returns the ad hoc command timeout as a duration.
func (w WorkspaceConfig) CommandTimeout() time.Duration {
	return time.Duration(w.CommandTimeoutSeconds) * time.Second
}

// LoopConfig holds repair loop settings
type LoopConfig struct {
	MaxIterations  int          `mapstructure:"max_iterations"`
	MaxTimeMinutes int          `mapstructure:"max_time_minutes"`
	MaxTokens      int          `mapstructure:"max_tokens"`
	Window         int          `mapstructure:"window"`
	MemoryCapacity int          `mapstructure:"memory_capacity"`
	BackoffMillis  int          `mapstructure:"backoff_millis"`
	Gutter         GutterConfig `mapstructure:"gutter"`
}

// Backoff returns the inter-iteration pause as a duration.
func (l LoopConfig) Backoff() time.Duration {
	return time.Duration(l.BackoffMillis) * time.Millisecond
}

// GutterConfig holds stuck-loop detection settings
type GutterConfig struct {
	MaxSameFailure     int `mapstructure:"max_same_failure"`
	MaxChurnIterations int `mapstructure:"max_churn_iterations"`
	ChurnThreshold     int `mapstructure:"churn_threshold"`
}

// LLMConfig holds reasoning service settings
type LLMConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	Model              string `mapstructure:"model"`
	APIKeyEnv          string `mapstructure:"api_key_env"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	MaxEntryFileBytes  int    `mapstructure:"max_entry_file_bytes"`
	MaxErrorBytes      int    `mapstructure:"max_error_bytes"`
	MaxToolOutputBytes int    `mapstructure:"max_tool_output_bytes"`
}

// Timeout returns the request timeout as a duration.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// RepoConfig holds git settings for the infrastructure checkout
type RepoConfig struct {
	Branch        string `mapstructure:"branch"`
	BaseBranch    string `mapstructure:"base_branch"`
	Remote        string `mapstructure:"remote"`
	CommitMessage string `mapstructure:"commit_message"`
	Push          bool   `mapstructure:"push"`
}

// GitHubConfig holds pull request settings
type GitHubConfig struct {
	Repo        string `mapstructure:"repo"`
	TokenEnv    string `mapstructure:"token_env"`
	BaseURL     string `mapstructure:"base_url"`
	OpenPR      bool   `mapstructure:"open_pr"`
	PRTitle     string `mapstructure:"pr_title"`
	PRBodyExtra string `mapstructure:"pr_body_extra"`
}

// ProbeConfig holds post-deploy health check settings
type ProbeConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the probe timeout as a duration.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// StateConfig holds run-state settings
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoadConfigWithFile loads configuration from a specific file if provided,
// otherwise falls back to LoadConfig with the working directory.
func LoadConfigWithFile(workDir, configFile string) (*Config, error) {
	if configFile != "" {
		return LoadConfigFromPath(configFile)
	}
	return LoadConfig(workDir)
}

// LoadConfig loads configuration from anchor.yaml in the given directory.
// Without one, the global config file is used if present, and defaults
// otherwise.
func LoadConfig(dir string) (*Config, error) {
	v := newViper()

	v.SetConfigName("anchor")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		if global, gerr := GlobalConfigPath(); gerr == nil {
			if _, serr := os.Stat(global); serr == nil {
				return LoadConfigFromPath(global)
			}
		}
	}

	return unmarshal(v)
}

// LoadConfigFromPath loads configuration from a specific file path. A
// missing file yields defaults.
func LoadConfigFromPath(configPath string) (*Config, error) {
	v := newViper()

	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			return unmarshal(v)
		}
		return nil, err
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the loop cannot run with.
func (c *Config) Validate() error {
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be at least 1, got %d", c.Loop.MaxIterations)
	}
	if c.Loop.Window < 1 {
		return fmt.Errorf("loop.window must be at least 1, got %d", c.Loop.Window)
	}
	if c.Loop.MemoryCapacity < c.Loop.Window {
		return fmt.Errorf("loop.memory_capacity (%d) must be at least loop.window (%d)",
			c.Loop.MemoryCapacity, c.Loop.Window)
	}
	if c.Terraform.Dir == "" {
		return fmt.Errorf("terraform.dir must not be empty")
	}
	return nil
}

// setDefaults sets all default values for configuration
func setDefaults(v *viper.Viper) {
	// Terraform defaults
	v.SetDefault("terraform.binary", DefaultTerraformBinary)
	v.SetDefault("terraform.dir", DefaultTerraformDir)
	v.SetDefault("terraform.plan_file", DefaultPlanFile)

	// Discovery defaults
	v.SetDefault("discovery.binary", DefaultDiscoveryBinary)
	v.SetDefault("discovery.services", DefaultServices)
	v.SetDefault("discovery.regions", []string{DefaultRegion})
	v.SetDefault("discovery.staging_dir", DefaultStagingDir)
	v.SetDefault("discovery.default_region", DefaultRegion)

	// Workspace defaults
	v.SetDefault("workspace.entry_file", DefaultEntryFile)
	v.SetDefault("workspace.tree_depth", DefaultTreeDepth)
	v.SetDefault("workspace.stderr_tail_bytes", DefaultStderrTailBytes)
	v.SetDefault("workspace.command_timeout_seconds", DefaultCommandTimeoutSeconds)
	v.SetDefault("workspace.max_output_bytes", DefaultMaxOutputBytes)

	// Loop defaults
	v.SetDefault("loop.max_iterations", DefaultMaxIterations)
	v.SetDefault("loop.max_time_minutes", 0)
	v.SetDefault("loop.max_tokens", 0)
	v.SetDefault("loop.window", DefaultWindow)
	v.SetDefault("loop.memory_capacity", DefaultMemoryCapacity)
	v.SetDefault("loop.backoff_millis", DefaultBackoffMillis)
	v.SetDefault("loop.gutter.max_same_failure", DefaultMaxSameFailure)
	v.SetDefault("loop.gutter.max_churn_iterations", DefaultMaxChurnIterations)
	v.SetDefault("loop.gutter.churn_threshold", DefaultChurnThreshold)

	// LLM defaults
	v.SetDefault("llm.base_url", DefaultLLMBaseURL)
	v.SetDefault("llm.model", DefaultLLMModel)
	v.SetDefault("llm.api_key_env", DefaultLLMAPIKeyEnv)
	v.SetDefault("llm.timeout_seconds", DefaultLLMTimeoutSeconds)
	v.SetDefault("llm.max_entry_file_bytes", DefaultMaxEntryFileBytes)
	v.SetDefault("llm.max_error_bytes", DefaultMaxErrorBytes)
	v.SetDefault("llm.max_tool_output_bytes", DefaultMaxToolOutputBytes)

	// Repo defaults
	v.SetDefault("repo.branch", DefaultBranch)
	v.SetDefault("repo.base_branch", DefaultBaseBranch)
	v.SetDefault("repo.remote", DefaultRemote)
	v.SetDefault("repo.commit_message", DefaultCommitMessage)
	v.SetDefault("repo.push", true)

	// GitHub defaults
	v.SetDefault("github.repo", "")
	v.SetDefault("github.token_env", DefaultGitHubTokenEnv)
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.open_pr", false)
	v.SetDefault("github.pr_title", DefaultPRTitle)
	v.SetDefault("github.pr_body_extra", "")

	// Probe defaults
	v.SetDefault("probe.url", "")
	v.SetDefault("probe.timeout_seconds", DefaultProbeTimeoutSeconds)

	// State defaults
	v.SetDefault("state.dir", DefaultStateDir)
}
