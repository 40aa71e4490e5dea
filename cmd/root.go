// Package cmd implements the anchor command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yarlson/anchor/internal/config"
	"github.com/yarlson/anchor/internal/runner"
)

var (
	cfgFile string
	verbose bool
)

// GetConfigFile returns the config file path from the flag.
func GetConfigFile() string {
	return cfgFile
}

// runnerDeps builds the collaborators handed to the runner. Tests replace it.
var runnerDeps = func(cfg *config.Config, logger *zap.Logger) runner.Deps {
	return runner.Deps{Config: cfg, Logger: logger}
}

// NewRootCmd creates the root command for the anchor CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "anchor",
		Short: "Reproduce AWS infrastructure as deployable Terraform",
		Long: `Anchor discovers the resources of a source AWS account, normalizes them
into a Terraform tree inside a repository, and drives that tree toward a clean
deploy in a destination account with a model-guided repair loop.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: anchor.yaml, then ~/.config/anchor/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newRepairCmd())
	rootCmd.AddCommand(newPrecheckCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newLogsCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// setup loads configuration from the working directory and builds the
// logger. Callers must Sync the logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, newLogger(cmd.ErrOrStderr(), verbose), nil
}
