package normalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yarlson/anchor/internal/command"
	"github.com/yarlson/anchor/internal/credentials"
	"github.com/yarlson/anchor/internal/precheck"
	"github.com/yarlson/anchor/internal/terraform"
)

// Options configures a pipeline run.
type Options struct {
	// OutputDir is the directory that receives the normalized tree.
	OutputDir string

	// DiscoveryBinary is the discovery executable. Defaults to terraformer.
	DiscoveryBinary string

	// Services is the discovery allowlist. Defaults to DefaultServices.
	Services []string

	// Regions to discover. Defaults to DefaultRegion.
	Regions []string

	// StagingDir is the subdirectory the discovery tool writes into.
	StagingDir string

	// DefaultRegion becomes the aws_region variable default.
	DefaultRegion string

	// TerraformBinary is used for the init check.
	TerraformBinary string
}

func (o *Options) applyDefaults() {
	if o.DiscoveryBinary == "" {
		o.DiscoveryBinary = DefaultDiscoveryBinary
	}
	if len(o.Services) == 0 {
		o.Services = DefaultServices
	}
	if o.DefaultRegion == "" {
		o.DefaultRegion = DefaultRegion
	}
	if len(o.Regions) == 0 {
		o.Regions = []string{o.DefaultRegion}
	}
	if o.StagingDir == "" {
		o.StagingDir = DefaultStagingDir
	}
	if o.TerraformBinary == "" {
		o.TerraformBinary = terraform.DefaultBinary
	}
}

// Report summarizes a successful pipeline run.
type Report struct {
	Modules       []Module         `json:"modules" yaml:"modules"`
	FilesMoved    int              `json:"files_moved" yaml:"files_moved"`
	Rewrite       RewriteStats     `json:"rewrite" yaml:"rewrite"`
	Issues        []precheck.Issue `json:"issues,omitempty" yaml:"issues,omitempty"`
	AutoFixed     int              `json:"auto_fixed" yaml:"auto_fixed"`
	PrecheckOK    bool             `json:"precheck_ok" yaml:"precheck_ok"`
	ReadmeWritten bool             `json:"readme_written" yaml:"readme_written"`
}

// Pipeline discovers resources and normalizes them into a deployable tree.
type Pipeline struct {
	opts   Options
	exec   command.Executor
	getenv credentials.Getenv
	logger *zap.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts Options, exec command.Executor, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &Pipeline{
		opts:   opts,
		exec:   exec,
		getenv: os.Getenv,
		logger: logger,
	}
}

// SetGetenv replaces the environment lookup for source credentials.
func (p *Pipeline) SetGetenv(getenv credentials.Getenv) {
	p.getenv = getenv
}

// Options returns the effective options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Run executes every stage in order. The first fatal failure is returned as
// a *StageError and leaves the output directory as it is.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	dir := p.opts.OutputDir
	if dir == "" {
		return nil, stageErr(StageDiscover, fmt.Errorf("output directory is required"))
	}
	report := &Report{}

	p.logger.Info("discovering resources",
		zap.String("dir", dir),
		zap.Strings("services", p.opts.Services),
		zap.Strings("regions", p.opts.Regions))
	if _, err := Discover(ctx, p.exec, DiscoveryOptions{
		Binary:    p.opts.DiscoveryBinary,
		Services:  p.opts.Services,
		Regions:   p.opts.Regions,
		OutputDir: dir,
	}, p.getenv); err != nil {
		return nil, stageErr(StageDiscover, err)
	}

	moved, err := Relocate(dir, p.opts.StagingDir)
	if err != nil {
		return nil, stageErr(StageRelocate, err)
	}
	report.FilesMoved = moved
	p.logger.Debug("relocated discovered files", zap.Int("files", moved))

	// Module dirs are needed to add missing provider files. An empty tree
	// is reported by the modules stage.
	candidates, _ := DiscoverModules(dir)
	stats, err := RewriteTree(dir, candidates)
	if err != nil {
		return nil, stageErr(StageRewrite, err)
	}
	report.Rewrite = stats
	p.logger.Info("rewrote discovered files",
		zap.Int("scanned", stats.FilesScanned),
		zap.Int("changed", stats.FilesChanged),
		zap.Int("providers_replaced", stats.ProvidersReplaced),
		zap.Int("providers_added", stats.ProvidersAdded))

	modules, err := DiscoverModules(dir)
	if err != nil {
		return nil, stageErr(StageModules, err)
	}
	report.Modules = modules
	p.logger.Info("discovered modules", zap.Int("count", len(modules)))

	if err := Generate(dir, modules, p.opts.DefaultRegion); err != nil {
		return nil, stageErr(StageGenerate, err)
	}

	tf := terraform.NewExecutor(p.exec, p.opts.TerraformBinary, dir)
	if res := tf.InitWithoutBackend(ctx); !res.OK() {
		return nil, stageErr(StageInit, fmt.Errorf("terraform init exited with code %d: %s",
			res.ExitCode, lastLine(res.Stderr)))
	}

	if err := VerifyRootFiles(dir); err != nil {
		return nil, stageErr(StageVerify, err)
	}

	ok, issues := precheck.Run(dir)
	report.PrecheckOK = ok
	report.Issues = issues
	precheck.Log(p.logger, issues)
	if !ok {
		report.AutoFixed = precheck.AutoFix(dir, issues, p.logger)
	}

	if err := os.WriteFile(filepath.Join(dir, ReadmeFile), []byte(ReadmeMD(modules)), 0o644); err != nil {
		return nil, stageErr(StageReadme, fmt.Errorf("failed to write %s: %w", ReadmeFile, err))
	}
	report.ReadmeWritten = true

	p.logger.Info("normalization complete", zap.Int("modules", len(modules)), zap.Bool("precheck_ok", ok))
	return report, nil
}
