// Package runner wires discovery, the repair loop and publishing into the
// run, import and repair commands.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/yarlson/anchor/internal/command"
	"github.com/yarlson/anchor/internal/config"
	"github.com/yarlson/anchor/internal/credentials"
	gitpkg "github.com/yarlson/anchor/internal/git"
	"github.com/yarlson/anchor/internal/github"
	"github.com/yarlson/anchor/internal/llm"
	"github.com/yarlson/anchor/internal/loop"
	"github.com/yarlson/anchor/internal/memory"
	"github.com/yarlson/anchor/internal/normalize"
	"github.com/yarlson/anchor/internal/probe"
	"github.com/yarlson/anchor/internal/prompt"
	"github.com/yarlson/anchor/internal/state"
	"github.com/yarlson/anchor/internal/terraform"
	"github.com/yarlson/anchor/internal/tools"
	"github.com/yarlson/anchor/internal/workspace"
)

// ErrNoGitHubToken is returned when a pull request is requested but the
// token variable is empty.
var ErrNoGitHubToken = errors.New("github token not configured")

// Repository is the git surface a run needs.
type Repository interface {
	EnsureBranch(ctx context.Context, branchName string) error
	CommitAll(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, remote, branch string) error
	Exclude(pattern string) error
}

var _ Repository = (*gitpkg.ShellManager)(nil)

// PullRequester opens or reuses a pull request.
type PullRequester interface {
	OpenPullRequest(ctx context.Context, title, body, head, base string) (string, error)
}

// Prober checks a deployed endpoint.
type Prober interface {
	Check(ctx context.Context, url string, timeout time.Duration) probe.Result
}

// Options configures a run.
type Options struct {
	// RepoURL is the repository to clone. Only Run uses it.
	RepoURL string

	// WorkDir receives the checkout. Empty means a new temporary directory.
	WorkDir string

	// MaxIterations overrides loop.max_iterations when positive.
	MaxIterations int

	// NoPush skips push and pull request creation.
	NoPush bool
}

// Deps holds the collaborators of a run. Nil fields are built from the
// configuration.
type Deps struct {
	Config   *config.Config
	Logger   *zap.Logger
	Exec     command.Executor
	Reasoner llm.Client
	Prober   Prober
	Getenv   credentials.Getenv

	Clone        func(ctx context.Context, repoURL, dest string) (Repository, error)
	PullRequests func(repoURL string) (PullRequester, error)
	Identity     func(ctx context.Context, c credentials.Credentials, region string) (credentials.Identity, error)
}

// withDefaults fills every nil collaborator.
func (d Deps) withDefaults() (Deps, error) {
	if d.Config == nil {
		return d, errors.New("config is required")
	}
	cfg := d.Config

	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	if d.Exec == nil {
		r := command.NewRunner(cfg.Terraform.Binary, d.Logger)
		r.SetMaxOutputSize(cfg.Workspace.MaxOutputBytes)
		r.SetGetenv(d.Getenv)
		d.Exec = r
	}
	if d.Reasoner == nil {
		d.Reasoner = llm.NewHTTPClient(llm.HTTPOptions{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  d.Getenv(cfg.LLM.APIKeyEnv),
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout(),
		}, d.Logger)
	}
	if d.Prober == nil {
		d.Prober = probe.NewChecker(nil, d.Logger)
	}
	if d.Clone == nil {
		d.Clone = func(ctx context.Context, repoURL, dest string) (Repository, error) {
			m, err := gitpkg.Clone(ctx, repoURL, dest)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if d.PullRequests == nil {
		logger, getenv := d.Logger, d.Getenv
		d.PullRequests = func(repoURL string) (PullRequester, error) {
			return newGitHubClient(cfg.GitHub, repoURL, getenv, logger)
		}
	}
	if d.Identity == nil {
		d.Identity = func(ctx context.Context, c credentials.Credentials, region string) (credentials.Identity, error) {
			api, err := credentials.NewSTSClient(ctx, c, region)
			if err != nil {
				return credentials.Identity{}, err
			}
			return credentials.CallerIdentity(ctx, api)
		}
	}
	return d, nil
}

func newGitHubClient(cfg config.GitHubConfig, repoURL string, getenv credentials.Getenv, logger *zap.Logger) (PullRequester, error) {
	ref := cfg.Repo
	if ref == "" {
		ref = repoURL
	}
	owner, name, err := github.ParseRepo(ref)
	if err != nil {
		return nil, err
	}

	token := getenv(cfg.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("%w: set %s", ErrNoGitHubToken, cfg.TokenEnv)
	}

	client := github.NewClient(token, owner, name, logger)
	if cfg.BaseURL != "" {
		if err := client.SetBaseURL(cfg.BaseURL); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// Run clones the repository, imports resources when the infrastructure
// directory is empty, drives the repair loop and publishes the result. An
// exhausted loop is reported, not returned as an error.
func Run(ctx context.Context, opts Options, deps Deps) (*state.Report, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if opts.RepoURL == "" {
		return nil, errors.New("repository URL is required")
	}
	cfg, logger := deps.Config, deps.Logger

	ctx, cancel := withInterrupt(ctx, logger)
	defer cancel()

	dest := opts.WorkDir
	if dest == "" {
		if dest, err = os.MkdirTemp("", "anchor_repo_"); err != nil {
			return nil, fmt.Errorf("failed to create checkout directory: %w", err)
		}
	}

	logger.Info("cloning repository",
		zap.String("repo", gitpkg.RedactURL(opts.RepoURL)),
		zap.String("dest", dest))
	repo, err := deps.Clone(ctx, opts.RepoURL, dest)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}
	if err := repo.EnsureBranch(ctx, cfg.Repo.Branch); err != nil {
		return nil, fmt.Errorf("failed to switch to branch %s: %w", cfg.Repo.Branch, err)
	}

	stateDir := state.DirPath(dest, cfg.State.Dir)
	if rel, err := filepath.Rel(dest, stateDir); err == nil && !strings.HasPrefix(rel, "..") {
		if err := repo.Exclude(filepath.ToSlash(rel) + "/"); err != nil {
			logger.Warn("failed to exclude state directory", zap.Error(err))
		}
	}

	infraDir := filepath.Join(dest, cfg.Terraform.Dir)
	report := newReport(state.ModeRun, infraDir)
	report.Repo = gitpkg.RedactURL(opts.RepoURL)
	report.Branch = cfg.Repo.Branch

	if err := os.MkdirAll(infraDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", cfg.Terraform.Dir, err)
	}

	empty, err := isEmptyDir(infraDir)
	if err != nil {
		return nil, err
	}
	if empty {
		if err := importTree(ctx, deps, infraDir, report); err != nil {
			logger.Warn("import failed, writing minimal configuration", zap.Error(err))
			if werr := WriteFallbackMain(infraDir, cfg.Discovery.DefaultRegion); werr != nil {
				return nil, werr
			}
			report.FallbackMain = true
		}
	} else {
		logger.Info("existing infrastructure found, skipping import", zap.String("dir", infraDir))
	}

	result, err := repairTree(ctx, deps, opts, infraDir, stateDir, report)
	if err != nil {
		return finish(stateDir, report, logger, err)
	}

	if result.Outcome == loop.RunOutcomeCancelled {
		return finish(stateDir, report, logger, ctx.Err())
	}

	publish(ctx, deps, opts, repo, report)

	if cfg.Probe.URL != "" {
		res := deps.Prober.Check(ctx, cfg.Probe.URL, cfg.Probe.Timeout())
		report.ProbeURL = res.URL
		report.ProbeHealthy = res.Healthy
		report.ProbeStatus = res.Status
	}

	return finish(stateDir, report, logger, nil)
}

// Import runs only the discovery pipeline into dir.
func Import(ctx context.Context, dir string, deps Deps) (*state.Report, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	ctx, cancel := withInterrupt(ctx, deps.Logger)
	defer cancel()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	report := newReport(state.ModeImport, dir)
	err = importTree(ctx, deps, dir, report)
	return finish(state.DirPath(dir, deps.Config.State.Dir), report, deps.Logger, err)
}

// Repair runs only the repair loop on an existing directory.
func Repair(ctx context.Context, dir string, opts Options, deps Deps) (*state.Report, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	ctx, cancel := withInterrupt(ctx, deps.Logger)
	defer cancel()

	stateDir := state.DirPath(dir, deps.Config.State.Dir)
	report := newReport(state.ModeRepair, dir)

	result, err := repairTree(ctx, deps, opts, dir, stateDir, report)
	if err == nil && result.Outcome == loop.RunOutcomeCancelled {
		err = ctx.Err()
	}
	return finish(stateDir, report, deps.Logger, err)
}

func newReport(mode state.Mode, dir string) *state.Report {
	return &state.Report{
		RunID:     uuid.New().String()[:8],
		Mode:      mode,
		Dir:       dir,
		StartedAt: time.Now(),
	}
}

// finish stamps and saves the report. A save failure is returned only when
// the run itself succeeded.
func finish(stateDir string, report *state.Report, logger *zap.Logger, runErr error) (*state.Report, error) {
	report.AddError(runErr)
	report.FinishedAt = time.Now()

	if err := state.SaveReport(stateDir, report); err != nil {
		logger.Error("failed to save run report", zap.Error(err))
		if runErr == nil {
			return report, err
		}
	}
	return report, runErr
}

// importTree verifies the source identity and runs the pipeline.
func importTree(ctx context.Context, deps Deps, dir string, report *state.Report) error {
	cfg := deps.Config

	verifyIdentity(ctx, deps, "source", credentials.Source(deps.Getenv))

	p := normalize.NewPipeline(normalize.Options{
		OutputDir:       dir,
		DiscoveryBinary: cfg.Discovery.Binary,
		Services:        cfg.Discovery.Services,
		Regions:         cfg.Discovery.Regions,
		StagingDir:      cfg.Discovery.StagingDir,
		DefaultRegion:   cfg.Discovery.DefaultRegion,
		TerraformBinary: cfg.Terraform.Binary,
	}, deps.Exec, deps.Logger)
	p.SetGetenv(deps.Getenv)

	res, err := p.Run(ctx)
	if err != nil {
		report.ImportError = err.Error()
		return err
	}

	for _, m := range res.Modules {
		report.Modules = append(report.Modules, m.Name)
	}
	for _, issue := range res.Issues {
		report.PrecheckIssues = append(report.PrecheckIssues, issue.String())
	}
	return nil
}

// verifyIdentity logs which account a key pair belongs to. Failures are
// warnings; terraform reports the authoritative error later.
func verifyIdentity(ctx context.Context, deps Deps, role string, c credentials.Credentials) string {
	logger := deps.Logger.With(zap.String("role", role))
	if !c.Complete() {
		logger.Warn("credentials not configured, using ambient AWS credentials")
		return ""
	}

	id, err := deps.Identity(ctx, c, deps.Config.Discovery.DefaultRegion)
	if err != nil {
		logger.Warn("failed to verify credentials", zap.String("key", c.Redacted()), zap.Error(err))
		return ""
	}

	logger.Info("credentials verified", zap.String("account", id.Account), zap.String("arn", id.ARN))
	return id.Account
}

// repairTree verifies the destination identity and runs the loop on dir.
func repairTree(ctx context.Context, deps Deps, opts Options, dir, stateDir string, report *state.Report) (loop.RunResult, error) {
	logger := deps.Logger

	report.AccountID = verifyIdentity(ctx, deps, "destination", credentials.Destination(deps.Getenv))

	if err := state.EnsureDir(stateDir); err != nil {
		return loop.RunResult{}, fmt.Errorf("failed to create state directory: %w", err)
	}

	controller, err := newController(deps, opts, dir, stateDir)
	if err != nil {
		return loop.RunResult{}, err
	}

	logger.Info("starting repair loop", zap.String("dir", dir), zap.String("run", report.RunID))
	result := controller.Run(ctx)

	report.Outcome = string(result.Outcome)
	report.Message = result.Message
	report.Iterations = result.IterationsRun
	report.TotalTokens = result.TotalTokens

	fields := []zap.Field{
		zap.Int("iterations", result.IterationsRun),
		zap.Int("tokens", result.TotalTokens),
		zap.Duration("elapsed", result.ElapsedTime.Round(time.Second)),
	}
	switch result.Outcome {
	case loop.RunOutcomeSucceeded:
		logger.Info("repair loop succeeded", fields...)
	case loop.RunOutcomeExhausted:
		logger.Warn("repair loop finished without success", append(fields, zap.String("reason", result.Message))...)
	default:
		logger.Warn("repair loop stopped", append(fields, zap.String("reason", result.Message))...)
	}

	return result, nil
}

func newController(deps Deps, opts Options, dir, stateDir string) (*loop.Controller, error) {
	cfg, logger := deps.Config, deps.Logger

	tf := terraform.NewExecutor(deps.Exec, cfg.Terraform.Binary, dir)
	tf.SetPlanFile(cfg.Terraform.PlanFile)

	snap := workspace.NewBuilder(tf, logger)
	snap.SetEntryFile(cfg.Workspace.EntryFile)
	snap.SetTreeDepth(cfg.Workspace.TreeDepth)
	snap.SetStderrTailBytes(cfg.Workspace.StderrTailBytes)

	dispatcher := tools.NewDispatcher(dir, deps.Exec, logger)
	dispatcher.SetTimeout(cfg.Workspace.CommandTimeout())

	sizes := prompt.SizeOptions{
		MaxEntryFileBytes:  cfg.LLM.MaxEntryFileBytes,
		MaxErrorBytes:      cfg.LLM.MaxErrorBytes,
		MaxToolOutputBytes: cfg.LLM.MaxToolOutputBytes,
	}
	if err := sizes.Validate(); err != nil {
		return nil, fmt.Errorf("invalid llm size options: %w", err)
	}

	controller, err := loop.NewController(loop.ControllerDeps{
		Snapshotter: snap,
		Memory:      memory.New[workspace.Observation](cfg.Loop.MemoryCapacity),
		Prompt:      prompt.NewBuilder(&sizes),
		Reasoner:    deps.Reasoner,
		Tools:       dispatcher,
		Logger:      logger,
		Window:      cfg.Loop.Window,
		LogsDir:     state.LogsDirPath(stateDir),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repair loop: %w", err)
	}

	limits := loop.BudgetLimits{
		MaxIterations:  cfg.Loop.MaxIterations,
		MaxTimeMinutes: cfg.Loop.MaxTimeMinutes,
		MaxTokens:      cfg.Loop.MaxTokens,
	}
	if opts.MaxIterations > 0 {
		limits.MaxIterations = opts.MaxIterations
	}
	controller.SetBudgetLimits(limits)
	controller.SetGutterConfig(loop.GutterConfig{
		MaxSameFailure:     cfg.Loop.Gutter.MaxSameFailure,
		MaxChurnIterations: cfg.Loop.Gutter.MaxChurnIterations,
		ChurnThreshold:     cfg.Loop.Gutter.ChurnThreshold,
	})
	controller.SetBackoff(cfg.Loop.Backoff())

	return controller, nil
}

// publish commits the tree, pushes the branch and opens a pull request.
// Every failure is recorded on the report and logged; none aborts the run.
func publish(ctx context.Context, deps Deps, opts Options, repo Repository, report *state.Report) {
	cfg, logger := deps.Config, deps.Logger

	commitType := gitpkg.CommitTypeFix
	if len(report.Modules) > 0 || report.FallbackMain {
		commitType = gitpkg.CommitTypeFeat
	}
	message := gitpkg.FormatCommitMessage(commitType, cfg.Repo.CommitMessage, gitpkg.CommitDetails{
		RunID:      report.RunID,
		Outcome:    report.Outcome,
		Iterations: report.Iterations,
		Modules:    len(report.Modules),
	})

	commit, err := repo.CommitAll(ctx, message)
	switch {
	case errors.Is(err, gitpkg.ErrNoChanges):
		logger.Info("no changes to commit")
		return
	case err != nil:
		logger.Error("failed to commit", zap.Error(err))
		report.AddError(err)
		return
	}
	report.Commit = commit
	logger.Info("committed infrastructure", zap.String("commit", commit))

	if opts.NoPush || !cfg.Repo.Push {
		return
	}
	if err := repo.Push(ctx, cfg.Repo.Remote, cfg.Repo.Branch); err != nil {
		logger.Error("failed to push", zap.Error(err))
		report.AddError(err)
		return
	}
	report.Pushed = true
	logger.Info("pushed branch", zap.String("remote", cfg.Repo.Remote), zap.String("branch", cfg.Repo.Branch))

	if !cfg.GitHub.OpenPR {
		return
	}
	prs, err := deps.PullRequests(opts.RepoURL)
	if err != nil {
		logger.Warn("skipping pull request", zap.Error(err))
		report.AddError(err)
		return
	}
	url, err := prs.OpenPullRequest(ctx, cfg.GitHub.PRTitle, PullRequestBody(report, cfg.GitHub.PRBodyExtra),
		cfg.Repo.Branch, cfg.Repo.BaseBranch)
	if err != nil {
		logger.Error("failed to open pull request", zap.Error(err))
		report.AddError(err)
		return
	}
	report.PullRequestURL = url
	logger.Info("pull request ready", zap.String("url", url))
}

func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", dir, err)
	}
	defer func() { _ = f.Close() }()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// withInterrupt cancels ctx on SIGINT or SIGTERM. The loop stops after the
// current iteration.
func withInterrupt(ctx context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received interrupt signal, stopping after current iteration")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// IsTerminal checks if the writer is a terminal.
func IsTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}
