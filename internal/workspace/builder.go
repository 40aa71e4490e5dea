package workspace

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yarlson/anchor/internal/command"
	"github.com/yarlson/anchor/internal/terraform"
)

const (
	// DefaultTreeDepth bounds the directory listing.
	DefaultTreeDepth = 3

	// DefaultStderrTailBytes bounds the plan stderr kept in an observation.
	DefaultStderrTailBytes = 2000

	// DefaultEntryFile is the file whose text is shown to the model.
	DefaultEntryFile = "main.tf"
)

// Builder produces Observations for one workspace.
type Builder struct {
	tf              *terraform.Executor
	entryFile       string
	treeDepth       int
	stderrTailBytes int
	now             func() time.Time
	logger          *zap.Logger
}

// NewBuilder creates a Builder that runs Terraform through tf in tf.Dir().
func NewBuilder(tf *terraform.Executor, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		tf:              tf,
		entryFile:       DefaultEntryFile,
		treeDepth:       DefaultTreeDepth,
		stderrTailBytes: DefaultStderrTailBytes,
		now:             time.Now,
		logger:          logger,
	}
}

// SetEntryFile sets the file whose content is captured.
func (b *Builder) SetEntryFile(name string) {
	b.entryFile = name
}

// SetTreeDepth sets the directory listing depth.
func (b *Builder) SetTreeDepth(depth int) {
	b.treeDepth = depth
}

// SetStderrTailBytes sets the plan stderr budget.
func (b *Builder) SetStderrTailBytes(n int) {
	b.stderrTailBytes = n
}

// Root returns the workspace root.
func (b *Builder) Root() string {
	return b.tf.Dir()
}

// Snapshot runs fmt-check, init, validate, plan and show in that order.
// Every stage runs regardless of earlier failures; show runs only after a
// successful plan.
func (b *Builder) Snapshot(ctx context.Context) Observation {
	obs := Observation{
		TakenAt:   b.now(),
		EntryFile: b.entryFile,
	}

	tree, err := ListTree(b.Root(), b.treeDepth)
	if err != nil {
		b.logger.Warn("failed to list workspace", zap.String("root", b.Root()), zap.Error(err))
	}
	obs.DirectoryTree = tree

	if data, err := os.ReadFile(filepath.Join(b.Root(), b.entryFile)); err == nil {
		obs.EntryFileText = string(data)
	}

	obs.Format = b.tf.Fmt(ctx)
	obs.Init = b.tf.Init(ctx)
	obs.Validate = b.tf.Validate(ctx)

	plan := b.tf.Plan(ctx)
	obs.Plan = PlanResult{
		ExitCode:   plan.ExitCode,
		StderrTail: command.TailBytes(plan.Stderr, b.stderrTailBytes),
	}

	if plan.OK() {
		show, stats, err := b.tf.ShowPlanStats(ctx)
		switch {
		case err != nil:
			obs.Plan.ShowError = err.Error()
		case !show.OK():
			obs.Plan.ShowError = command.TailBytes(show.Stderr, b.stderrTailBytes)
		default:
			obs.Plan.Stats = stats
		}
	}

	b.logger.Debug("workspace snapshot",
		zap.Int("fmt", obs.Format.ExitCode),
		zap.Int("init", obs.Init.ExitCode),
		zap.Int("validate", obs.Validate.ExitCode),
		zap.Int("plan", obs.Plan.ExitCode),
		zap.Bool("stats", obs.Plan.Stats != nil))

	return obs
}

// ListTree returns entries under root up to depth levels deep, sorted,
// with hidden entries skipped and directories suffixed with "/".
func ListTree(root string, depth int) ([]string, error) {
	var entries []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		level := strings.Count(rel, string(filepath.Separator)) + 1
		if level > depth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, rel)
		return nil
	})

	sort.Strings(entries)
	return entries, err
}
