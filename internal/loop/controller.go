package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yarlson/anchor/internal/llm"
	"github.com/yarlson/anchor/internal/memory"
	"github.com/yarlson/anchor/internal/prompt"
	"github.com/yarlson/anchor/internal/tools"
	"github.com/yarlson/anchor/internal/workspace"
)

const (
	// DefaultWindow is how many recent observations go into each prompt.
	DefaultWindow = 7

	// DefaultBackoff is the pause between iterations.
	DefaultBackoff = time.Second

	// FinishedToken starts a reply that ends the loop.
	FinishedToken = "finished"
)

// RunLoopOutcome represents the final outcome of a loop run.
type RunLoopOutcome string

const (
	// RunOutcomeSucceeded indicates the model signalled completion.
	RunOutcomeSucceeded RunLoopOutcome = "succeeded"
	// RunOutcomeExhausted indicates the budget ran out first.
	RunOutcomeExhausted RunLoopOutcome = "exhausted"
	// RunOutcomeCancelled indicates the context was cancelled.
	RunOutcomeCancelled RunLoopOutcome = "cancelled"
)

// validRunOutcomes is the set of valid run outcomes.
var validRunOutcomes = map[RunLoopOutcome]bool{
	RunOutcomeSucceeded: true,
	RunOutcomeExhausted: true,
	RunOutcomeCancelled: true,
}

// IsValid returns true if the outcome is a valid value.
func (o RunLoopOutcome) IsValid() bool {
	return validRunOutcomes[o]
}

// RunResult contains the results from a loop run.
type RunResult struct {
	// Outcome is the final outcome of the run.
	Outcome RunLoopOutcome

	// Message is a human-readable description of the outcome.
	Message string

	// IterationsRun is the number of iterations completed.
	IterationsRun int

	// Records contains the iteration records from the run.
	Records []*IterationRecord

	// TotalTokens is the token usage across all iterations.
	TotalTokens int

	// ElapsedTime is the total time for the run.
	ElapsedTime time.Duration
}

// Snapshotter produces observations of the workspace.
type Snapshotter interface {
	Snapshot(ctx context.Context) workspace.Observation
}

// ToolApplier applies tool calls in order.
type ToolApplier interface {
	Apply(ctx context.Context, calls []llm.ToolCall) []tools.Result
}

// ControllerDeps contains the dependencies for the Controller.
type ControllerDeps struct {
	Snapshotter Snapshotter
	Memory      *memory.Buffer[workspace.Observation]
	Prompt      *prompt.Builder
	Reasoner    llm.Client
	Tools       ToolApplier
	Logger      *zap.Logger

	// Window is how many observations each prompt carries. Zero means
	// DefaultWindow. It must not exceed the memory capacity.
	Window int

	// LogsDir receives iteration records. Empty disables saving.
	LogsDir string
}

// Controller orchestrates the repair loop. It runs iterations strictly one
// after another and is not safe for concurrent use.
type Controller struct {
	snapshotter Snapshotter
	memory      *memory.Buffer[workspace.Observation]
	prompt      *prompt.Builder
	reasoner    llm.Client
	tools       ToolApplier
	logger      *zap.Logger
	window      int
	logsDir     string

	budget  *BudgetTracker
	gutter  *GutterDetector
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error

	// pending holds the previous turn's tool results until the next
	// observation carries them.
	pending []tools.Result
}

// NewController creates a new loop controller with the given dependencies.
func NewController(deps ControllerDeps) (*Controller, error) {
	if deps.Snapshotter == nil {
		return nil, errors.New("snapshotter is required")
	}
	if deps.Reasoner == nil {
		return nil, errors.New("reasoner is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("tool applier is required")
	}

	window := deps.Window
	if window == 0 {
		window = DefaultWindow
	}
	if window < 1 {
		return nil, fmt.Errorf("window must be positive, got %d", window)
	}

	mem := deps.Memory
	if mem == nil {
		mem = memory.New[workspace.Observation](max(memory.DefaultCapacity, window))
	}
	if mem.Cap() < window {
		return nil, fmt.Errorf("memory capacity %d is smaller than window %d", mem.Cap(), window)
	}

	builder := deps.Prompt
	if builder == nil {
		builder = prompt.NewBuilder(nil)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		snapshotter: deps.Snapshotter,
		memory:      mem,
		prompt:      builder,
		reasoner:    deps.Reasoner,
		tools:       deps.Tools,
		logger:      logger,
		window:      window,
		logsDir:     deps.LogsDir,
		budget:      NewBudgetTracker(DefaultBudgetLimits()),
		gutter:      NewGutterDetector(DefaultGutterConfig()),
		backoff:     DefaultBackoff,
		sleep:       sleepContext,
	}, nil
}

// SetBudgetLimits sets the budget limits for the controller.
func (c *Controller) SetBudgetLimits(limits BudgetLimits) {
	c.budget = NewBudgetTracker(limits)
}

// SetMaxIterations sets the iteration budget, keeping other limits.
func (c *Controller) SetMaxIterations(n int) {
	limits := c.budget.Limits()
	limits.MaxIterations = n
	c.budget = NewBudgetTracker(limits)
}

// SetGutterConfig sets the gutter detection configuration.
func (c *Controller) SetGutterConfig(config GutterConfig) {
	c.gutter = NewGutterDetector(config)
}

// SetBackoff sets the pause between iterations.
func (c *Controller) SetBackoff(d time.Duration) {
	c.backoff = d
}

// Memory returns the observation history.
func (c *Controller) Memory() *memory.Buffer[workspace.Observation] {
	return c.memory
}

// Run executes iterations until the model signals completion, the budget
// is spent, or ctx is cancelled between iterations.
func (c *Controller) Run(ctx context.Context) RunResult {
	startTime := time.Now()
	result := RunResult{Records: []*IterationRecord{}}
	c.budget.Start()

	finish := func(outcome RunLoopOutcome, msg string) RunResult {
		result.Outcome = outcome
		result.Message = msg
		result.ElapsedTime = time.Since(startTime)
		return result
	}

	for {
		if ctx.Err() != nil {
			return finish(RunOutcomeCancelled, "loop cancelled")
		}

		status := c.budget.CheckBudget()
		if !status.CanContinue {
			c.logger.Warn("repair loop exhausted", zap.String("reason", status.Reason))
			return finish(RunOutcomeExhausted, status.Reason)
		}

		n := result.IterationsRun + 1
		c.logger.Info("repair iteration", zap.Int("iteration", n))

		obs, record := c.runIteration(ctx, n)
		result.Records = append(result.Records, record)
		result.IterationsRun++
		result.TotalTokens += record.TokensUsed()
		c.budget.RecordIteration(record.TokensUsed())

		c.gutter.RecordIteration(obs, record)
		if gs := c.gutter.Check(); gs.InGutter {
			record.Gutter = gs.Description
			c.logger.Warn("repair loop is not making progress",
				zap.String("reason", string(gs.Reason)),
				zap.String("detail", gs.Description))
		}

		if c.logsDir != "" {
			if _, err := SaveRecord(c.logsDir, record); err != nil {
				c.logger.Warn("failed to save iteration record", zap.Error(err))
			}
		}

		if record.Outcome == OutcomeFinished {
			c.logger.Info("goal achieved", zap.Int("iterations", result.IterationsRun))
			return finish(RunOutcomeSucceeded, "reasoning service reported finished")
		}

		if !c.budget.CheckBudget().CanContinue {
			continue
		}

		if err := c.sleep(ctx, c.backoff); err != nil {
			return finish(RunOutcomeCancelled, "loop cancelled")
		}
	}
}

// runIteration performs one snapshot, reasoning call and tool application.
func (c *Controller) runIteration(ctx context.Context, n int) (workspace.Observation, *IterationRecord) {
	record := NewIterationRecord(n)

	obs := c.snapshotter.Snapshot(ctx)
	obs.Iteration = n
	obs = obs.WithToolResults(c.pending)
	c.pending = nil
	c.memory.Add(obs)
	record.Snapshot = Summarize(obs)

	messages := c.prompt.Build(c.memory.Latest(c.window))
	record.Reasoning.Messages = len(messages)

	resp, err := c.reasoner.Complete(ctx, llm.Request{
		Messages: messages,
		Tools:    tools.Specs(),
	})
	if err != nil {
		c.logger.Error("reasoning service call failed", zap.Int("iteration", n), zap.Error(err))
		record.Reasoning.Error = err.Error()
		record.Complete(OutcomeReasoningError)
		return obs, record
	}

	record.Reasoning.Choices = len(resp.Choices)
	record.Reasoning.PromptTokens = resp.PromptTokens
	record.Reasoning.CompletionTokens = resp.CompletionTokens

	finished := false
	var contents []string
	for _, choice := range resp.Choices {
		if len(choice.ToolCalls) > 0 {
			record.Reasoning.ToolCalls += len(choice.ToolCalls)
			record.ToolResults = append(record.ToolResults, c.tools.Apply(ctx, choice.ToolCalls)...)
		}
		if choice.Content != "" {
			contents = append(contents, choice.Content)
		}
		if IsFinished(choice.Content) {
			finished = true
		}
	}
	record.Reasoning.Content = strings.Join(contents, "\n---\n")
	c.pending = record.ToolResults

	if finished {
		record.Complete(OutcomeFinished)
	} else {
		record.Complete(OutcomeContinue)
	}
	return obs, record
}

// IsFinished reports whether content, trimmed and lower-cased, begins with
// the finished token.
func IsFinished(content string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(content)), FinishedToken)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
