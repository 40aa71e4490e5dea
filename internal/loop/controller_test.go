package loop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yarlson/anchor/internal/command"
	"github.com/yarlson/anchor/internal/llm"
	"github.com/yarlson/anchor/internal/memory"
	"github.com/yarlson/anchor/internal/tools"
	"github.com/yarlson/anchor/internal/workspace"
)

// fakeSnapshotter returns an observation whose plan fails until healthy is set.
type fakeSnapshotter struct {
	calls int
}

func (f *fakeSnapshotter) Snapshot(_ context.Context) workspace.Observation {
	f.calls++
	return workspace.Observation{
		EntryFile:     "main.tf",
		EntryFileText: "module \"s3_us-east-1\" {}",
		Plan:          workspace.PlanResult{ExitCode: 1, StderrTail: "Error: BucketAlreadyExists"},
	}
}

// scriptedReasoner returns responses in order, repeating the last one.
type scriptedReasoner struct {
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (s *scriptedReasoner) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if len(s.responses) == 0 {
		return &llm.Response{}, nil
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

// recordingApplier records calls and reports success for each.
type recordingApplier struct {
	batches [][]llm.ToolCall
}

func (r *recordingApplier) Apply(_ context.Context, calls []llm.ToolCall) []tools.Result {
	r.batches = append(r.batches, calls)
	results := make([]tools.Result, 0, len(calls))
	for _, c := range calls {
		results = append(results, tools.Result{Tool: c.Name, OK: true, Output: "applied " + c.Name})
	}
	return results
}

func content(s string) *llm.Response {
	return &llm.Response{Choices: []llm.Choice{{Content: s}}}
}

func newTestController(t *testing.T, snap Snapshotter, reasoner llm.Client, applier ToolApplier, mem *memory.Buffer[workspace.Observation]) *Controller {
	t.Helper()
	c, err := NewController(ControllerDeps{
		Snapshotter: snap,
		Memory:      mem,
		Reasoner:    reasoner,
		Tools:       applier,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	c.SetBackoff(0)
	return c
}

func TestRun_SucceedsWhenFinished(t *testing.T) {
	snap := &fakeSnapshotter{}
	reasoner := &scriptedReasoner{responses: []*llm.Response{
		content("Working on it"),
		content("Still fixing"),
		content("Finished. Plan is clean."),
	}}
	mem := memory.New[workspace.Observation](50)
	c := newTestController(t, snap, reasoner, &recordingApplier{}, mem)

	result := c.Run(context.Background())

	assert.Equal(t, RunOutcomeSucceeded, result.Outcome)
	assert.Equal(t, 3, result.IterationsRun)
	assert.Equal(t, 3, snap.calls)
	assert.Equal(t, 3, mem.Len())
	require.Len(t, result.Records, 3)
	assert.Equal(t, OutcomeFinished, result.Records[2].Outcome)
	assert.Equal(t, OutcomeContinue, result.Records[0].Outcome)
}

func TestRun_ExhaustsBudget(t *testing.T) {
	snap := &fakeSnapshotter{}
	reasoner := &scriptedReasoner{responses: []*llm.Response{content("I will try something else")}}
	c := newTestController(t, snap, reasoner, &recordingApplier{}, memory.New[workspace.Observation](50))
	c.SetMaxIterations(5)

	var sleeps int
	c.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}

	result := c.Run(context.Background())

	assert.Equal(t, RunOutcomeExhausted, result.Outcome)
	assert.Equal(t, 5, result.IterationsRun)
	assert.Equal(t, 5, snap.calls)
	assert.Len(t, reasoner.requests, 5)
	assert.Equal(t, 4, sleeps)
	assert.Contains(t, result.Message, "max iteration limit reached (5/5)")
}

func TestRun_AppliesToolsBeforeFinishing(t *testing.T) {
	reasoner := &scriptedReasoner{responses: []*llm.Response{{
		Choices: []llm.Choice{{
			Content: "  FINISHED after one last patch",
			ToolCalls: []llm.ToolCall{
				{Name: tools.NamePatchFile, Arguments: `{"path":"a.tf","content":"x"}`},
				{Name: tools.NameRunCommand, Arguments: `{"cmd":"terraform init"}`},
			},
		}},
	}}}
	applier := &recordingApplier{}
	c := newTestController(t, &fakeSnapshotter{}, reasoner, applier, nil)

	result := c.Run(context.Background())

	assert.Equal(t, RunOutcomeSucceeded, result.Outcome)
	assert.Equal(t, 1, result.IterationsRun)
	require.Len(t, applier.batches, 1)
	assert.Len(t, applier.batches[0], 2)
	assert.Len(t, result.Records[0].ToolResults, 2)
}

func TestRun_AnyChoiceCanFinish(t *testing.T) {
	reasoner := &scriptedReasoner{responses: []*llm.Response{{
		Choices: []llm.Choice{{Content: "not yet"}, {Content: "finished"}},
	}}}
	c := newTestController(t, &fakeSnapshotter{}, reasoner, &recordingApplier{}, nil)

	result := c.Run(context.Background())

	assert.Equal(t, RunOutcomeSucceeded, result.Outcome)
	assert.Equal(t, 1, result.IterationsRun)
}

func TestRun_ToolResultsReachNextObservation(t *testing.T) {
	reasoner := &scriptedReasoner{responses: []*llm.Response{
		{Choices: []llm.Choice{{ToolCalls: []llm.ToolCall{{Name: tools.NameDeleteFile, Arguments: `{"path":"dup.tf"}`}}}}},
		content("Finished"),
	}}
	mem := memory.New[workspace.Observation](10)
	c := newTestController(t, &fakeSnapshotter{}, reasoner, &recordingApplier{}, mem)

	c.Run(context.Background())

	all := mem.All()
	require.Len(t, all, 2)
	assert.Empty(t, all[0].ToolResults)
	require.Len(t, all[1].ToolResults, 1)
	assert.Equal(t, tools.NameDeleteFile, all[1].ToolResults[0].Tool)

	require.Len(t, reasoner.requests, 2)
	last := reasoner.requests[1].Messages
	assert.Contains(t, last[len(last)-1].Content, "delete_file [ok]")
}

func TestRun_PromptCarriesWindow(t *testing.T) {
	reasoner := &scriptedReasoner{responses: []*llm.Response{content("again")}}
	c, err := NewController(ControllerDeps{
		Snapshotter: &fakeSnapshotter{},
		Memory:      memory.New[workspace.Observation](10),
		Reasoner:    reasoner,
		Tools:       &recordingApplier{},
		Window:      2,
	})
	require.NoError(t, err)
	c.SetBackoff(0)
	c.SetMaxIterations(4)

	c.Run(context.Background())

	require.Len(t, reasoner.requests, 4)
	assert.Len(t, reasoner.requests[0].Messages, 2)
	assert.Len(t, reasoner.requests[1].Messages, 3)
	assert.Len(t, reasoner.requests[3].Messages, 3)
	assert.Len(t, reasoner.requests[0].Tools, 3)
}

func TestRun_ReasoningErrorConsumesIteration(t *testing.T) {
	reasoner := &scriptedReasoner{
		errs:      []error{errors.New("connection reset")},
		responses: []*llm.Response{nil, content("Finished")},
	}
	c := newTestController(t, &fakeSnapshotter{}, reasoner, &recordingApplier{}, nil)

	result := c.Run(context.Background())

	assert.Equal(t, RunOutcomeSucceeded, result.Outcome)
	assert.Equal(t, 2, result.IterationsRun)
	assert.Equal(t, OutcomeReasoningError, result.Records[0].Outcome)
	assert.Equal(t, "connection reset", result.Records[0].Reasoning.Error)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap := &fakeSnapshotter{}
	c := newTestController(t, snap, &scriptedReasoner{}, &recordingApplier{}, nil)

	result := c.Run(ctx)

	assert.Equal(t, RunOutcomeCancelled, result.Outcome)
	assert.Equal(t, 0, result.IterationsRun)
	assert.Equal(t, 0, snap.calls)
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestController(t, &fakeSnapshotter{}, &scriptedReasoner{responses: []*llm.Response{content("more")}}, &recordingApplier{}, nil)
	c.SetBackoff(time.Hour)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	result := c.Run(ctx)

	assert.Equal(t, RunOutcomeCancelled, result.Outcome)
	assert.Equal(t, 1, result.IterationsRun)
}

func TestRun_SavesRecords(t *testing.T) {
	logsDir := filepath.Join(t.TempDir(), "logs")
	c, err := NewController(ControllerDeps{
		Snapshotter: &fakeSnapshotter{},
		Reasoner:    &scriptedReasoner{responses: []*llm.Response{content("x"), content("Finished")}},
		Tools:       &recordingApplier{},
		LogsDir:     logsDir,
	})
	require.NoError(t, err)
	c.SetBackoff(0)

	c.Run(context.Background())

	entries, err := os.ReadDir(logsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	records, err := LoadRecords(logsDir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Iteration)
	assert.Equal(t, OutcomeFinished, records[1].Outcome)
	assert.Equal(t, 1, records[0].Snapshot.PlanExit)
}

func TestRun_FlagsGutter(t *testing.T) {
	c := newTestController(t, &fakeSnapshotter{}, &scriptedReasoner{responses: []*llm.Response{content("hmm")}}, &recordingApplier{}, nil)
	c.SetMaxIterations(3)

	result := c.Run(context.Background())

	require.Len(t, result.Records, 3)
	assert.Empty(t, result.Records[1].Gutter)
	assert.Contains(t, result.Records[2].Gutter, "same failure repeated 3 times")
	assert.Equal(t, RunOutcomeExhausted, result.Outcome)
}

func TestNewController_Validation(t *testing.T) {
	base := ControllerDeps{
		Snapshotter: &fakeSnapshotter{},
		Reasoner:    &scriptedReasoner{},
		Tools:       &recordingApplier{},
	}

	t.Run("memory smaller than window", func(t *testing.T) {
		deps := base
		deps.Memory = memory.New[workspace.Observation](3)
		deps.Window = 7
		_, err := NewController(deps)
		assert.ErrorContains(t, err, "memory capacity 3 is smaller than window 7")
	})

	t.Run("negative window", func(t *testing.T) {
		deps := base
		deps.Window = -1
		_, err := NewController(deps)
		assert.Error(t, err)
	})

	t.Run("missing reasoner", func(t *testing.T) {
		deps := base
		deps.Reasoner = nil
		_, err := NewController(deps)
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		c, err := NewController(base)
		require.NoError(t, err)
		assert.Equal(t, DefaultWindow, c.window)
		assert.Equal(t, memory.DefaultCapacity, c.Memory().Cap())
		assert.Equal(t, DefaultBackoff, c.backoff)
		assert.Equal(t, DefaultMaxIterations, c.budget.Limits().MaxIterations)
	})
}

func TestIsFinished(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"Finished.", true},
		{"  finished: plan applies cleanly", true},
		{"FINISHED", true},
		{"\nFinished\n", true},
		{"Not finished yet", false},
		{"", false},
		{"finish", false},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFinished(tt.content))
		})
	}
}

func TestRunLoopOutcome_IsValid(t *testing.T) {
	assert.True(t, RunOutcomeSucceeded.IsValid())
	assert.True(t, RunOutcomeExhausted.IsValid())
	assert.True(t, RunOutcomeCancelled.IsValid())
	assert.False(t, RunLoopOutcome("completed").IsValid())
}

func TestSummarize(t *testing.T) {
	obs := workspace.Observation{
		Format:   command.Result{ExitCode: 3},
		Validate: command.Result{ExitCode: 1},
	}

	s := Summarize(obs)

	assert.Equal(t, 3, s.FormatExit)
	assert.Equal(t, 1, s.ValidateExit)
	assert.Nil(t, s.PlanStats)
}
