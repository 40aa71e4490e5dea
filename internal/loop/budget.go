package loop

import (
	"fmt"
	"time"
)

// BudgetReasonCode identifies why a budget check failed.
type BudgetReasonCode string

const (
	// BudgetReasonNone indicates no budget limit was exceeded.
	BudgetReasonNone BudgetReasonCode = "none"
	// BudgetReasonIterations indicates the iteration limit was exceeded.
	BudgetReasonIterations BudgetReasonCode = "iterations"
	// BudgetReasonTime indicates the time limit was exceeded.
	BudgetReasonTime BudgetReasonCode = "time"
	// BudgetReasonTokens indicates the token limit was exceeded.
	BudgetReasonTokens BudgetReasonCode = "tokens"
)

// DefaultMaxIterations is the default iteration budget.
const DefaultMaxIterations = 20

// BudgetLimits defines the configurable limits for budget tracking.
type BudgetLimits struct {
	// MaxIterations is the maximum number of iterations allowed (0 = unlimited).
	MaxIterations int `json:"max_iterations"`

	// MaxTimeMinutes is the maximum total time in minutes (0 = unlimited).
	MaxTimeMinutes int `json:"max_time_minutes"`

	// MaxTokens is the maximum prompt plus completion tokens (0 = unlimited).
	MaxTokens int `json:"max_tokens"`
}

// BudgetState tracks the current budget consumption.
type BudgetState struct {
	Iterations int       `json:"iterations"`
	Tokens     int       `json:"tokens"`
	StartTime  time.Time `json:"start_time"`
}

// BudgetStatus represents the result of a budget check.
type BudgetStatus struct {
	// CanContinue indicates whether the loop can continue.
	CanContinue bool

	// Reason is a human-readable explanation if CanContinue is false.
	Reason string

	// ReasonCode identifies the specific budget limit that was exceeded.
	ReasonCode BudgetReasonCode
}

// BudgetTracker tracks budget consumption and enforces limits.
type BudgetTracker struct {
	limits BudgetLimits
	state  BudgetState
	now    func() time.Time
}

// DefaultBudgetLimits returns the default budget limits.
func DefaultBudgetLimits() BudgetLimits {
	return BudgetLimits{
		MaxIterations:  DefaultMaxIterations,
		MaxTimeMinutes: 0, // unlimited
		MaxTokens:      0, // unlimited
	}
}

// NewBudgetTracker creates a new budget tracker with the given limits.
func NewBudgetTracker(limits BudgetLimits) *BudgetTracker {
	return &BudgetTracker{
		limits: limits,
		now:    time.Now,
	}
}

// Limits returns the configured limits.
func (bt *BudgetTracker) Limits() BudgetLimits {
	return bt.limits
}

// Start begins time tracking if it has not started yet.
func (bt *BudgetTracker) Start() {
	if bt.state.StartTime.IsZero() {
		bt.state.StartTime = bt.now()
	}
}

// RecordIteration records a completed iteration with its token usage.
func (bt *BudgetTracker) RecordIteration(tokens int) {
	bt.Start()
	bt.state.Iterations++
	bt.state.Tokens += tokens
}

// CheckBudget checks if the current budget consumption is within limits.
func (bt *BudgetTracker) CheckBudget() BudgetStatus {
	if bt.limits.MaxIterations > 0 && bt.state.Iterations >= bt.limits.MaxIterations {
		return BudgetStatus{
			CanContinue: false,
			Reason:      fmt.Sprintf("max iteration limit reached (%d/%d)", bt.state.Iterations, bt.limits.MaxIterations),
			ReasonCode:  BudgetReasonIterations,
		}
	}

	if bt.limits.MaxTimeMinutes > 0 && !bt.state.StartTime.IsZero() {
		elapsed := bt.now().Sub(bt.state.StartTime)
		maxDuration := time.Duration(bt.limits.MaxTimeMinutes) * time.Minute
		if elapsed >= maxDuration {
			return BudgetStatus{
				CanContinue: false,
				Reason:      fmt.Sprintf("max time limit exceeded (%.1f/%.1f minutes)", elapsed.Minutes(), float64(bt.limits.MaxTimeMinutes)),
				ReasonCode:  BudgetReasonTime,
			}
		}
	}

	if bt.limits.MaxTokens > 0 && bt.state.Tokens >= bt.limits.MaxTokens {
		return BudgetStatus{
			CanContinue: false,
			Reason:      fmt.Sprintf("max token limit exceeded (%d/%d)", bt.state.Tokens, bt.limits.MaxTokens),
			ReasonCode:  BudgetReasonTokens,
		}
	}

	return BudgetStatus{
		CanContinue: true,
		ReasonCode:  BudgetReasonNone,
	}
}

// GetState returns a copy of the current budget state.
func (bt *BudgetTracker) GetState() BudgetState {
	return bt.state
}

// ElapsedTime returns the time elapsed since the budget tracking started.
func (bt *BudgetTracker) ElapsedTime() time.Duration {
	if bt.state.StartTime.IsZero() {
		return 0
	}
	return bt.now().Sub(bt.state.StartTime)
}
