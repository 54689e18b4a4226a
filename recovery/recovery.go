// Package recovery implements the error-recovery engine: a priority-ordered
// chain of pluggable strategies consulted when a step failure survives its
// in-place retries, plus the retry-delay backoff formula.
package recovery

import (
	"context"
	"time"

	"github.com/helmsman-dev/helmsman/types"
)

// Action is the recovery verdict the orchestrator applies.
type Action string

const (
	// ActionRetry re-dispatches the step, optionally modified.
	ActionRetry Action = "retry"
	// ActionAlternativeAgent re-dispatches with a substituted agent.
	ActionAlternativeAgent Action = "alternative_agent"
	// ActionFallbackWorkflow runs a nested workflow in the step's place.
	ActionFallbackWorkflow Action = "fallback_workflow"
	// ActionSkipStep records a synthetic skipped result and proceeds.
	ActionSkipStep Action = "skip_step"
	// ActionFailGracefully surfaces the error to the workflow policy.
	ActionFailGracefully Action = "fail_gracefully"
)

// StepContext is everything a strategy may inspect about the failure.
type StepContext struct {
	// Error is the failure being recovered from.
	Error *types.WorkflowError
	// Step is the failed step as currently configured (possibly already
	// modified by an earlier recovery round).
	Step *types.WorkflowStep
	// Definition is the workflow the step belongs to.
	Definition *types.WorkflowDefinition
	// AssignedAgents are the agent ids used by the failed dispatch.
	AssignedAgents []string
	// EffectiveTimeout is the timeout the failed dispatch actually ran
	// under, including any orchestrator default applied to a step that
	// declares none of its own.
	EffectiveTimeout time.Duration
	// Attempt counts recovery rounds for this step, 1-indexed.
	Attempt int
}

// Result is a strategy's verdict.
type Result struct {
	Success bool   `json:"success"`
	Action  Action `json:"action"`
	// Agent is the substitute for ActionAlternativeAgent.
	Agent *types.AgentRef `json:"agent,omitempty"`
	// ModifiedStep replaces the step on re-dispatch when non-nil.
	ModifiedStep *types.WorkflowStep `json:"modified_step,omitempty"`
	// FallbackWorkflow names the workflow for ActionFallbackWorkflow.
	FallbackWorkflow string `json:"fallback_workflow,omitempty"`
	// Delay is waited before applying the action.
	Delay time.Duration `json:"delay,omitempty"`
	// ContinueExecution indicates the workflow may proceed afterwards.
	ContinueExecution bool   `json:"continue_execution"`
	Message           string `json:"message,omitempty"`
}

// Attempt records one strategy invocation, successful or not.
type Attempt struct {
	Strategy string        `json:"strategy"`
	Action   Action        `json:"action,omitempty"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// Strategy is one pluggable recovery handler. Strategies are stateless and
// registered once at engine construction; the active set never changes
// during an execution.
type Strategy interface {
	// ID names the strategy in attempt records and logs.
	ID() string
	// Priority orders the chain; lower runs first.
	Priority() int
	// AppliesTo lists the error types the strategy can handle.
	AppliesTo() []types.ErrorType
	// Recover attempts recovery. A nil-result or error return counts as a
	// failed attempt and the chain moves on.
	Recover(ctx context.Context, sc *StepContext) (*Result, error)
}
