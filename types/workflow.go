package types

import (
	"time"
)

// StepType determines how many agents a step uses and how their outputs
// combine.
type StepType string

const (
	// StepSingleAgent runs the step on exactly one agent.
	StepSingleAgent StepType = "single_agent"
	// StepParallelAgents fans the step out to N agents concurrently.
	StepParallelAgents StepType = "parallel_agents"
	// StepSequentialAgents chains N agents, each consuming the previous output.
	StepSequentialAgents StepType = "sequential_agents"
	// StepConditional gates execution on a context predicate.
	StepConditional StepType = "conditional"
	// StepMerge combines the outputs of its dependencies.
	StepMerge StepType = "merge"
	// StepTransform reshapes its input without an agent fan-out.
	StepTransform StepType = "transform"
)

// Valid reports whether t is one of the six known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepSingleAgent, StepParallelAgents, StepSequentialAgents,
		StepConditional, StepMerge, StepTransform:
		return true
	}
	return false
}

// FailurePolicy selects the workflow-level reaction to a step failure that
// survived retries and recovery.
type FailurePolicy string

const (
	// FailureStop aborts the whole execution immediately.
	FailureStop FailurePolicy = "stop"
	// FailureContinue marks the step failed and proceeds to the next level.
	FailureContinue FailurePolicy = "continue"
	// FailureRetry restarts the failed step once more at workflow level.
	FailureRetry FailurePolicy = "retry"
	// FailureFallback executes a fallback workflow in place of the failure.
	FailureFallback FailurePolicy = "fallback"
)

// ErrorHandling is the execution-wide error policy of a workflow.
type ErrorHandling struct {
	OnStepFailure FailurePolicy `json:"on_step_failure" yaml:"on_step_failure"`
	// FallbackWorkflow names the workflow executed under FailureFallback.
	FallbackWorkflow string `json:"fallback_workflow,omitempty" yaml:"fallback_workflow,omitempty"`
}

// RetryConfig controls in-place step retries before the recovery chain is
// consulted.
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	BaseDelay         time.Duration `json:"base_delay" yaml:"base_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
}

// WorkflowStep is one unit of work in a workflow definition.
type WorkflowStep struct {
	ID                   string        `json:"id" yaml:"id"`
	Name                 string        `json:"name,omitempty" yaml:"name,omitempty"`
	Type                 StepType      `json:"type" yaml:"type"`
	RequiredCapabilities []Capability  `json:"required_capabilities,omitempty" yaml:"required_capabilities,omitempty"`
	DependsOn            []string      `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Retry                *RetryConfig  `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout              time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WorkflowDefinition is a named DAG of steps with an execution-wide error
// policy. Immutable once registered except by explicit re-registration.
type WorkflowDefinition struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name,omitempty" yaml:"name,omitempty"`
	Steps         []WorkflowStep `json:"steps" yaml:"steps"`
	ErrorHandling ErrorHandling  `json:"error_handling" yaml:"error_handling"`
	Timeout       time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Step returns the step with the given id, if present.
func (d *WorkflowDefinition) Step(id string) (*WorkflowStep, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// ValidationIssue is one problem found while validating a definition.
type ValidationIssue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	StepID   string   `json:"step_id,omitempty"`
	Message  string   `json:"message"`
}

// Validation issue codes.
const (
	IssueMissingDependency  = "missing_dependency"
	IssueCircularDependency = "circular_dependency"
	IssueInvalidCapability  = "invalid_capability"
	IssueDuplicateStep      = "duplicate_step"
	IssueInvalidStepType    = "invalid_step_type"
)

// ValidationResult reports the outcome of registering a definition.
// Valid is false when any error-severity issue exists; warnings alone do
// not block registration.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// Errors returns the blocking (high/critical severity) issues.
func (r *ValidationResult) Errors() []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityHigh || issue.Severity == SeverityCritical {
			out = append(out, issue)
		}
	}
	return out
}

// ExecutionStatus is the lifecycle state of one workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// WorkflowLevelKey is the synthetic errors-map key for failures that escape
// step-level handling and terminate the execution.
const WorkflowLevelKey = "workflow_level"

// MissingDependency is the explicit marker a downstream step receives in
// place of a failed dependency's output under the continue policy.
type MissingDependency struct {
	StepID string `json:"step_id"`
	Reason string `json:"reason,omitempty"`
}

// PerformanceMetrics summarizes one finished execution.
type PerformanceMetrics struct {
	TotalDuration   time.Duration            `json:"total_duration"`
	StepDurations   map[string]time.Duration `json:"step_durations,omitempty"`
	AgentsUsed      []string                 `json:"agents_used,omitempty"`
	PeakConcurrency int                      `json:"peak_concurrency"`
	TotalSteps      int                      `json:"total_steps"`
	SucceededSteps  int                      `json:"succeeded_steps"`
	FailedSteps     int                      `json:"failed_steps"`
	SkippedSteps    int                      `json:"skipped_steps"`
}

// WorkflowExecution is the aggregate record of one run of a workflow.
// It is mutated only by the orchestrator driving the execution; callers
// receive snapshots.
type WorkflowExecution struct {
	ID               string                    `json:"id"`
	WorkflowID       string                    `json:"workflow_id"`
	Status           ExecutionStatus           `json:"status"`
	StartTime        time.Time                 `json:"start_time"`
	EndTime          time.Time                 `json:"end_time,omitempty"`
	CompletedSteps   []string                  `json:"completed_steps,omitempty"`
	FailedSteps      []string                  `json:"failed_steps,omitempty"`
	Results          map[string]any            `json:"results,omitempty"`
	Errors           map[string]*WorkflowError `json:"errors,omitempty"`
	AgentAssignments map[string][]string       `json:"agent_assignments,omitempty"`
	Context          map[string]any            `json:"context,omitempty"`
	Metrics          PerformanceMetrics        `json:"metrics"`
}

// ExecutionOptions tunes one executeWorkflow call.
type ExecutionOptions struct {
	// Priority applies to every task the execution submits to the pipeline.
	Priority TaskPriority `json:"priority,omitempty"`
	// Timeout overrides the definition's global timeout when non-zero.
	Timeout time.Duration `json:"timeout,omitempty"`
}
