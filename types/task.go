package types

import "time"

// TaskPriority orders tasks inside the pipeline queues.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityNormal   TaskPriority = "normal"
	PriorityLow      TaskPriority = "low"
)

// Rank returns the dispatch rank of the priority, lower dispatching first.
// Critical and high collapse to the same queue band; within that band the
// pipeline places critical tasks ahead of queued high tasks.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical, PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// AgentExecutionTask is one unit of remote work handed to the pipeline.
type AgentExecutionTask struct {
	ID       string        `json:"id"`
	AgentID  string        `json:"agent_id"`
	Input    any           `json:"input,omitempty"`
	Priority TaskPriority  `json:"priority"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	// DependsOn holds task ids for intra-step sequential bookkeeping only;
	// the pipeline does not schedule on it.
	DependsOn  []string  `json:"depends_on,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at,omitempty"`
}

// TaskMetrics records the timing of one task's trip through the pipeline.
type TaskMetrics struct {
	// QueueTime spans enqueue to dispatch.
	QueueTime time.Duration `json:"queue_time"`
	// ProcessingTime spans dispatch to completion.
	ProcessingTime time.Duration `json:"processing_time"`
	// ResponseTime equals ProcessingTime for a single external call.
	ResponseTime time.Duration `json:"response_time"`
}

// AgentExecutionResult is produced exactly once per task and consumed
// exactly once by the caller awaiting it.
type AgentExecutionResult struct {
	TaskID  string         `json:"task_id"`
	AgentID string         `json:"agent_id"`
	Success bool           `json:"success"`
	Output  any            `json:"output,omitempty"`
	Error   *WorkflowError `json:"error,omitempty"`
	Metrics TaskMetrics    `json:"metrics"`
}

// PipelineResult is the combined outcome of one step-level pipeline call
// (single, parallel, or sequential).
type PipelineResult struct {
	Success       bool             `json:"success"`
	Output        any              `json:"output,omitempty"`
	ExecutionTime time.Duration    `json:"execution_time"`
	AgentsUsed    []string         `json:"agents_used,omitempty"`
	Metrics       []TaskMetrics    `json:"metrics,omitempty"`
	Errors        []*WorkflowError `json:"errors,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// FirstError returns the first recorded error, or nil.
func (r *PipelineResult) FirstError() *WorkflowError {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}
