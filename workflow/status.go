package workflow

import (
	"github.com/helmsman-dev/helmsman/types"
)

// ExecutionSummary is one execution's line in a status report.
type ExecutionSummary struct {
	ID             string                `json:"id"`
	WorkflowID     string                `json:"workflow_id"`
	Status         types.ExecutionStatus `json:"status"`
	CompletedSteps int                   `json:"completed_steps"`
	FailedSteps    int                   `json:"failed_steps"`
	DurationMS     int64                 `json:"duration_ms,omitempty"`
}

// ActiveError surfaces a high-severity error from a non-terminal execution.
type ActiveError struct {
	ExecutionID string               `json:"execution_id"`
	StepID      string               `json:"step_id"`
	Error       *types.WorkflowError `json:"error"`
}

// Status is the aggregate health view across every known execution.
type Status struct {
	RegisteredWorkflows int `json:"registered_workflows"`
	ActiveExecutions    int `json:"active_executions"`
	TotalExecutions     int `json:"total_executions"`
	CompletedExecutions int `json:"completed_executions"`
	FailedExecutions    int `json:"failed_executions"`
	CancelledExecutions int `json:"cancelled_executions"`

	// StepSuccessRate is succeeded / (succeeded + failed) across every
	// execution, 1.0 when no step has finished yet.
	StepSuccessRate float64 `json:"step_success_rate"`
	// PeakConcurrency is the highest per-execution concurrency peak seen.
	PeakConcurrency int `json:"peak_concurrency"`

	RecentExecutions []ExecutionSummary `json:"recent_executions,omitempty"`
	ActiveErrors     []ActiveError      `json:"active_errors,omitempty"`
}

// retiredStats accumulates the counts of terminal executions evicted from
// the in-memory map, keeping status totals accurate across the process
// lifetime.
type retiredStats struct {
	total, completed, failed, cancelled int
	stepsSucceeded, stepsFailed         int
	peakConcurrency                     int
}

func (r *retiredStats) absorb(snap *types.WorkflowExecution) {
	r.total++
	switch snap.Status {
	case types.ExecutionCompleted:
		r.completed++
	case types.ExecutionFailed:
		r.failed++
	case types.ExecutionCancelled:
		r.cancelled++
	}
	r.stepsSucceeded += snap.Metrics.SucceededSteps
	r.stepsFailed += snap.Metrics.FailedSteps
	if snap.Metrics.PeakConcurrency > r.peakConcurrency {
		r.peakConcurrency = snap.Metrics.PeakConcurrency
	}
}

// GetOrchestrationStatus aggregates counts, step success rate, concurrency
// peaks, the bounded recent-execution list, and high-severity errors from
// executions still in flight. Totals include executions already evicted
// from memory.
func (o *Orchestrator) GetOrchestrationStatus() *Status {
	o.mu.RLock()
	states := make([]*execState, 0, len(o.executions))
	for _, es := range o.executions {
		states = append(states, es)
	}
	recentIDs := append([]string{}, o.recent...)
	registered := len(o.definitions)
	retired := o.retired
	byID := make(map[string]*execState, len(o.executions))
	for id, es := range o.executions {
		byID[id] = es
	}
	o.mu.RUnlock()

	status := &Status{
		RegisteredWorkflows: registered,
		TotalExecutions:     retired.total,
		CompletedExecutions: retired.completed,
		FailedExecutions:    retired.failed,
		CancelledExecutions: retired.cancelled,
		PeakConcurrency:     retired.peakConcurrency,
	}
	succeeded, failed := retired.stepsSucceeded, retired.stepsFailed

	for _, es := range states {
		snap := es.snapshot()
		status.TotalExecutions++
		switch snap.Status {
		case types.ExecutionCompleted:
			status.CompletedExecutions++
		case types.ExecutionFailed:
			status.FailedExecutions++
		case types.ExecutionCancelled:
			status.CancelledExecutions++
		default:
			status.ActiveExecutions++
			for stepID, wfErr := range snap.Errors {
				if wfErr.Severity == types.SeverityHigh || wfErr.Severity == types.SeverityCritical {
					status.ActiveErrors = append(status.ActiveErrors, ActiveError{
						ExecutionID: snap.ID,
						StepID:      stepID,
						Error:       wfErr,
					})
				}
			}
		}
		succeeded += snap.Metrics.SucceededSteps
		failed += snap.Metrics.FailedSteps
		if snap.Metrics.PeakConcurrency > status.PeakConcurrency {
			status.PeakConcurrency = snap.Metrics.PeakConcurrency
		}
	}

	if succeeded+failed > 0 {
		status.StepSuccessRate = float64(succeeded) / float64(succeeded+failed)
	} else {
		status.StepSuccessRate = 1.0
	}

	// Newest first.
	for i := len(recentIDs) - 1; i >= 0; i-- {
		es, ok := byID[recentIDs[i]]
		if !ok {
			continue
		}
		snap := es.snapshot()
		summary := ExecutionSummary{
			ID:             snap.ID,
			WorkflowID:     snap.WorkflowID,
			Status:         snap.Status,
			CompletedSteps: len(snap.CompletedSteps),
			FailedSteps:    len(snap.FailedSteps),
		}
		if snap.Status.Terminal() {
			summary.DurationMS = snap.Metrics.TotalDuration.Milliseconds()
		}
		status.RecentExecutions = append(status.RecentExecutions, summary)
	}

	return status
}
