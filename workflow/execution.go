package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-dev/helmsman/types"
)

// SkippedResult is the synthetic output recorded for a step the recovery
// engine decided to skip.
type SkippedResult struct {
	StepID string `json:"step_id"`
	Reason string `json:"reason,omitempty"`
}

// execState wraps one WorkflowExecution aggregate. Steps within a level
// finish concurrently, so every mutation goes through the mutex; callers
// outside the orchestrator only ever see snapshots.
type execState struct {
	mu     sync.Mutex
	exec   *types.WorkflowExecution
	cancel context.CancelFunc

	inFlight int
	attempts int // total step dispatch attempts, for success-rate reporting
}

func newExecState(workflowID string, initialContext map[string]any) *execState {
	execCtx := make(map[string]any, len(initialContext))
	for k, v := range initialContext {
		execCtx[k] = v
	}
	return &execState{
		exec: &types.WorkflowExecution{
			ID:               uuid.NewString(),
			WorkflowID:       workflowID,
			Status:           types.ExecutionPending,
			StartTime:        time.Now(),
			Results:          make(map[string]any),
			Errors:           make(map[string]*types.WorkflowError),
			AgentAssignments: make(map[string][]string),
			Context:          execCtx,
			Metrics: types.PerformanceMetrics{
				StepDurations: make(map[string]time.Duration),
			},
		},
	}
}

func (s *execState) id() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec.ID
}

func (s *execState) status() types.ExecutionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec.Status
}

// transition moves the execution to the given status unless it is already
// terminal. Returns false when the transition was refused.
func (s *execState) transition(status types.ExecutionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exec.Status.Terminal() {
		return false
	}
	s.exec.Status = status
	if status.Terminal() {
		s.exec.EndTime = time.Now()
		s.exec.Metrics.TotalDuration = s.exec.EndTime.Sub(s.exec.StartTime)
	}
	return true
}

func (s *execState) cancelled() bool {
	return s.status() == types.ExecutionCancelled
}

// stepStarted tracks in-flight steps and the execution's concurrency peak.
func (s *execState) stepStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
	s.attempts++
	if s.inFlight > s.exec.Metrics.PeakConcurrency {
		s.exec.Metrics.PeakConcurrency = s.inFlight
	}
}

func (s *execState) stepFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
}

// completeStep records a successful step and enriches the shared context
// with its output.
func (s *execState) completeStep(stepID string, output any, duration time.Duration, agents []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec.CompletedSteps = append(s.exec.CompletedSteps, stepID)
	s.exec.Results[stepID] = output
	s.exec.Context[stepID] = output
	s.exec.Metrics.StepDurations[stepID] = duration
	s.exec.Metrics.SucceededSteps++
	if len(agents) > 0 {
		s.exec.AgentAssignments[stepID] = agents
		s.exec.Metrics.AgentsUsed = appendUnique(s.exec.Metrics.AgentsUsed, agents)
	}
}

func (s *execState) failStep(stepID string, wfErr *types.WorkflowError, duration time.Duration, agents []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec.FailedSteps = append(s.exec.FailedSteps, stepID)
	s.exec.Errors[stepID] = wfErr
	s.exec.Metrics.StepDurations[stepID] = duration
	s.exec.Metrics.FailedSteps++
	if len(agents) > 0 {
		s.exec.AgentAssignments[stepID] = agents
		s.exec.Metrics.AgentsUsed = appendUnique(s.exec.Metrics.AgentsUsed, agents)
	}
}

func (s *execState) skipStep(stepID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	skipped := &SkippedResult{StepID: stepID, Reason: reason}
	s.exec.Results[stepID] = skipped
	s.exec.Context[stepID] = skipped
	s.exec.Metrics.SkippedSteps++
}

// setWorkflowError records a failure that escaped step-level handling under
// the synthetic workflow_level key.
func (s *execState) setWorkflowError(wfErr *types.WorkflowError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec.Errors[types.WorkflowLevelKey] = wfErr
}

// stepOutput returns the recorded output of a step, if any.
func (s *execState) stepOutput(stepID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.exec.Results[stepID]
	return out, ok
}

// contextSnapshot copies the mutable context bag for use as step input.
func (s *execState) contextSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.exec.Context))
	for k, v := range s.exec.Context {
		out[k] = v
	}
	return out
}

// mergeNested folds a nested (fallback) execution's results and context
// into this execution.
func (s *execState) mergeNested(nested *types.WorkflowExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range nested.Results {
		s.exec.Results[k] = v
	}
	for k, v := range nested.Context {
		s.exec.Context[k] = v
	}
}

// snapshot returns a copy safe to hand to callers. Map values are shared;
// callers must treat outputs as read-only.
func (s *execState) snapshot() *types.WorkflowExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.exec
	cp.CompletedSteps = append([]string{}, s.exec.CompletedSteps...)
	cp.FailedSteps = append([]string{}, s.exec.FailedSteps...)
	cp.Results = copyMap(s.exec.Results)
	cp.Context = copyMap(s.exec.Context)
	cp.Errors = make(map[string]*types.WorkflowError, len(s.exec.Errors))
	for k, v := range s.exec.Errors {
		cp.Errors[k] = v
	}
	cp.AgentAssignments = make(map[string][]string, len(s.exec.AgentAssignments))
	for k, v := range s.exec.AgentAssignments {
		cp.AgentAssignments[k] = append([]string{}, v...)
	}
	metrics := s.exec.Metrics
	metrics.StepDurations = make(map[string]time.Duration, len(s.exec.Metrics.StepDurations))
	for k, v := range s.exec.Metrics.StepDurations {
		metrics.StepDurations[k] = v
	}
	metrics.AgentsUsed = append([]string{}, s.exec.Metrics.AgentsUsed...)
	cp.Metrics = metrics
	return &cp
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func appendUnique(existing []string, add []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range add {
		if _, ok := seen[s]; !ok {
			existing = append(existing, s)
			seen[s] = struct{}{}
		}
	}
	return existing
}
