package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/assign"
	"github.com/helmsman-dev/helmsman/config"
	"github.com/helmsman-dev/helmsman/pipeline"
	"github.com/helmsman-dev/helmsman/recovery"
	"github.com/helmsman-dev/helmsman/sink"
	"github.com/helmsman-dev/helmsman/types"
)

// stepOutcome is the terminal per-step verdict runStep records.
type stepOutcome struct {
	output  any
	agents  []string
	skipped bool
	reason  string
	err     *types.WorkflowError
}

// runStep drives one step to a terminal per-step outcome: completed,
// skipped, failed-tolerated, or failed-aborting. Only the last case returns
// a non-nil error, which stops the level group.
func (o *Orchestrator) runStep(ctx context.Context, es *execState, def *types.WorkflowDefinition, step *types.WorkflowStep, opts types.ExecutionOptions) error {
	if es.cancelled() {
		return nil
	}
	ctx, span := o.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.type", string(step.Type)),
		))
	defer span.End()

	start := time.Now()
	es.stepStarted()
	defer es.stepFinished()

	input := o.stepInput(es, def, step)

	// Merge, transform, and conditional steps without capability
	// requirements resolve locally, bypassing assignment and the pipeline.
	if isLocalStep(step) {
		output := localStepOutput(step, input)
		es.completeStep(step.ID, output, time.Since(start), nil)
		o.recordStep(es, def, step, &stepOutcome{output: output}, time.Since(start))
		return nil
	}

	outcome := o.attemptStep(ctx, es, def, step, input, opts)
	elapsed := time.Since(start)

	// A cancelled execution discards whatever the attempt produced.
	if es.cancelled() {
		return nil
	}

	switch {
	case outcome.skipped:
		es.skipStep(step.ID, outcome.reason)
		o.recordStep(es, def, step, outcome, elapsed)
		return nil
	case outcome.err == nil:
		es.completeStep(step.ID, outcome.output, elapsed, outcome.agents)
		o.recordStep(es, def, step, outcome, elapsed)
		return nil
	}

	return o.applyFailurePolicy(ctx, es, def, step, input, outcome, elapsed, opts)
}

// applyFailurePolicy reacts to a step failure that survived retries and
// recovery, according to the workflow's error-handling policy.
func (o *Orchestrator) applyFailurePolicy(ctx context.Context, es *execState, def *types.WorkflowDefinition, step *types.WorkflowStep, input any, outcome *stepOutcome, elapsed time.Duration, opts types.ExecutionOptions) error {
	policy := def.ErrorHandling.OnStepFailure
	if policy == "" {
		policy = types.FailureStop
	}

	o.logger.Warn("step failed after recovery",
		zap.String("execution_id", es.id()),
		zap.String("step_id", step.ID),
		zap.String("error_type", string(outcome.err.Type)),
		zap.String("policy", string(policy)),
	)

	switch policy {
	case types.FailureContinue:
		es.failStep(step.ID, outcome.err, elapsed, outcome.agents)
		o.recordStep(es, def, step, outcome, elapsed)
		return nil

	case types.FailureRetry:
		// One more full dispatch round at workflow level, then stop.
		retried := o.dispatchFresh(ctx, step, input, opts)
		if retried.err == nil {
			es.completeStep(step.ID, retried.output, elapsed, retried.agents)
			o.recordStep(es, def, step, retried, elapsed)
			return nil
		}
		outcome = retried

	case types.FailureFallback:
		if fb := def.ErrorHandling.FallbackWorkflow; fb != "" {
			nested, err := o.ExecuteWorkflow(ctx, fb, es.contextSnapshot(), opts)
			if err == nil && nested.Status == types.ExecutionCompleted {
				es.mergeNested(nested)
				result := &stepOutcome{output: nested.Results}
				es.completeStep(step.ID, nested.Results, elapsed, nil)
				o.recordStep(es, def, step, result, elapsed)
				return nil
			}
			o.logger.Warn("fallback workflow did not complete",
				zap.String("execution_id", es.id()),
				zap.String("fallback_workflow", fb),
				zap.Error(err),
			)
		}
	}

	// Stop: record the failure at both step and workflow level and abort.
	es.failStep(step.ID, outcome.err, elapsed, outcome.agents)
	es.setWorkflowError(outcome.err.WithSeverity(types.SeverityCritical))
	o.recordStep(es, def, step, outcome, elapsed)
	return fmt.Errorf("%w: step %s: %s", errAbort, step.ID, outcome.err.Message)
}

// attemptStep runs the dispatch, in-place retry, and recovery sequence for
// one step and returns its terminal verdict.
func (o *Orchestrator) attemptStep(ctx context.Context, es *execState, def *types.WorkflowDefinition, step *types.WorkflowStep, input any, opts types.ExecutionOptions) *stepOutcome {
	cur := step
	var wfErr *types.WorkflowError

	agents, err := o.assignStep(ctx, cur, nil)
	if err != nil {
		wfErr = assignmentError(cur, err)
	} else {
		out, ok := o.dispatchStep(ctx, cur, agents, input, opts)
		if ok {
			return out
		}
		wfErr = out.err
	}

	// In-place retries with the step's own backoff schedule, retryable
	// failures only. Assignment failures skip straight to recovery.
	if rc := cur.Retry; rc != nil && rc.MaxRetries > 0 && len(agents) > 0 {
		backoff := recovery.NewBackoff(config.RecoveryConfig{
			BaseDelay:         rc.BaseDelay,
			BackoffMultiplier: rc.BackoffMultiplier,
			MaxDelay:          rc.MaxDelay,
		})
		for attempt := 1; attempt <= rc.MaxRetries && wfErr.Retryable; attempt++ {
			if !sleepCtx(ctx, backoff.Delay(attempt)) {
				return &stepOutcome{err: wfErr}
			}
			o.logger.Debug("retrying step in place",
				zap.String("step_id", cur.ID),
				zap.Int("attempt", attempt),
			)
			out, ok := o.dispatchStep(ctx, cur, agents, input, opts)
			if ok {
				return out
			}
			wfErr = out.err
		}
	}

	// Recovery chain. The exclusion list accumulates every agent that has
	// already failed this step so substitutes are genuinely new.
	excluded := agentIDs(agents)
	for round := 1; round <= maxRecoveryRounds; round++ {
		if ctx.Err() != nil || es.cancelled() {
			return &stepOutcome{err: wfErr}
		}

		verdict, attempts := o.recovery.Recover(ctx, &recovery.StepContext{
			Error:            wfErr,
			Step:             cur,
			Definition:       def,
			AssignedAgents:   excluded,
			EffectiveTimeout: o.stepTimeout(cur),
			Attempt:          round,
		})
		o.emitRecovery(ctx, es, def, cur, verdict, attempts)

		if !verdict.Success {
			return &stepOutcome{err: wfErr}
		}
		if verdict.Delay > 0 && !sleepCtx(ctx, verdict.Delay) {
			return &stepOutcome{err: wfErr}
		}
		if verdict.ModifiedStep != nil {
			cur = verdict.ModifiedStep
		}

		switch verdict.Action {
		case recovery.ActionSkipStep:
			return &stepOutcome{skipped: true, reason: verdict.Message}

		case recovery.ActionFallbackWorkflow:
			nested, err := o.ExecuteWorkflow(ctx, verdict.FallbackWorkflow, es.contextSnapshot(), opts)
			if err == nil && nested.Status == types.ExecutionCompleted {
				es.mergeNested(nested)
				return &stepOutcome{output: nested.Results}
			}
			wfErr = types.NewWorkflowError(types.ErrorExecutionFailed, cur.ID,
				fmt.Sprintf("fallback workflow %s did not complete", verdict.FallbackWorkflow))

		case recovery.ActionAlternativeAgent:
			if verdict.Agent != nil {
				agents = substituteAgent(cur, agents, *verdict.Agent)
			}
			out, ok := o.dispatchStep(ctx, cur, agents, input, opts)
			if ok {
				return out
			}
			wfErr = out.err
			excluded = appendUnique(excluded, agentIDs(agents))

		case recovery.ActionRetry:
			if len(agents) == 0 {
				agents, err = o.assignStep(ctx, cur, excluded)
				if err != nil {
					wfErr = assignmentError(cur, err)
					continue
				}
			}
			out, ok := o.dispatchStep(ctx, cur, agents, input, opts)
			if ok {
				return out
			}
			wfErr = out.err
			excluded = appendUnique(excluded, agentIDs(agents))

		default:
			return &stepOutcome{err: wfErr}
		}
	}

	return &stepOutcome{err: wfErr}
}

// dispatchFresh assigns new agents and dispatches once, used by the
// workflow-level retry policy.
func (o *Orchestrator) dispatchFresh(ctx context.Context, step *types.WorkflowStep, input any, opts types.ExecutionOptions) *stepOutcome {
	agents, err := o.assignStep(ctx, step, nil)
	if err != nil {
		return &stepOutcome{err: assignmentError(step, err)}
	}
	out, _ := o.dispatchStep(ctx, step, agents, input, opts)
	return out
}

// dispatchStep routes one dispatch through the pipeline entry point matching
// the step type. The boolean reports success; on false the outcome carries
// the classified failure.
func (o *Orchestrator) dispatchStep(ctx context.Context, step *types.WorkflowStep, agents []types.AgentRef, input any, opts types.ExecutionOptions) (*stepOutcome, bool) {
	stepOpts := pipeline.StepOptions{
		StepID:   step.ID,
		Priority: opts.Priority,
		Timeout:  o.stepTimeout(step),
	}

	var res *types.PipelineResult
	var err error
	switch step.Type {
	case types.StepParallelAgents:
		res, err = o.pipe.ExecuteParallelAgentsStep(ctx, agents, input, stepOpts)
	case types.StepSequentialAgents:
		res, err = o.pipe.ExecuteSequentialAgentsStep(ctx, agents, input, stepOpts)
	default:
		res, err = o.pipe.ExecuteSingleAgentStep(ctx, agents[0], input, stepOpts)
	}

	if err != nil {
		return &stepOutcome{err: types.ClassifyError(err, step.ID)}, false
	}
	if !res.Success {
		wfErr := res.FirstError()
		if wfErr == nil {
			wfErr = types.NewWorkflowError(types.ErrorExecutionFailed, step.ID, "step produced no successful output")
		}
		return &stepOutcome{err: wfErr, agents: res.AgentsUsed}, false
	}
	return &stepOutcome{output: res.Output, agents: res.AgentsUsed}, true
}

// assignStep queries the assigner for the step's agent set: one agent for
// single-agent shapes, the full ranked candidate list for fan-out shapes.
func (o *Orchestrator) assignStep(ctx context.Context, step *types.WorkflowStep, exclude []string) ([]types.AgentRef, error) {
	req := assign.Request{
		Capabilities: step.RequiredCapabilities,
		TaskType:     step.Type,
		Exclude:      exclude,
	}
	if !multiAgent(step) {
		req.Limit = 1
	}
	agents, err := o.assigner.Assign(ctx, req)
	if err != nil {
		return nil, err
	}
	if !multiAgent(step) {
		agents = agents[:1]
	}
	return agents, nil
}

func (o *Orchestrator) stepTimeout(step *types.WorkflowStep) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return o.cfg.DefaultStepTimeout
}

// stepInput computes the input handed to a step's agents: the shared
// context for root steps, the dependency's output for a single dependency,
// and a map keyed by dependency id otherwise. A failed-and-tolerated
// dependency contributes an explicit MissingDependency marker instead of a
// silent nil.
func (o *Orchestrator) stepInput(es *execState, def *types.WorkflowDefinition, step *types.WorkflowStep) any {
	switch len(step.DependsOn) {
	case 0:
		return es.contextSnapshot()
	case 1:
		return o.dependencyOutput(es, step.DependsOn[0])
	default:
		inputs := make(map[string]any, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			inputs[dep] = o.dependencyOutput(es, dep)
		}
		return inputs
	}
}

func (o *Orchestrator) dependencyOutput(es *execState, depID string) any {
	if out, ok := es.stepOutput(depID); ok {
		return out
	}
	return &types.MissingDependency{StepID: depID, Reason: "dependency did not produce output"}
}

// recordStep emits the per-step metric and sink event for a terminal step
// outcome.
func (o *Orchestrator) recordStep(es *execState, def *types.WorkflowDefinition, step *types.WorkflowStep, outcome *stepOutcome, elapsed time.Duration) {
	status := "completed"
	eventType := sink.EventStepCompleted
	payload := map[string]any{"duration_ms": elapsed.Milliseconds()}
	switch {
	case outcome.skipped:
		status = "skipped"
		eventType = sink.EventStepSkipped
		payload["reason"] = outcome.reason
	case outcome.err != nil:
		status = "failed"
		eventType = sink.EventStepFailed
		payload["error_type"] = string(outcome.err.Type)
		payload["error"] = outcome.err.Message
	}

	if o.collector != nil {
		o.collector.StepFinished(string(step.Type), status, elapsed)
	}
	event := &sink.Event{
		Type:        eventType,
		ExecutionID: es.id(),
		WorkflowID:  def.ID,
		StepID:      step.ID,
		Payload:     payload,
	}
	if len(outcome.agents) > 0 {
		event.AgentID = outcome.agents[0]
		payload["agents"] = outcome.agents
	}
	o.emit(context.Background(), event)
}

// emitRecovery records one recovery round in the sink.
func (o *Orchestrator) emitRecovery(ctx context.Context, es *execState, def *types.WorkflowDefinition, step *types.WorkflowStep, verdict *recovery.Result, attempts []recovery.Attempt) {
	strategies := make([]string, len(attempts))
	for i, a := range attempts {
		strategies[i] = a.Strategy
	}
	o.emit(ctx, &sink.Event{
		Type:        sink.EventRecoveryAttempted,
		ExecutionID: es.id(),
		WorkflowID:  def.ID,
		StepID:      step.ID,
		Payload: map[string]any{
			"success":    verdict.Success,
			"action":     string(verdict.Action),
			"strategies": strategies,
		},
	})
}

// isLocalStep reports whether the step resolves inside the orchestrator.
// Merge, transform, and conditional steps that name no capabilities have no
// agent work to dispatch; their output is derived from their inputs.
func isLocalStep(step *types.WorkflowStep) bool {
	switch step.Type {
	case types.StepMerge, types.StepTransform, types.StepConditional:
		return len(step.RequiredCapabilities) == 0
	}
	return false
}

// localStepOutput resolves a local step: the input passes through unchanged.
// For a merge step with several dependencies the input is already the
// combined map keyed by dependency id.
func localStepOutput(step *types.WorkflowStep, input any) any {
	return input
}

func multiAgent(step *types.WorkflowStep) bool {
	return step.Type == types.StepParallelAgents || step.Type == types.StepSequentialAgents
}

// substituteAgent applies an alternative-agent verdict: single-agent shapes
// are replaced outright, fan-out shapes swap the substitute in for the
// first agent while keeping the rest.
func substituteAgent(step *types.WorkflowStep, agents []types.AgentRef, substitute types.AgentRef) []types.AgentRef {
	if !multiAgent(step) || len(agents) == 0 {
		return []types.AgentRef{substitute}
	}
	out := append([]types.AgentRef{substitute}, agents[1:]...)
	return out
}

func assignmentError(step *types.WorkflowStep, err error) *types.WorkflowError {
	return types.NewWorkflowError(types.ErrorAgentUnavailable, step.ID,
		fmt.Sprintf("agent assignment failed: %v", err))
}

func agentIDs(agents []types.AgentRef) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
