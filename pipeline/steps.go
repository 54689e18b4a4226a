package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/types"
)

// StepOptions carries the per-step parameters shared by the three entry
// points.
type StepOptions struct {
	// StepID is attributed to any WorkflowError the step produces.
	StepID string
	// Priority applies to every task the step submits.
	Priority types.TaskPriority
	// Timeout applies per task, not to the step as a whole.
	Timeout time.Duration
}

// ParallelAgentOutput is one agent's contribution to a parallel step.
type ParallelAgentOutput struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Output    any    `json:"output,omitempty"`
	Success   bool   `json:"success"`
}

// ParallelSummary aggregates a multi-agent parallel step.
type ParallelSummary struct {
	AgentCount       int           `json:"agent_count"`
	MaxExecutionTime time.Duration `json:"max_execution_time"`
}

// ParallelOutput is the combined output of a parallel step with more than
// one agent.
type ParallelOutput struct {
	Agents  []ParallelAgentOutput `json:"agents"`
	Summary ParallelSummary       `json:"summary"`
}

// SequentialOutput summarizes a sequential chain: the last successful
// output plus every intermediate result and the success/failure tally.
type SequentialOutput struct {
	FinalOutput any                   `json:"final_output,omitempty"`
	Agents      []ParallelAgentOutput `json:"agents"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
}

// ExecuteSingleAgentStep runs one task and passes its outcome through.
func (p *Pipeline) ExecuteSingleAgentStep(ctx context.Context, agent types.AgentRef, input any, opts StepOptions) (*types.PipelineResult, error) {
	start := time.Now()

	res, err := p.submitAndAwait(ctx, agent, input, opts)
	if err != nil {
		return nil, err
	}

	result := &types.PipelineResult{
		Success:       res.Success,
		Output:        res.Output,
		ExecutionTime: time.Since(start),
		AgentsUsed:    []string{agent.ID},
		Metrics:       []types.TaskMetrics{res.Metrics},
	}
	if res.Error != nil {
		res.Error.StepID = opts.StepID
		result.Errors = append(result.Errors, res.Error)
	}
	return result, nil
}

// ExecuteParallelAgentsStep fans input out to every agent concurrently.
// The step succeeds when the successful fraction reaches the configured
// threshold (default one half).
func (p *Pipeline) ExecuteParallelAgentsStep(ctx context.Context, agents []types.AgentRef, input any, opts StepOptions) (*types.PipelineResult, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("parallel step requires at least one agent")
	}
	start := time.Now()

	// Enqueue everything first so the tasks share queue time, then await
	// in submission order. The awaits overlap: every task is already
	// progressing through the scheduler.
	futures := make([]*Future, len(agents))
	for i, agent := range agents {
		future, err := p.Submit(ctx, &types.AgentExecutionTask{
			AgentID:  agent.ID,
			Input:    input,
			Priority: opts.Priority,
			Timeout:  opts.Timeout,
		})
		if err != nil {
			return nil, err
		}
		futures[i] = future
	}

	result := &types.PipelineResult{}
	perAgent := make([]ParallelAgentOutput, len(agents))
	succeeded := 0
	var maxProcessing time.Duration

	for i, future := range futures {
		res, err := future.Await(ctx)
		if err != nil {
			return nil, err
		}
		perAgent[i] = ParallelAgentOutput{
			AgentID:   agents[i].ID,
			AgentName: agents[i].Name,
			Output:    res.Output,
			Success:   res.Success,
		}
		result.AgentsUsed = append(result.AgentsUsed, agents[i].ID)
		result.Metrics = append(result.Metrics, res.Metrics)
		if res.Metrics.ProcessingTime > maxProcessing {
			maxProcessing = res.Metrics.ProcessingTime
		}
		if res.Success {
			succeeded++
		} else if res.Error != nil {
			res.Error.StepID = opts.StepID
			result.Errors = append(result.Errors, res.Error)
		}
	}

	ratio := float64(succeeded) / float64(len(agents))
	result.Success = ratio >= p.cfg.ParallelSuccessThreshold
	result.ExecutionTime = time.Since(start)

	if len(agents) == 1 {
		result.Output = perAgent[0].Output
	} else {
		result.Output = &ParallelOutput{
			Agents: perAgent,
			Summary: ParallelSummary{
				AgentCount:       len(agents),
				MaxExecutionTime: maxProcessing,
			},
		}
	}
	if !result.Success {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("parallel success ratio %.2f below threshold %.2f", ratio, p.cfg.ParallelSuccessThreshold))
	}

	p.logger.Debug("parallel step finished",
		zap.String("step_id", opts.StepID),
		zap.Int("agents", len(agents)),
		zap.Int("succeeded", succeeded),
		zap.Bool("success", result.Success),
	)
	return result, nil
}

// ExecuteSequentialAgentsStep chains the agents one at a time, feeding each
// agent's output to the next. A failure in one of the first
// SequentialRetryWindow positions continues the chain with the unchanged
// prior input, provided the failure is retryable; any other failure halts
// the chain early.
func (p *Pipeline) ExecuteSequentialAgentsStep(ctx context.Context, agents []types.AgentRef, input any, opts StepOptions) (*types.PipelineResult, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("sequential step requires at least one agent")
	}
	start := time.Now()

	result := &types.PipelineResult{}
	output := &SequentialOutput{Agents: make([]ParallelAgentOutput, 0, len(agents))}
	current := input
	var lastSuccess any
	halted := false

	for i, agent := range agents {
		res, err := p.submitAndAwait(ctx, agent, current, opts)
		if err != nil {
			return nil, err
		}
		result.AgentsUsed = append(result.AgentsUsed, agent.ID)
		result.Metrics = append(result.Metrics, res.Metrics)
		output.Agents = append(output.Agents, ParallelAgentOutput{
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Output:    res.Output,
			Success:   res.Success,
		})

		if res.Success {
			output.Succeeded++
			lastSuccess = res.Output
			current = res.Output
			continue
		}

		output.Failed++
		if res.Error != nil {
			res.Error.StepID = opts.StepID
			result.Errors = append(result.Errors, res.Error)
		}

		// Early positions tolerate retryable failures: the next agent sees
		// the same input the failed one did.
		if i < p.cfg.SequentialRetryWindow && res.Error != nil && res.Error.Retryable {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("agent %s failed at position %d, continuing with prior input", agent.ID, i))
			continue
		}

		halted = true
		break
	}

	output.FinalOutput = lastSuccess
	result.Output = output
	result.Success = !halted && output.Succeeded > 0 && output.Agents[len(output.Agents)-1].Success
	result.ExecutionTime = time.Since(start)

	p.logger.Debug("sequential step finished",
		zap.String("step_id", opts.StepID),
		zap.Int("succeeded", output.Succeeded),
		zap.Int("failed", output.Failed),
		zap.Bool("halted", halted),
		zap.Bool("success", result.Success),
	)
	return result, nil
}

func (p *Pipeline) submitAndAwait(ctx context.Context, agent types.AgentRef, input any, opts StepOptions) (*types.AgentExecutionResult, error) {
	future, err := p.Submit(ctx, &types.AgentExecutionTask{
		AgentID:  agent.ID,
		Input:    input,
		Priority: opts.Priority,
		Timeout:  opts.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return future.Await(ctx)
}
