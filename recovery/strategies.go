package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/helmsman-dev/helmsman/assign"
	"github.com/helmsman-dev/helmsman/config"
	"github.com/helmsman-dev/helmsman/types"
)

// BuiltinStrategies returns the standard strategy chain in priority order:
// alternative agent, timeout extension, capability relaxation, step
// decomposition, graceful degradation.
func BuiltinStrategies(assigner *assign.Assigner, cfg config.RecoveryConfig) []Strategy {
	return []Strategy{
		&AlternativeAgentStrategy{assigner: assigner},
		&TimeoutExtensionStrategy{ceiling: cfg.TimeoutCeiling},
		&CapabilityRelaxationStrategy{assigner: assigner, cfg: cfg},
		&StepDecompositionStrategy{},
		&GracefulDegradationStrategy{maxDependents: cfg.DegradationMaxDependents},
	}
}

// AlternativeAgentStrategy re-queries the assigner excluding the agents the
// failed dispatch used and substitutes the best-ranked alternative.
type AlternativeAgentStrategy struct {
	assigner *assign.Assigner
}

func (s *AlternativeAgentStrategy) ID() string    { return "alternative_agent_selection" }
func (s *AlternativeAgentStrategy) Priority() int { return 1 }

func (s *AlternativeAgentStrategy) AppliesTo() []types.ErrorType {
	return []types.ErrorType{types.ErrorAgentTimeout, types.ErrorAgentUnavailable, types.ErrorExecutionFailed}
}

func (s *AlternativeAgentStrategy) Recover(ctx context.Context, sc *StepContext) (*Result, error) {
	exclude := sc.AssignedAgents
	if sc.Error.AgentID != "" {
		exclude = append(append([]string{}, exclude...), sc.Error.AgentID)
	}

	candidates, err := s.assigner.Assign(ctx, assign.Request{
		Capabilities: sc.Step.RequiredCapabilities,
		TaskType:     sc.Step.Type,
		Exclude:      exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("no alternative agent available: %w", err)
	}

	best := candidates[0]
	return &Result{
		Success:           true,
		Action:            ActionAlternativeAgent,
		Agent:             &best,
		ContinueExecution: true,
		Message:           fmt.Sprintf("substituting agent %s", best.ID),
	}, nil
}

// TimeoutExtensionStrategy doubles the step timeout up to a hard ceiling.
type TimeoutExtensionStrategy struct {
	ceiling time.Duration
}

func (s *TimeoutExtensionStrategy) ID() string    { return "timeout_extension" }
func (s *TimeoutExtensionStrategy) Priority() int { return 2 }

func (s *TimeoutExtensionStrategy) AppliesTo() []types.ErrorType {
	return []types.ErrorType{types.ErrorAgentTimeout}
}

func (s *TimeoutExtensionStrategy) Recover(ctx context.Context, sc *StepContext) (*Result, error) {
	current := sc.Step.Timeout
	if current <= 0 {
		// The step ran under a default timeout; extend from that.
		current = sc.EffectiveTimeout
	}
	if current <= 0 {
		return nil, fmt.Errorf("step has no timeout to extend")
	}
	if current >= s.ceiling {
		return nil, fmt.Errorf("timeout already at ceiling %s", s.ceiling)
	}

	extended := current * 2
	if extended > s.ceiling {
		extended = s.ceiling
	}
	modified := *sc.Step
	modified.Timeout = extended

	return &Result{
		Success:           true,
		Action:            ActionRetry,
		ModifiedStep:      &modified,
		ContinueExecution: true,
		Message:           fmt.Sprintf("timeout extended %s -> %s", current, extended),
	}, nil
}

// CapabilityRelaxationStrategy relaxes each required capability (drops
// version pins, lowers the precision floor, demotes required flags) and
// re-queries with a lowered minimum-success-rate threshold.
type CapabilityRelaxationStrategy struct {
	assigner *assign.Assigner
	cfg      config.RecoveryConfig
}

func (s *CapabilityRelaxationStrategy) ID() string    { return "capability_relaxation" }
func (s *CapabilityRelaxationStrategy) Priority() int { return 3 }

func (s *CapabilityRelaxationStrategy) AppliesTo() []types.ErrorType {
	return []types.ErrorType{types.ErrorCapabilityMismatch, types.ErrorAgentUnavailable}
}

func (s *CapabilityRelaxationStrategy) Recover(ctx context.Context, sc *StepContext) (*Result, error) {
	relaxed := make([]types.Capability, len(sc.Step.RequiredCapabilities))
	for i, c := range sc.Step.RequiredCapabilities {
		relaxed[i] = s.relax(c)
	}

	candidates, err := s.assigner.Assign(ctx, assign.Request{
		Capabilities: relaxed,
		TaskType:     sc.Step.Type,
		Exclude:      sc.AssignedAgents,
		Performance: types.PerformanceRequirements{
			MinSuccessRate: s.cfg.RelaxedMinSuccessRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("no agent matched relaxed capabilities: %w", err)
	}

	modified := *sc.Step
	modified.RequiredCapabilities = relaxed
	best := candidates[0]

	return &Result{
		Success:           true,
		Action:            ActionAlternativeAgent,
		Agent:             &best,
		ModifiedStep:      &modified,
		ContinueExecution: true,
		Message:           fmt.Sprintf("relaxed %d capabilities, assigned %s", len(relaxed), best.ID),
	}, nil
}

func (s *CapabilityRelaxationStrategy) relax(c types.Capability) types.Capability {
	c.Version = ""
	if c.Precision > 0 {
		c.Precision -= s.cfg.PrecisionRelaxation
		if c.Precision < s.cfg.PrecisionFloor {
			c.Precision = s.cfg.PrecisionFloor
		}
	}
	c.Required = false
	return c
}

// StepDecompositionStrategy is a documented extension point: splitting a
// failed step into smaller sub-steps. It always fails.
type StepDecompositionStrategy struct{}

func (s *StepDecompositionStrategy) ID() string    { return "step_decomposition" }
func (s *StepDecompositionStrategy) Priority() int { return 4 }

func (s *StepDecompositionStrategy) AppliesTo() []types.ErrorType {
	return []types.ErrorType{types.ErrorExecutionFailed, types.ErrorResourceExhausted}
}

func (s *StepDecompositionStrategy) Recover(ctx context.Context, sc *StepContext) (*Result, error) {
	return nil, fmt.Errorf("step decomposition not implemented")
}

// GracefulDegradationStrategy skips non-critical steps. A step is judged
// non-critical when it is not a merge or conditional step and has at most
// maxDependents steps depending on it.
type GracefulDegradationStrategy struct {
	maxDependents int
}

func (s *GracefulDegradationStrategy) ID() string    { return "graceful_degradation" }
func (s *GracefulDegradationStrategy) Priority() int { return 5 }

func (s *GracefulDegradationStrategy) AppliesTo() []types.ErrorType {
	return []types.ErrorType{types.ErrorExecutionFailed, types.ErrorDependencyFailed}
}

func (s *GracefulDegradationStrategy) Recover(ctx context.Context, sc *StepContext) (*Result, error) {
	if sc.Step.Type == types.StepMerge || sc.Step.Type == types.StepConditional {
		return nil, fmt.Errorf("step type %s is critical, cannot skip", sc.Step.Type)
	}

	dependents := 0
	if sc.Definition != nil {
		for _, step := range sc.Definition.Steps {
			for _, dep := range step.DependsOn {
				if dep == sc.Step.ID {
					dependents++
					break
				}
			}
		}
	}
	if dependents > s.maxDependents {
		return nil, fmt.Errorf("step has %d dependents, too critical to skip", dependents)
	}

	return &Result{
		Success:           true,
		Action:            ActionSkipStep,
		ContinueExecution: true,
		Message:           fmt.Sprintf("step skipped, %d dependents receive missing-dependency markers", dependents),
	}, nil
}
