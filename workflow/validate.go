package workflow

import (
	"fmt"

	"github.com/helmsman-dev/helmsman/types"
)

// Validate checks a workflow definition for structural problems:
// duplicate or unknown step references, dependency cycles, and unrecognized
// capability tokens. knownCapabilities may be nil, which skips the
// capability check entirely.
//
// Missing dependencies and cycles are blocking errors; unknown capabilities
// are non-fatal warnings.
func Validate(def *types.WorkflowDefinition, knownCapabilities map[string]struct{}) *types.ValidationResult {
	result := &types.ValidationResult{Valid: true}

	if def.ID == "" {
		result.Issues = append(result.Issues, types.ValidationIssue{
			Code:     types.IssueInvalidStepType,
			Severity: types.SeverityHigh,
			Message:  "workflow id must not be empty",
		})
	}

	seen := make(map[string]struct{}, len(def.Steps))
	for _, step := range def.Steps {
		if _, dup := seen[step.ID]; dup {
			result.Issues = append(result.Issues, types.ValidationIssue{
				Code:     types.IssueDuplicateStep,
				Severity: types.SeverityHigh,
				StepID:   step.ID,
				Message:  fmt.Sprintf("duplicate step id %q", step.ID),
			})
		}
		seen[step.ID] = struct{}{}

		if !step.Type.Valid() {
			result.Issues = append(result.Issues, types.ValidationIssue{
				Code:     types.IssueInvalidStepType,
				Severity: types.SeverityHigh,
				StepID:   step.ID,
				Message:  fmt.Sprintf("unknown step type %q", step.Type),
			})
		}
	}

	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				result.Issues = append(result.Issues, types.ValidationIssue{
					Code:     types.IssueMissingDependency,
					Severity: types.SeverityHigh,
					StepID:   step.ID,
					Message:  fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep),
				})
			}
		}
	}

	// Cycle detection only makes sense once every reference resolves.
	if len(result.Errors()) == 0 {
		if cycle := findCycle(def); len(cycle) > 0 {
			result.Issues = append(result.Issues, types.ValidationIssue{
				Code:     types.IssueCircularDependency,
				Severity: types.SeverityCritical,
				StepID:   cycle[0],
				Message:  fmt.Sprintf("dependency cycle: %s", formatCycle(cycle)),
			})
		}
	}

	if knownCapabilities != nil {
		for _, step := range def.Steps {
			for _, c := range step.RequiredCapabilities {
				if _, ok := knownCapabilities[c.Name]; !ok {
					result.Issues = append(result.Issues, types.ValidationIssue{
						Code:     types.IssueInvalidCapability,
						Severity: types.SeverityLow,
						StepID:   step.ID,
						Message:  fmt.Sprintf("capability %q is not recognized", c.Name),
					})
				}
			}
		}
	}

	result.Valid = len(result.Errors()) == 0
	return result
}

// findCycle runs a colored DFS over the dependency relation and returns the
// first cycle found as a step-id path, or nil.
func findCycle(def *types.WorkflowDefinition) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(def.Steps))
	deps := make(map[string][]string, len(def.Steps))
	for _, step := range def.Steps {
		deps[step.ID] = step.DependsOn
	}

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				// Found the back edge; slice the stack from dep onward.
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, step := range def.Steps {
		if color[step.ID] == white {
			if visit(step.ID) {
				return cycle
			}
		}
	}
	return nil
}

func formatCycle(cycle []string) string {
	out := ""
	for i, id := range cycle {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}
