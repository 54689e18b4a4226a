package workflow

import (
	"fmt"

	"github.com/helmsman-dev/helmsman/types"
)

// Levels computes the topological levels of a definition: each level is the
// maximal set of not-yet-resolved steps whose dependencies are already
// resolved. Registration-time validation guarantees acyclicity; if steps
// remain unresolvable the definition was mutated after registration and the
// error is an internal-consistency failure.
func Levels(def *types.WorkflowDefinition) ([][]string, error) {
	remaining := make(map[string][]string, len(def.Steps))
	order := make([]string, 0, len(def.Steps))
	for _, step := range def.Steps {
		remaining[step.ID] = step.DependsOn
		order = append(order, step.ID)
	}

	resolved := make(map[string]struct{}, len(def.Steps))
	var levels [][]string

	for len(remaining) > 0 {
		var level []string
		// Walk in definition order so level membership is deterministic.
		for _, id := range order {
			deps, ok := remaining[id]
			if !ok {
				continue
			}
			ready := true
			for _, dep := range deps {
				if _, done := resolved[dep]; !done {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, id)
			}
		}

		if len(level) == 0 {
			return nil, fmt.Errorf("internal consistency error: %d steps unresolvable, dependency cycle escaped validation", len(remaining))
		}
		for _, id := range level {
			resolved[id] = struct{}{}
			delete(remaining, id)
		}
		levels = append(levels, level)
	}

	return levels, nil
}

// LevelIndex maps every step id to its level index.
func LevelIndex(levels [][]string) map[string]int {
	out := make(map[string]int)
	for i, level := range levels {
		for _, id := range level {
			out[id] = i
		}
	}
	return out
}
