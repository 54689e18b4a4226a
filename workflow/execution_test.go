package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-dev/helmsman/types"
)

func TestExecStateTransitions(t *testing.T) {
	es := newExecState("wf", nil)
	assert.Equal(t, types.ExecutionPending, es.status())

	assert.True(t, es.transition(types.ExecutionRunning))
	assert.True(t, es.transition(types.ExecutionCompleted))

	// Terminal states refuse further transitions.
	assert.False(t, es.transition(types.ExecutionFailed))
	assert.Equal(t, types.ExecutionCompleted, es.status())

	snap := es.snapshot()
	assert.False(t, snap.EndTime.IsZero())
	assert.GreaterOrEqual(t, snap.Metrics.TotalDuration, time.Duration(0))
}

func TestExecStatePeakConcurrency(t *testing.T) {
	es := newExecState("wf", nil)
	es.stepStarted()
	es.stepStarted()
	es.stepStarted()
	es.stepFinished()
	es.stepStarted()

	snap := es.snapshot()
	assert.Equal(t, 3, snap.Metrics.PeakConcurrency)
}

func TestExecStateStepBookkeeping(t *testing.T) {
	es := newExecState("wf", map[string]any{"seed": 7})

	es.completeStep("a", "out-a", 10*time.Millisecond, []string{"agent-1"})
	es.failStep("b", types.NewWorkflowError(types.ErrorExecutionFailed, "b", "boom"),
		5*time.Millisecond, []string{"agent-2"})
	es.skipStep("c", "not critical")

	snap := es.snapshot()
	assert.Equal(t, []string{"a"}, snap.CompletedSteps)
	assert.Equal(t, []string{"b"}, snap.FailedSteps)
	assert.Equal(t, "out-a", snap.Context["a"])
	assert.Equal(t, 7, snap.Context["seed"])
	assert.Equal(t, 1, snap.Metrics.SucceededSteps)
	assert.Equal(t, 1, snap.Metrics.FailedSteps)
	assert.Equal(t, 1, snap.Metrics.SkippedSteps)
	assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, snap.Metrics.AgentsUsed)

	skipped, ok := snap.Results["c"].(*SkippedResult)
	require.True(t, ok)
	assert.Equal(t, "not critical", skipped.Reason)
}

func TestExecStateSnapshotIsolation(t *testing.T) {
	es := newExecState("wf", nil)
	es.completeStep("a", "original", time.Millisecond, nil)

	snap := es.snapshot()
	snap.Results["a"] = "mutated"
	snap.CompletedSteps[0] = "mutated"

	again := es.snapshot()
	assert.Equal(t, "original", again.Results["a"])
	assert.Equal(t, []string{"a"}, again.CompletedSteps)
}

func TestExecStateAgentsDeduplicated(t *testing.T) {
	es := newExecState("wf", nil)
	es.completeStep("a", 1, time.Millisecond, []string{"agent-1", "agent-2"})
	es.completeStep("b", 2, time.Millisecond, []string{"agent-2", "agent-3"})

	snap := es.snapshot()
	assert.Equal(t, []string{"agent-1", "agent-2", "agent-3"}, snap.Metrics.AgentsUsed)
}
