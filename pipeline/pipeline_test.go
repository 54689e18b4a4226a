package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/helmsman-dev/helmsman/config"
	"github.com/helmsman-dev/helmsman/types"
)

// mockExecutor records calls in order and delegates to fn when set.
type mockExecutor struct {
	mu     sync.Mutex
	calls  []string
	inputs []any
	fn     func(ctx context.Context, agentID string, input any) (any, error)
}

func (m *mockExecutor) Execute(ctx context.Context, agentID string, input any, timeout time.Duration) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, agentID)
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(ctx, agentID, input)
	}
	return "ok:" + agentID, nil
}

func (m *mockExecutor) callOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func testConfig(maxAgents int) config.PipelineConfig {
	return config.PipelineConfig{
		MaxConcurrentAgents:      maxAgents,
		SchedulerTick:            5 * time.Millisecond,
		ParallelSuccessThreshold: 0.5,
		SequentialRetryWindow:    2,
		DefaultTaskTimeout:       time.Second,
	}
}

func newTestPipeline(t *testing.T, exec *mockExecutor, maxAgents int) *Pipeline {
	t.Helper()
	p := New(exec, testConfig(maxAgents), nil, zaptest.NewLogger(t))
	t.Cleanup(p.Stop)
	return p
}

func submit(t *testing.T, p *Pipeline, agentID string, priority types.TaskPriority) *Future {
	t.Helper()
	f, err := p.Submit(context.Background(), &types.AgentExecutionTask{
		AgentID:  agentID,
		Input:    "in",
		Priority: priority,
	})
	require.NoError(t, err)
	return f
}

func TestPriorityOrdering(t *testing.T) {
	exec := &mockExecutor{}
	p := newTestPipeline(t, exec, 1)

	// Enqueue before the scheduler runs so band order decides everything.
	futures := []*Future{
		submit(t, p, "low", types.PriorityLow),
		submit(t, p, "normal", types.PriorityNormal),
		submit(t, p, "high", types.PriorityHigh),
		submit(t, p, "critical", types.PriorityCritical),
	}
	p.Start()

	for _, f := range futures {
		_, err := f.Await(context.Background())
		require.NoError(t, err)
	}

	// Critical dispatches first even though high was queued earlier, then
	// the lower bands drain.
	assert.Equal(t, []string{"critical", "high", "normal", "low"}, exec.callOrder())
}

func TestCriticalOvertakesQueuedHigh(t *testing.T) {
	exec := &mockExecutor{}
	p := newTestPipeline(t, exec, 1)

	futures := []*Future{
		submit(t, p, "high-1", types.PriorityHigh),
		submit(t, p, "critical-1", types.PriorityCritical),
		submit(t, p, "high-2", types.PriorityHigh),
		submit(t, p, "critical-2", types.PriorityCritical),
	}
	p.Start()

	for _, f := range futures {
		_, err := f.Await(context.Background())
		require.NoError(t, err)
	}

	// Criticals jump every queued high; each priority stays FIFO.
	assert.Equal(t, []string{"critical-1", "critical-2", "high-1", "high-2"}, exec.callOrder())
}

func TestConcurrencyCeiling(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	exec := &mockExecutor{fn: func(ctx context.Context, agentID string, input any) (any, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return "done", nil
	}}
	p := newTestPipeline(t, exec, 2)
	p.Start()

	var futures []*Future
	for i := 0; i < 6; i++ {
		futures = append(futures, submit(t, p, fmt.Sprintf("agent-%d", i), types.PriorityNormal))
	}
	for _, f := range futures {
		_, err := f.Await(context.Background())
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestSubmitAfterStop(t *testing.T) {
	exec := &mockExecutor{}
	p := New(exec, testConfig(1), nil, zaptest.NewLogger(t))
	p.Start()
	p.Stop()

	_, err := p.Submit(context.Background(), &types.AgentExecutionTask{AgentID: "a"})
	assert.ErrorIs(t, err, ErrPipelineClosed)
}

func TestStopResolvesQueuedTasks(t *testing.T) {
	exec := &mockExecutor{}
	p := New(exec, testConfig(1), nil, zaptest.NewLogger(t))
	// Never started: the task stays queued until Stop resolves it.
	f := submit(t, p, "stranded", types.PriorityNormal)
	p.Stop()

	res, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "pipeline stopped")
}

func TestTaskTimeoutClassification(t *testing.T) {
	exec := &mockExecutor{fn: func(ctx context.Context, agentID string, input any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := newTestPipeline(t, exec, 1)
	p.Start()

	f, err := p.Submit(context.Background(), &types.AgentExecutionTask{
		AgentID: "slow",
		Timeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	res, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, types.ErrorAgentTimeout, res.Error.Type)
	assert.True(t, res.Error.Retryable)
	assert.Equal(t, "slow", res.Error.AgentID)
}

func TestTaskTimeoutNonCooperativeExecutor(t *testing.T) {
	block := make(chan struct{})
	exec := &mockExecutor{fn: func(ctx context.Context, agentID string, input any) (any, error) {
		// Ignores ctx entirely.
		<-block
		return "late", nil
	}}
	t.Cleanup(func() { close(block) })
	p := newTestPipeline(t, exec, 1)
	p.Start()

	f, err := p.Submit(context.Background(), &types.AgentExecutionTask{
		AgentID: "stuck",
		Timeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	res, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, types.ErrorAgentTimeout, res.Error.Type)

	// The concurrency slot frees at the deadline, not when the executor
	// eventually returns.
	require.Eventually(t, func() bool { return p.ActiveCount() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestCancelledSubmitterSkipsDispatch(t *testing.T) {
	exec := &mockExecutor{}
	p := newTestPipeline(t, exec, 1)

	ctx, cancel := context.WithCancel(context.Background())
	f, err := p.Submit(ctx, &types.AgentExecutionTask{AgentID: "gone"})
	require.NoError(t, err)
	cancel()
	p.Start()

	res, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, exec.callOrder(), "no agent call for a cancelled submitter")
}

func TestFutureAwaitHonorsContext(t *testing.T) {
	exec := &mockExecutor{}
	p := New(exec, testConfig(1), nil, zaptest.NewLogger(t))
	t.Cleanup(p.Stop)
	// Never started, so the future never resolves.
	f := submit(t, p, "never", types.PriorityNormal)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func agents(ids ...string) []types.AgentRef {
	out := make([]types.AgentRef, len(ids))
	for i, id := range ids {
		out[i] = types.AgentRef{ID: id, Name: id}
	}
	return out
}

func TestParallelStepMeetsThreshold(t *testing.T) {
	exec := &mockExecutor{fn: func(ctx context.Context, agentID string, input any) (any, error) {
		if agentID == "bad-1" || agentID == "bad-2" {
			return nil, errors.New("boom")
		}
		return "out:" + agentID, nil
	}}
	p := newTestPipeline(t, exec, 4)
	p.Start()

	res, err := p.ExecuteParallelAgentsStep(context.Background(),
		agents("good-1", "bad-1", "good-2", "bad-2"), "in",
		StepOptions{StepID: "par"})
	require.NoError(t, err)

	// 2 of 4 succeeded: exactly at the 0.5 threshold.
	assert.True(t, res.Success)
	out, ok := res.Output.(*ParallelOutput)
	require.True(t, ok)
	assert.Equal(t, 4, out.Summary.AgentCount)
	assert.Len(t, res.Errors, 2)
}

func TestParallelStepBelowThreshold(t *testing.T) {
	exec := &mockExecutor{fn: func(ctx context.Context, agentID string, input any) (any, error) {
		if agentID != "only-good" {
			return nil, errors.New("boom")
		}
		return "out", nil
	}}
	p := newTestPipeline(t, exec, 4)
	p.Start()

	res, err := p.ExecuteParallelAgentsStep(context.Background(),
		agents("only-good", "b1", "b2", "b3"), "in",
		StepOptions{StepID: "par"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Warnings)
}

func TestParallelStepSingleAgentOutput(t *testing.T) {
	exec := &mockExecutor{}
	p := newTestPipeline(t, exec, 1)
	p.Start()

	res, err := p.ExecuteParallelAgentsStep(context.Background(),
		agents("solo"), "in", StepOptions{StepID: "par"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	// A sole agent's output passes through without the aggregate wrapper.
	assert.Equal(t, "ok:solo", res.Output)
}

func TestSequentialStepChainsOutputs(t *testing.T) {
	exec := &mockExecutor{fn: func(ctx context.Context, agentID string, input any) (any, error) {
		return fmt.Sprintf("%v->%s", input, agentID), nil
	}}
	p := newTestPipeline(t, exec, 1)
	p.Start()

	res, err := p.ExecuteSequentialAgentsStep(context.Background(),
		agents("a1", "a2", "a3"), "in", StepOptions{StepID: "seq"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	out, ok := res.Output.(*SequentialOutput)
	require.True(t, ok)
	assert.Equal(t, "in->a1->a2->a3", out.FinalOutput)
	assert.Equal(t, 3, out.Succeeded)
}

func TestSequentialStepRetryWindow(t *testing.T) {
	// The second agent fails with a retryable error inside the window: the
	// third continues with the first agent's output.
	exec := &mockExecutor{fn: func(ctx context.Context, agentID string, input any) (any, error) {
		if agentID == "a2" {
			return nil, errors.New("agent timed out")
		}
		return fmt.Sprintf("%v->%s", input, agentID), nil
	}}
	p := newTestPipeline(t, exec, 1)
	p.Start()

	res, err := p.ExecuteSequentialAgentsStep(context.Background(),
		agents("a1", "a2", "a3"), "in", StepOptions{StepID: "seq"})
	require.NoError(t, err)

	out, ok := res.Output.(*SequentialOutput)
	require.True(t, ok)
	assert.True(t, res.Success)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	// a3 saw a1's output, not a nil from a2.
	assert.Equal(t, "in->a1->a3", out.FinalOutput)
	assert.NotEmpty(t, res.Warnings)
}

func TestSequentialStepHaltsOutsideWindow(t *testing.T) {
	exec := &mockExecutor{fn: func(ctx context.Context, agentID string, input any) (any, error) {
		if agentID == "a3" {
			return nil, errors.New("agent timed out")
		}
		return fmt.Sprintf("%v->%s", input, agentID), nil
	}}
	p := newTestPipeline(t, exec, 1)
	p.Start()

	res, err := p.ExecuteSequentialAgentsStep(context.Background(),
		agents("a1", "a2", "a3", "a4"), "in", StepOptions{StepID: "seq"})
	require.NoError(t, err)

	// Position 2 is outside the default window of 2: the chain halts and
	// a4 never runs.
	assert.False(t, res.Success)
	assert.NotContains(t, exec.callOrder(), "a4")
}

func TestSequentialStepHaltsOnNonRetryable(t *testing.T) {
	exec := &mockExecutor{fn: func(ctx context.Context, agentID string, input any) (any, error) {
		if agentID == "a1" {
			return nil, errors.New("validation failed on input")
		}
		return "out", nil
	}}
	p := newTestPipeline(t, exec, 1)
	p.Start()

	res, err := p.ExecuteSequentialAgentsStep(context.Background(),
		agents("a1", "a2"), "in", StepOptions{StepID: "seq"})
	require.NoError(t, err)

	// Non-retryable failure halts even inside the window.
	assert.False(t, res.Success)
	assert.NotContains(t, exec.callOrder(), "a2")
}

func TestSingleAgentStep(t *testing.T) {
	exec := &mockExecutor{}
	p := newTestPipeline(t, exec, 1)
	p.Start()

	res, err := p.ExecuteSingleAgentStep(context.Background(),
		types.AgentRef{ID: "one"}, "in", StepOptions{StepID: "single"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ok:one", res.Output)
	assert.Equal(t, []string{"one"}, res.AgentsUsed)
}
