package assign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/helmsman-dev/helmsman/types"
)

// stubDiscovery returns a fixed agent list and records the last request.
type stubDiscovery struct {
	agents  []types.AgentRef
	err     error
	lastReq *types.DiscoveryRequest
}

func (s *stubDiscovery) Discover(ctx context.Context, req *types.DiscoveryRequest) (*types.DiscoveryResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &types.DiscoveryResponse{Agents: s.agents}, nil
}

func agentRef(id string, successRate, load float64, latency time.Duration) types.AgentRef {
	return types.AgentRef{ID: id, Name: id, SuccessRate: successRate, Load: load, AvgLatency: latency}
}

func TestAssignRanksBestFirst(t *testing.T) {
	disc := &stubDiscovery{agents: []types.AgentRef{
		agentRef("slow", 0.9, 0.9, 4*time.Second),
		agentRef("best", 0.95, 0.1, 100*time.Millisecond),
		agentRef("mid", 0.8, 0.5, time.Second),
	}}
	a := New(disc, nil, zaptest.NewLogger(t))

	agents, err := a.Assign(context.Background(), Request{TaskType: types.StepSingleAgent})
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, "best", agents[0].ID)
	assert.Equal(t, "slow", agents[2].ID)
}

func TestAssignReappliesExclusions(t *testing.T) {
	// A misbehaving discovery returns an excluded agent anyway.
	disc := &stubDiscovery{agents: []types.AgentRef{
		agentRef("banned", 1.0, 0, 0),
		agentRef("ok", 0.7, 0.3, time.Second),
	}}
	a := New(disc, nil, zaptest.NewLogger(t))

	agents, err := a.Assign(context.Background(), Request{
		Exclude: []string{"banned"},
	})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "ok", agents[0].ID)
	assert.Equal(t, []string{"banned"}, disc.lastReq.Exclude)
}

func TestAssignFiltersPerformance(t *testing.T) {
	disc := &stubDiscovery{agents: []types.AgentRef{
		agentRef("flaky", 0.4, 0.1, time.Second),
		agentRef("laggy", 0.95, 0.1, 8*time.Second),
		agentRef("good", 0.9, 0.2, time.Second),
	}}
	a := New(disc, nil, zaptest.NewLogger(t))

	agents, err := a.Assign(context.Background(), Request{
		Performance: types.PerformanceRequirements{
			MinSuccessRate: 0.6,
			MaxLatency:     2 * time.Second,
		},
	})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "good", agents[0].ID)
}

func TestAssignNoAgents(t *testing.T) {
	disc := &stubDiscovery{}
	a := New(disc, nil, zaptest.NewLogger(t))

	_, err := a.Assign(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoAgents)
}

func TestAssignDiscoveryError(t *testing.T) {
	disc := &stubDiscovery{err: errors.New("registry down")}
	a := New(disc, nil, zaptest.NewLogger(t))

	_, err := a.Assign(context.Background(), Request{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAgents)
}

func TestAssignHonorsLimit(t *testing.T) {
	disc := &stubDiscovery{agents: []types.AgentRef{
		agentRef("a", 0.9, 0.1, time.Second),
		agentRef("b", 0.8, 0.1, time.Second),
		agentRef("c", 0.7, 0.1, time.Second),
	}}
	a := New(disc, nil, zaptest.NewLogger(t))

	agents, err := a.Assign(context.Background(), Request{Limit: 1})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "a", agents[0].ID)
	assert.Equal(t, 1, disc.lastReq.Limit)
}

func TestScoreWeighting(t *testing.T) {
	a := New(&stubDiscovery{}, nil, zaptest.NewLogger(t))

	perfect := agentRef("p", 1.0, 0.0, 0)
	worst := agentRef("w", 0.0, 1.0, 10*time.Second)
	assert.InDelta(t, 1.0, a.score(perfect), 1e-9)
	assert.InDelta(t, 0.0, a.score(worst), 1e-9)
}
