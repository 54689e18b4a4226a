// Package assign wraps the external agent-discovery collaborator and turns
// a step's capability requirements into a ranked list of eligible agents.
package assign

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/types"
)

// Discovery is the external collaborator consulted for eligible agents.
// Implementations must return agents ordered best-first and may return an
// empty list.
type Discovery interface {
	Discover(ctx context.Context, req *types.DiscoveryRequest) (*types.DiscoveryResponse, error)
}

// ErrNoAgents is returned when discovery yields no eligible agent.
var ErrNoAgents = fmt.Errorf("no eligible agents")

// Config holds the scoring weights used to rank discovered agents.
type Config struct {
	// DefaultLimit caps the number of candidates requested from discovery.
	DefaultLimit int
	// SuccessRateWeight, LoadWeight and LatencyWeight control the ranking
	// score. Higher success rate and lower load/latency rank first.
	SuccessRateWeight float64
	LoadWeight        float64
	LatencyWeight     float64
	// LatencyScale normalizes latency into the 0-1 scoring range.
	LatencyScale time.Duration
}

// DefaultConfig returns the default assigner weights.
func DefaultConfig() *Config {
	return &Config{
		DefaultLimit:      10,
		SuccessRateWeight: 0.5,
		LoadWeight:        0.3,
		LatencyWeight:     0.2,
		LatencyScale:      5 * time.Second,
	}
}

// Assigner ranks eligible agents for workflow steps.
type Assigner struct {
	discovery Discovery
	config    *Config
	logger    *zap.Logger
}

// New creates an Assigner. A nil config uses defaults; a nil logger is
// replaced with a nop logger.
func New(discovery Discovery, config *Config, logger *zap.Logger) *Assigner {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assigner{
		discovery: discovery,
		config:    config,
		logger:    logger.With(zap.String("component", "assigner")),
	}
}

// Request describes one assignment query.
type Request struct {
	// Capabilities required of candidates.
	Capabilities []types.Capability
	// TaskType is the step type the agents will execute.
	TaskType types.StepType
	// Exclude lists agent ids that must not be returned.
	Exclude []string
	// Performance filters candidates on historical signals.
	Performance types.PerformanceRequirements
	// ContextHints are passed through to discovery.
	ContextHints map[string]string
	// Limit overrides the configured candidate limit when positive.
	Limit int
}

// Assign queries discovery and returns candidates ranked best-first.
// Returns ErrNoAgents when no eligible agent survives filtering.
func (a *Assigner) Assign(ctx context.Context, req Request) ([]types.AgentRef, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = a.config.DefaultLimit
	}

	resp, err := a.discovery.Discover(ctx, &types.DiscoveryRequest{
		RequiredCapabilities: req.Capabilities,
		TaskType:             req.TaskType,
		ContextHints:         req.ContextHints,
		Performance:          req.Performance,
		Exclude:              req.Exclude,
		Limit:                limit,
	})
	if err != nil {
		return nil, fmt.Errorf("discovery query: %w", err)
	}

	excluded := make(map[string]struct{}, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[id] = struct{}{}
	}

	// Discovery already orders best-first, but exclusion and performance
	// filtering are re-applied here so a misbehaving collaborator cannot
	// hand back an agent the caller ruled out.
	candidates := make([]types.AgentRef, 0, len(resp.Agents))
	for _, agent := range resp.Agents {
		if _, skip := excluded[agent.ID]; skip {
			continue
		}
		if agent.SuccessRate < req.Performance.MinSuccessRate {
			continue
		}
		if req.Performance.MaxLatency > 0 && agent.AvgLatency > req.Performance.MaxLatency {
			continue
		}
		candidates = append(candidates, agent)
	}
	if len(candidates) == 0 {
		a.logger.Debug("no eligible agents",
			zap.String("task_type", string(req.TaskType)),
			zap.Int("discovered", len(resp.Agents)),
			zap.Int("excluded", len(req.Exclude)),
		)
		return nil, ErrNoAgents
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return a.score(candidates[i]) > a.score(candidates[j])
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	a.logger.Debug("agents assigned",
		zap.String("task_type", string(req.TaskType)),
		zap.Int("candidates", len(candidates)),
		zap.String("best", candidates[0].ID),
	)
	return candidates, nil
}

// score combines success rate, inverse load, and inverse normalized latency.
func (a *Assigner) score(agent types.AgentRef) float64 {
	latency := float64(agent.AvgLatency) / float64(a.config.LatencyScale)
	if latency > 1 {
		latency = 1
	}
	return a.config.SuccessRateWeight*agent.SuccessRate +
		a.config.LoadWeight*(1-agent.Load) +
		a.config.LatencyWeight*(1-latency)
}
