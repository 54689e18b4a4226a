package types

import "time"

// Capability is a named skill tag used to match steps to eligible agents.
type Capability struct {
	// Name identifies the capability (e.g. "text_processing").
	Name string `json:"name" yaml:"name"`
	// Version pins a specific capability version. Empty matches any.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// Precision is the minimum acceptable precision (0-1, 0 = any).
	Precision float64 `json:"precision,omitempty" yaml:"precision,omitempty"`
	// Required marks the capability as mandatory for assignment.
	Required bool `json:"required" yaml:"required"`
}

// AgentRef identifies a remote agent together with the ranking signals the
// assigner scores on.
type AgentRef struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Capabilities []Capability  `json:"capabilities,omitempty"`
	SuccessRate  float64       `json:"success_rate"`
	Load         float64       `json:"load"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

// PerformanceRequirements constrains which agents are eligible for a step.
type PerformanceRequirements struct {
	// MinSuccessRate filters out agents below this historical success rate.
	MinSuccessRate float64 `json:"min_success_rate"`
	// MaxLatency filters out agents whose average latency exceeds it.
	// Zero means no latency bound.
	MaxLatency time.Duration `json:"max_latency,omitempty"`
}

// DiscoveryRequest is the query the assigner sends to the external
// discovery collaborator.
type DiscoveryRequest struct {
	RequiredCapabilities []Capability            `json:"required_capabilities"`
	TaskType             StepType                `json:"task_type"`
	ContextHints         map[string]string       `json:"context_hints,omitempty"`
	Performance          PerformanceRequirements `json:"performance"`
	Exclude              []string                `json:"exclude,omitempty"`
	Limit                int                     `json:"limit,omitempty"`
}

// DiscoveryResponse carries the discovery result, agents ordered best-first.
type DiscoveryResponse struct {
	Agents              []AgentRef `json:"agents"`
	RecommendedStrategy string     `json:"recommended_strategy,omitempty"`
}
