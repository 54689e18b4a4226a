// Package sink provides the optional write-only event sink the orchestrator
// emits execution records to. Sink failures must never affect orchestration
// outcomes; callers record best-effort and log write errors at debug level.
package sink

import (
	"context"
	"time"
)

// EventType labels one orchestration event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventStepSkipped       EventType = "step_skipped"
	EventRecoveryAttempted EventType = "recovery_attempted"
	EventWorkflowFinished  EventType = "workflow_finished"
)

// Event is one execution record written to the sink.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	StepID      string         `json:"step_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Sink accepts execution records for external analytics.
type Sink interface {
	// Record writes one event. Implementations must not block orchestration
	// for long; callers ignore the returned error beyond logging it.
	Record(ctx context.Context, event *Event) error
	// Close releases sink resources.
	Close() error
}

// Noop discards every event.
type Noop struct{}

// NewNoop returns a sink that discards everything.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) Record(context.Context, *Event) error { return nil }
func (*Noop) Close() error                         { return nil }
