package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorType classifies a step failure into the recovery taxonomy.
type ErrorType string

const (
	ErrorAgentTimeout       ErrorType = "agent_timeout"
	ErrorAgentUnavailable   ErrorType = "agent_unavailable"
	ErrorCapabilityMismatch ErrorType = "capability_mismatch"
	ErrorExecutionFailed    ErrorType = "execution_failed"
	ErrorValidationFailed   ErrorType = "validation_failed"
	ErrorResourceExhausted  ErrorType = "resource_exhausted"
	ErrorNetwork            ErrorType = "network_error"
	ErrorDependencyFailed   ErrorType = "dependency_failed"
	ErrorConfiguration      ErrorType = "configuration_error"
	ErrorUnknown            ErrorType = "unknown_error"
)

// Severity grades how serious a workflow error is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// WorkflowError describes a single step failure. It is created when a step
// execution fails or times out and is never mutated afterwards.
type WorkflowError struct {
	ID          string         `json:"id"`
	Type        ErrorType      `json:"type"`
	Severity    Severity       `json:"severity"`
	Recoverable bool           `json:"recoverable"`
	Retryable   bool           `json:"retryable"`
	StepID      string         `json:"step_id"`
	AgentID     string         `json:"agent_id,omitempty"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("[%s] step %s (agent %s): %s", e.Type, e.StepID, e.AgentID, e.Message)
	}
	return fmt.Sprintf("[%s] step %s: %s", e.Type, e.StepID, e.Message)
}

// NewWorkflowError creates a WorkflowError with a fresh id and timestamp.
// Recoverable and Retryable default from the error type; callers may
// override the fields before first use.
func NewWorkflowError(errType ErrorType, stepID, message string) *WorkflowError {
	return &WorkflowError{
		ID:          uuid.NewString(),
		Type:        errType,
		Severity:    defaultSeverity(errType),
		Recoverable: errType != ErrorValidationFailed && errType != ErrorConfiguration,
		Retryable:   defaultRetryable(errType),
		StepID:      stepID,
		Message:     message,
		OccurredAt:  time.Now(),
	}
}

// WithAgent records the agent that produced the failure.
func (e *WorkflowError) WithAgent(agentID string) *WorkflowError {
	e.AgentID = agentID
	return e
}

// WithSeverity overrides the default severity.
func (e *WorkflowError) WithSeverity(s Severity) *WorkflowError {
	e.Severity = s
	return e
}

// WithContext attaches a context value.
func (e *WorkflowError) WithContext(key string, value any) *WorkflowError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func defaultSeverity(t ErrorType) Severity {
	switch t {
	case ErrorValidationFailed, ErrorConfiguration:
		return SeverityHigh
	case ErrorResourceExhausted, ErrorDependencyFailed:
		return SeverityHigh
	case ErrorUnknown:
		return SeverityMedium
	default:
		return SeverityMedium
	}
}

func defaultRetryable(t ErrorType) bool {
	switch t {
	case ErrorAgentTimeout, ErrorAgentUnavailable, ErrorNetwork, ErrorResourceExhausted:
		return true
	default:
		return false
	}
}

// classifyRules maps message keywords to error types. Checked in order, so
// the more specific keywords come first.
var classifyRules = []struct {
	keywords []string
	errType  ErrorType
}{
	{[]string{"timeout", "timed out", "deadline exceeded"}, ErrorAgentTimeout},
	{[]string{"unavailable", "not found"}, ErrorAgentUnavailable},
	{[]string{"capability", "unsupported"}, ErrorCapabilityMismatch},
	{[]string{"network", "connection"}, ErrorNetwork},
	{[]string{"resource", "memory"}, ErrorResourceExhausted},
	{[]string{"validation"}, ErrorValidationFailed},
	{[]string{"dependency"}, ErrorDependencyFailed},
}

// Classify maps a raw failure message to an ErrorType using substring
// heuristics. Unmatched messages classify as execution_failed.
func Classify(message string) ErrorType {
	lower := strings.ToLower(message)
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.errType
			}
		}
	}
	return ErrorExecutionFailed
}

// ClassifyError wraps Classify for Go errors, producing a WorkflowError
// attributed to the given step.
func ClassifyError(err error, stepID string) *WorkflowError {
	if err == nil {
		return nil
	}
	if we, ok := err.(*WorkflowError); ok {
		return we
	}
	return NewWorkflowError(Classify(err.Error()), stepID, err.Error())
}
