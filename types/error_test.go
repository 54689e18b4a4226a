package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		message string
		want    ErrorType
	}{
		{"agent call timed out after 30s", ErrorAgentTimeout},
		{"context deadline exceeded", ErrorAgentTimeout},
		{"agent worker-3 unavailable", ErrorAgentUnavailable},
		{"agent not found in registry", ErrorAgentUnavailable},
		{"capability text-analysis unsupported", ErrorCapabilityMismatch},
		{"network connection refused", ErrorNetwork},
		{"out of memory", ErrorResourceExhausted},
		{"validation of input schema failed", ErrorValidationFailed},
		{"upstream dependency rejected request", ErrorDependencyFailed},
		{"something else entirely", ErrorExecutionFailed},
		{"", ErrorExecutionFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.message), "message: %q", tc.message)
	}
}

func TestClassifyOrder(t *testing.T) {
	// Timeout keywords win over later rules when both match.
	assert.Equal(t, ErrorAgentTimeout, Classify("network call timed out"))
}

func TestNewWorkflowErrorDefaults(t *testing.T) {
	e := NewWorkflowError(ErrorAgentTimeout, "step-1", "timed out")
	require.NotEmpty(t, e.ID)
	assert.True(t, e.Recoverable)
	assert.True(t, e.Retryable)
	assert.Equal(t, "step-1", e.StepID)
	assert.False(t, e.OccurredAt.IsZero())

	v := NewWorkflowError(ErrorValidationFailed, "step-2", "bad input")
	assert.False(t, v.Recoverable)
	assert.False(t, v.Retryable)
	assert.Equal(t, SeverityHigh, v.Severity)

	c := NewWorkflowError(ErrorConfiguration, "step-3", "bad config")
	assert.False(t, c.Recoverable)
}

func TestWorkflowErrorBuilders(t *testing.T) {
	e := NewWorkflowError(ErrorExecutionFailed, "s", "boom").
		WithAgent("agent-1").
		WithSeverity(SeverityCritical).
		WithContext("attempt", 3)

	assert.Equal(t, "agent-1", e.AgentID)
	assert.Equal(t, SeverityCritical, e.Severity)
	assert.Equal(t, 3, e.Context["attempt"])
	assert.Contains(t, e.Error(), "agent-1")
}

func TestClassifyError(t *testing.T) {
	assert.Nil(t, ClassifyError(nil, "s"))

	wrapped := NewWorkflowError(ErrorNetwork, "s", "link down")
	assert.Same(t, wrapped, ClassifyError(wrapped, "other"))

	e := ClassifyError(errors.New("agent timed out"), "step-9")
	assert.Equal(t, ErrorAgentTimeout, e.Type)
	assert.Equal(t, "step-9", e.StepID)
}
