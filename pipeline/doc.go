// Package pipeline turns AgentExecutionTasks into AgentExecutionResults
// under a single global concurrency cap shared by every workflow.
//
// Tasks enter one of three priority bands (critical and high collapse into
// the first). A fixed-interval scheduling tick drains as many tasks as the
// cap allows, highest band first, dispatching each agent call concurrently.
// Callers await completion through a one-shot future resolved exactly once
// by the worker that finishes the task.
//
// The step-level entry points ExecuteSingleAgentStep,
// ExecuteParallelAgentsStep, and ExecuteSequentialAgentsStep combine task
// results with the step-type semantics the orchestrator depends on.
package pipeline
