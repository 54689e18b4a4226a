// Package types defines the shared domain model for the helmsman control
// plane: workflow definitions and executions, the error taxonomy, the agent
// capability model, and the task/result contract between the orchestrator
// and the execution pipeline.
//
// The package holds plain data types only. Behavior lives in the workflow,
// pipeline, recovery, and assign packages.
package types
