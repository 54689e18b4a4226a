// Package workflow implements the orchestrator: it validates workflow
// definitions, computes topological levels, drives level-by-level dispatch
// through the execution pipeline, consults the recovery engine on step
// failure, and maintains the WorkflowExecution aggregate for each run.
//
// Levels execute strictly in sequence; steps within a level execute
// concurrently. Level k+1 never starts before every step in level k has
// reached a terminal per-step status (completed, failed-tolerated, or
// skipped), recovery included.
package workflow
