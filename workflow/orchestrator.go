package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/helmsman-dev/helmsman/assign"
	"github.com/helmsman-dev/helmsman/config"
	"github.com/helmsman-dev/helmsman/internal/metrics"
	"github.com/helmsman-dev/helmsman/pipeline"
	"github.com/helmsman-dev/helmsman/recovery"
	"github.com/helmsman-dev/helmsman/sink"
	"github.com/helmsman-dev/helmsman/types"
)

var (
	// ErrWorkflowNotFound is returned when executing an unregistered id.
	ErrWorkflowNotFound = errors.New("workflow not registered")
	// ErrTooManyExecutions is the backpressure signal: the in-flight
	// ceiling is reached and the call is rejected, not queued.
	ErrTooManyExecutions = errors.New("too many in-flight executions")
	// ErrExecutionNotFound is returned for unknown execution ids.
	ErrExecutionNotFound = errors.New("execution not found")
)

// errAbort signals the level loop that the execution must stop.
var errAbort = errors.New("execution aborted")

// maxRecoveryRounds bounds successive recovery verdicts applied to a single
// step. The chain normally terminates on its own (exclusion lists grow,
// timeout extension hits its ceiling); the bound is a stop against a
// strategy set that never converges.
const maxRecoveryRounds = 5

// Orchestrator validates, registers, and executes workflow definitions.
// Construct one per process and share it; all state is instance-scoped.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	pipe      *pipeline.Pipeline
	recovery  *recovery.Engine
	assigner  *assign.Assigner
	events    sink.Sink
	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer

	knownCapabilities map[string]struct{}

	mu          sync.RWMutex
	definitions map[string]*types.WorkflowDefinition
	executions  map[string]*execState
	recent      []string
	retired     retiredStats
	active      int
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithSink sets the write-only event sink.
func WithSink(s sink.Sink) Option {
	return func(o *Orchestrator) { o.events = s }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithKnownCapabilities enables registration-time capability validation
// against the given token set.
func WithKnownCapabilities(names []string) Option {
	return func(o *Orchestrator) {
		o.knownCapabilities = make(map[string]struct{}, len(names))
		for _, n := range names {
			o.knownCapabilities[n] = struct{}{}
		}
	}
}

// NewOrchestrator creates an orchestrator over the given pipeline, recovery
// engine, and assigner. A nil logger is replaced with a nop logger.
func NewOrchestrator(cfg config.OrchestratorConfig, pipe *pipeline.Pipeline, eng *recovery.Engine, asn *assign.Assigner, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:         cfg,
		pipe:        pipe,
		recovery:    eng,
		assigner:    asn,
		events:      sink.NewNoop(),
		logger:      logger.With(zap.String("component", "orchestrator")),
		tracer:      otel.Tracer("helmsman/workflow"),
		definitions: make(map[string]*types.WorkflowDefinition),
		executions:  make(map[string]*execState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterWorkflow validates the definition and, when no blocking issue
// exists, stores it keyed by id, overwriting any prior version. A rejected
// definition is not stored at all.
func (o *Orchestrator) RegisterWorkflow(def *types.WorkflowDefinition) *types.ValidationResult {
	result := Validate(def, o.knownCapabilities)
	if !result.Valid {
		o.logger.Warn("workflow registration rejected",
			zap.String("workflow_id", def.ID),
			zap.Int("issues", len(result.Issues)),
		)
		return result
	}

	o.mu.Lock()
	o.definitions[def.ID] = def
	o.mu.Unlock()

	o.logger.Info("workflow registered",
		zap.String("workflow_id", def.ID),
		zap.Int("steps", len(def.Steps)),
		zap.Int("warnings", len(result.Issues)),
	)
	return result
}

// Definition returns a registered definition.
func (o *Orchestrator) Definition(workflowID string) (*types.WorkflowDefinition, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	def, ok := o.definitions[workflowID]
	return def, ok
}

// ExecuteWorkflow runs one registered workflow to a terminal status and
// returns the resulting execution record. The call is synchronous; callers
// wanting fire-and-forget wrap it in a goroutine and poll
// GetExecutionDetails. When the in-flight ceiling is reached the call is
// rejected immediately with ErrTooManyExecutions.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, workflowID string, initialContext map[string]any, opts types.ExecutionOptions) (*types.WorkflowExecution, error) {
	def, ok := o.Definition(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	o.mu.Lock()
	if o.active >= o.cfg.MaxConcurrentExecutions {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %d running", ErrTooManyExecutions, o.cfg.MaxConcurrentExecutions)
	}
	o.active++
	es := newExecState(workflowID, initialContext)
	o.executions[es.exec.ID] = es
	o.recent = append(o.recent, es.exec.ID)
	if limit := o.cfg.RecentExecutionLimit; limit > 0 && len(o.recent) > limit {
		o.recent = o.recent[len(o.recent)-limit:]
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
	}()

	return o.drive(ctx, def, es, opts)
}

// drive runs the level loop for one execution.
func (o *Orchestrator) drive(ctx context.Context, def *types.WorkflowDefinition, es *execState, opts types.ExecutionOptions) (*types.WorkflowExecution, error) {
	execID := es.id()
	ctx, span := o.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", def.ID),
			attribute.String("execution.id", execID),
		))
	defer span.End()

	levels, err := Levels(def)
	if err != nil {
		wfErr := types.NewWorkflowError(types.ErrorConfiguration, types.WorkflowLevelKey, err.Error()).
			WithSeverity(types.SeverityCritical)
		es.setWorkflowError(wfErr)
		es.transition(types.ExecutionFailed)
		return es.snapshot(), err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = def.Timeout
	}
	if timeout <= 0 {
		timeout = o.cfg.DefaultWorkflowTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	es.cancel = cancel
	defer cancel()

	es.transition(types.ExecutionRunning)
	if o.collector != nil {
		o.collector.ExecutionStarted()
	}
	o.emit(runCtx, &sink.Event{
		Type:        sink.EventWorkflowStarted,
		ExecutionID: execID,
		WorkflowID:  def.ID,
		Payload:     map[string]any{"levels": len(levels), "steps": len(def.Steps)},
	})
	o.logger.Info("execution started",
		zap.String("execution_id", execID),
		zap.String("workflow_id", def.ID),
		zap.Int("levels", len(levels)),
	)

	aborted := false
	for i, level := range levels {
		if es.cancelled() {
			break
		}
		if runCtx.Err() != nil {
			o.timeoutExecution(es, runCtx.Err())
			aborted = true
			break
		}

		g, gctx := errgroup.WithContext(runCtx)
		for _, stepID := range level {
			step, _ := def.Step(stepID)
			g.Go(func() error {
				return o.runStep(gctx, es, def, step, opts)
			})
		}
		if err := g.Wait(); err != nil {
			if !es.cancelled() {
				aborted = true
			}
			o.logger.Warn("level aborted",
				zap.String("execution_id", execID),
				zap.Int("level", i),
				zap.Error(err),
			)
			break
		}
	}

	o.finalize(es, def, aborted)
	return es.snapshot(), nil
}

func (o *Orchestrator) finalize(es *execState, def *types.WorkflowDefinition, aborted bool) {
	switch {
	case es.cancelled():
		// Terminal already; transition below is a no-op.
	case aborted:
		es.transition(types.ExecutionFailed)
	default:
		es.transition(types.ExecutionCompleted)
	}

	snap := es.snapshot()
	if o.collector != nil {
		o.collector.ExecutionFinished(string(snap.Status), snap.Metrics.TotalDuration)
	}
	o.emit(context.Background(), &sink.Event{
		Type:        sink.EventWorkflowFinished,
		ExecutionID: snap.ID,
		WorkflowID:  def.ID,
		Payload: map[string]any{
			"status":           string(snap.Status),
			"completed_steps":  len(snap.CompletedSteps),
			"failed_steps":     len(snap.FailedSteps),
			"duration_ms":      snap.Metrics.TotalDuration.Milliseconds(),
			"peak_concurrency": snap.Metrics.PeakConcurrency,
		},
	})
	o.logger.Info("execution finished",
		zap.String("execution_id", snap.ID),
		zap.String("status", string(snap.Status)),
		zap.Duration("duration", snap.Metrics.TotalDuration),
	)
	o.evictRetired()
}

// evictRetired drops terminal executions that have fallen out of the recent
// window, folding their stats into the retired aggregate so the executions
// map stays bounded over the process lifetime. Running executions are always
// retained regardless of age.
func (o *Orchestrator) evictRetired() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.executions) <= len(o.recent) {
		return
	}
	keep := make(map[string]struct{}, len(o.recent))
	for _, id := range o.recent {
		keep[id] = struct{}{}
	}
	for id, es := range o.executions {
		if _, ok := keep[id]; ok {
			continue
		}
		if !es.status().Terminal() {
			continue
		}
		o.retired.absorb(es.snapshot())
		delete(o.executions, id)
	}
}

func (o *Orchestrator) timeoutExecution(es *execState, cause error) {
	wfErr := types.NewWorkflowError(types.ErrorAgentTimeout, types.WorkflowLevelKey,
		"execution deadline exceeded: "+cause.Error()).WithSeverity(types.SeverityCritical)
	es.setWorkflowError(wfErr)
}

// CancelExecution flips a non-terminal execution to cancelled. Steps not
// yet dispatched never run; tasks already handed to the pipeline are not
// forcibly aborted, their eventual results are discarded.
func (o *Orchestrator) CancelExecution(executionID string) error {
	o.mu.RLock()
	es, ok := o.executions[executionID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if !es.transition(types.ExecutionCancelled) {
		return fmt.Errorf("execution %s already terminal", executionID)
	}
	if es.cancel != nil {
		es.cancel()
	}
	o.logger.Info("execution cancelled", zap.String("execution_id", executionID))
	return nil
}

// GetExecutionDetails returns a snapshot of one execution.
func (o *Orchestrator) GetExecutionDetails(executionID string) (*types.WorkflowExecution, error) {
	o.mu.RLock()
	es, ok := o.executions[executionID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return es.snapshot(), nil
}

// emit writes a sink event best-effort. Sink failures never affect
// orchestration outcomes.
func (o *Orchestrator) emit(ctx context.Context, event *sink.Event) {
	event.Timestamp = time.Now()
	if err := o.events.Record(ctx, event); err != nil {
		o.logger.Debug("event sink write failed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}
