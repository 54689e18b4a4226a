// Package helmsman is the top-level entry point for the workflow
// orchestration engine. It wires the configuration, logging, metrics,
// pipeline, recovery chain, event sink, and orchestrator into one Engine.
//
// Usage:
//
//	eng, err := helmsman.New(discovery, executor)
//	eng, err := helmsman.New(discovery, executor,
//		helmsman.WithConfig(cfg),
//		helmsman.WithLogger(logger),
//	)
//
// The two required collaborators are the agent Discovery service and the
// agent call Executor; everything else has working defaults.
package helmsman

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/helmsman-dev/helmsman/assign"
	"github.com/helmsman-dev/helmsman/config"
	"github.com/helmsman-dev/helmsman/internal/metrics"
	"github.com/helmsman-dev/helmsman/internal/telemetry"
	"github.com/helmsman-dev/helmsman/pipeline"
	"github.com/helmsman-dev/helmsman/recovery"
	"github.com/helmsman-dev/helmsman/sink"
	"github.com/helmsman-dev/helmsman/types"
	"github.com/helmsman-dev/helmsman/workflow"
)

// Engine bundles the orchestration components behind one lifecycle.
type Engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	ownLogger bool

	collector    *metrics.Collector
	assigner     *assign.Assigner
	pipeline     *pipeline.Pipeline
	recovery     *recovery.Engine
	orchestrator *workflow.Orchestrator
	events       sink.Sink
	providers    *telemetry.Providers
}

// Option configures the Engine created by [New].
type Option func(*options)

type options struct {
	cfg          *config.Config
	logger       *zap.Logger
	registerer   prometheus.Registerer
	events       sink.Sink
	capabilities []string
	strategies   []recovery.Strategy
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger. Without it, one is built from the
// log configuration and flushed on Close.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer sets the Prometheus registerer for engine metrics.
// Defaults to the process-wide registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSink overrides the event sink, bypassing sink configuration.
func WithSink(s sink.Sink) Option {
	return func(o *options) { o.events = s }
}

// WithKnownCapabilities enables registration-time capability validation.
func WithKnownCapabilities(names []string) Option {
	return func(o *options) { o.capabilities = names }
}

// WithExtraStrategies appends recovery strategies to the built-in chain.
func WithExtraStrategies(strategies ...recovery.Strategy) Option {
	return func(o *options) { o.strategies = append(o.strategies, strategies...) }
}

// New builds and starts an Engine. The pipeline scheduler starts
// immediately; call Close to stop it and release resources.
func New(discovery assign.Discovery, executor pipeline.Executor, opts ...Option) (*Engine, error) {
	if discovery == nil {
		return nil, errors.New("discovery collaborator is required")
	}
	if executor == nil {
		return nil, errors.New("executor collaborator is required")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	eng := &Engine{cfg: cfg}

	if o.logger != nil {
		eng.logger = o.logger
	} else {
		logger, err := buildLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		eng.logger = logger
		eng.ownLogger = true
	}

	providers, err := telemetry.Init(cfg.Telemetry, eng.logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	eng.providers = providers

	eng.collector = metrics.NewCollector("helmsman", o.registerer, eng.logger)
	eng.assigner = assign.New(discovery, nil, eng.logger)
	eng.pipeline = pipeline.New(executor, cfg.Pipeline, eng.collector, eng.logger)

	strategies := recovery.BuiltinStrategies(eng.assigner, cfg.Recovery)
	strategies = append(strategies, o.strategies...)
	eng.recovery = recovery.NewEngine(strategies,
		recovery.NewBackoff(cfg.Recovery), eng.collector, eng.logger)

	eng.events, err = buildSink(o, cfg, eng.logger)
	if err != nil {
		return nil, err
	}

	orchOpts := []workflow.Option{
		workflow.WithCollector(eng.collector),
		workflow.WithSink(eng.events),
	}
	if len(o.capabilities) > 0 {
		orchOpts = append(orchOpts, workflow.WithKnownCapabilities(o.capabilities))
	}
	eng.orchestrator = workflow.NewOrchestrator(cfg.Orchestrator,
		eng.pipeline, eng.recovery, eng.assigner, eng.logger, orchOpts...)

	eng.pipeline.Start()
	eng.logger.Info("engine started",
		zap.Int("max_concurrent_executions", cfg.Orchestrator.MaxConcurrentExecutions),
		zap.Int("max_concurrent_agents", cfg.Pipeline.MaxConcurrentAgents),
	)
	return eng, nil
}

func buildSink(o *options, cfg *config.Config, logger *zap.Logger) (sink.Sink, error) {
	if o.events != nil {
		return o.events, nil
	}
	if !cfg.Sink.Enabled {
		return sink.NewNoop(), nil
	}
	s, err := sink.NewRedisSink(cfg.Sink, logger)
	if err != nil {
		return nil, fmt.Errorf("build event sink: %w", err)
	}
	return s, nil
}

// Orchestrator exposes the workflow API: registration, execution,
// cancellation, and status queries.
func (e *Engine) Orchestrator() *workflow.Orchestrator {
	return e.orchestrator
}

// Pipeline exposes the task scheduler, mainly for status reporting.
func (e *Engine) Pipeline() *pipeline.Pipeline {
	return e.pipeline
}

// RegisterWorkflow validates and stores a definition.
func (e *Engine) RegisterWorkflow(def *types.WorkflowDefinition) *types.ValidationResult {
	return e.orchestrator.RegisterWorkflow(def)
}

// ExecuteWorkflow runs a registered workflow to a terminal status.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, initialContext map[string]any, opts types.ExecutionOptions) (*types.WorkflowExecution, error) {
	return e.orchestrator.ExecuteWorkflow(ctx, workflowID, initialContext, opts)
}

// CancelExecution cancels a non-terminal execution.
func (e *Engine) CancelExecution(executionID string) error {
	return e.orchestrator.CancelExecution(executionID)
}

// Status returns the aggregate orchestration status.
func (e *Engine) Status() *workflow.Status {
	return e.orchestrator.GetOrchestrationStatus()
}

// Close stops the pipeline, closes the sink, shuts telemetry down, and
// flushes the logger when the engine owns it.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	e.pipeline.Stop()
	if err := e.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}
	if err := e.providers.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	if e.ownLogger {
		_ = e.logger.Sync()
	}
	return errors.Join(errs...)
}

// buildLogger constructs a zap logger from log configuration.
func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
