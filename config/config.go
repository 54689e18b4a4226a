// Package config provides the helmsman configuration model and loader.
// Precedence: defaults, then YAML file, then environment overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the complete helmsman configuration.
type Config struct {
	// Orchestrator tunes workflow registration and execution.
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Pipeline tunes the shared task scheduler.
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Recovery tunes the error-recovery strategy chain.
	Recovery RecoveryConfig `yaml:"recovery" env:"RECOVERY"`

	// Sink configures the optional write-only event sink.
	Sink SinkConfig `yaml:"sink" env:"SINK"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures the OpenTelemetry SDK.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// OrchestratorConfig tunes the workflow orchestrator.
type OrchestratorConfig struct {
	// MaxConcurrentExecutions caps in-flight executions; excess calls are
	// rejected immediately rather than queued.
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions" env:"MAX_CONCURRENT_EXECUTIONS"`
	// DefaultStepTimeout applies to steps without an explicit timeout.
	DefaultStepTimeout time.Duration `yaml:"default_step_timeout" env:"DEFAULT_STEP_TIMEOUT"`
	// DefaultWorkflowTimeout applies to definitions without a global timeout.
	DefaultWorkflowTimeout time.Duration `yaml:"default_workflow_timeout" env:"DEFAULT_WORKFLOW_TIMEOUT"`
	// RecentExecutionLimit bounds the recent-executions list in status reports.
	RecentExecutionLimit int `yaml:"recent_execution_limit" env:"RECENT_EXECUTION_LIMIT"`
}

// PipelineConfig tunes the execution pipeline.
type PipelineConfig struct {
	// MaxConcurrentAgents is the single global concurrency ceiling shared
	// by all workflows.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents" env:"MAX_CONCURRENT_AGENTS"`
	// SchedulerTick is the fixed interval between dispatch passes.
	SchedulerTick time.Duration `yaml:"scheduler_tick" env:"SCHEDULER_TICK"`
	// ParallelSuccessThreshold is the minimum successful/total ratio for a
	// parallel step to count as successful.
	ParallelSuccessThreshold float64 `yaml:"parallel_success_threshold" env:"PARALLEL_SUCCESS_THRESHOLD"`
	// SequentialRetryWindow is how many leading positions of a sequential
	// chain may continue past a retryable failure.
	SequentialRetryWindow int `yaml:"sequential_retry_window" env:"SEQUENTIAL_RETRY_WINDOW"`
	// DefaultTaskTimeout applies to tasks submitted without a timeout.
	DefaultTaskTimeout time.Duration `yaml:"default_task_timeout" env:"DEFAULT_TASK_TIMEOUT"`
}

// RecoveryConfig tunes the error-recovery engine.
type RecoveryConfig struct {
	// BaseDelay seeds the retry backoff formula.
	BaseDelay time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	// BackoffMultiplier grows the delay per attempt.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
	// MaxDelay caps the computed retry delay.
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// TimeoutCeiling is the hard ceiling for the timeout-extension strategy.
	TimeoutCeiling time.Duration `yaml:"timeout_ceiling" env:"TIMEOUT_CEILING"`
	// RelaxedMinSuccessRate is the lowered success-rate floor used when
	// re-querying with relaxed capabilities.
	RelaxedMinSuccessRate float64 `yaml:"relaxed_min_success_rate" env:"RELAXED_MIN_SUCCESS_RATE"`
	// PrecisionRelaxation is subtracted from each capability precision
	// during relaxation.
	PrecisionRelaxation float64 `yaml:"precision_relaxation" env:"PRECISION_RELAXATION"`
	// PrecisionFloor is the minimum precision relaxation may reach.
	PrecisionFloor float64 `yaml:"precision_floor" env:"PRECISION_FLOOR"`
	// DegradationMaxDependents is the most dependents a step may have and
	// still be skippable by graceful degradation.
	DegradationMaxDependents int `yaml:"degradation_max_dependents" env:"DEGRADATION_MAX_DEPENDENTS"`
}

// SinkConfig configures the Redis-backed event sink.
type SinkConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// Stream is the Redis stream key events are appended to.
	Stream string `yaml:"stream" env:"STREAM"`
	// MaxLen bounds the stream length (approximate trimming).
	MaxLen int64 `yaml:"max_len" env:"MAX_LEN"`
}

// LogConfig configures zap logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig configures the OpenTelemetry SDK. When disabled, global
// providers stay noop and no exporter is created.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure     bool    `yaml:"insecure" env:"INSECURE"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns the configuration defaults. Threshold values match
// the historical behavior of the orchestration engine.
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrentExecutions: 10,
			DefaultStepTimeout:      60 * time.Second,
			DefaultWorkflowTimeout:  10 * time.Minute,
			RecentExecutionLimit:    20,
		},
		Pipeline: PipelineConfig{
			MaxConcurrentAgents:      10,
			SchedulerTick:            time.Second,
			ParallelSuccessThreshold: 0.5,
			SequentialRetryWindow:    2,
			DefaultTaskTimeout:       30 * time.Second,
		},
		Recovery: RecoveryConfig{
			BaseDelay:                time.Second,
			BackoffMultiplier:        2.0,
			MaxDelay:                 30 * time.Second,
			TimeoutCeiling:           5 * time.Minute,
			RelaxedMinSuccessRate:    0.6,
			PrecisionRelaxation:      0.2,
			PrecisionFloor:           0.5,
			DegradationMaxDependents: 2,
		},
		Sink: SinkConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Stream:  "helmsman:events",
			MaxLen:  10000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "helmsman",
			OTLPEndpoint: "localhost:4317",
			Insecure:     true,
			SampleRate:   1.0,
		},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Pipeline.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("pipeline.max_concurrent_agents must be positive, got %d", c.Pipeline.MaxConcurrentAgents)
	}
	if c.Pipeline.SchedulerTick <= 0 {
		return fmt.Errorf("pipeline.scheduler_tick must be positive, got %s", c.Pipeline.SchedulerTick)
	}
	if c.Pipeline.ParallelSuccessThreshold <= 0 || c.Pipeline.ParallelSuccessThreshold > 1 {
		return fmt.Errorf("pipeline.parallel_success_threshold must be in (0,1], got %v", c.Pipeline.ParallelSuccessThreshold)
	}
	if c.Orchestrator.MaxConcurrentExecutions <= 0 {
		return fmt.Errorf("orchestrator.max_concurrent_executions must be positive, got %d", c.Orchestrator.MaxConcurrentExecutions)
	}
	if c.Recovery.BackoffMultiplier < 1 {
		return fmt.Errorf("recovery.backoff_multiplier must be >= 1, got %v", c.Recovery.BackoffMultiplier)
	}
	if c.Recovery.PrecisionFloor < 0 || c.Recovery.PrecisionFloor > 1 {
		return fmt.Errorf("recovery.precision_floor must be in [0,1], got %v", c.Recovery.PrecisionFloor)
	}
	return nil
}
