package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/config"
	"github.com/helmsman-dev/helmsman/internal/metrics"
	"github.com/helmsman-dev/helmsman/types"
)

// Executor is the sole foreign I/O boundary: one remote agent call.
// Implementations should honor ctx cancellation but the pipeline does not
// depend on it; a call that outlives its deadline is reported as a timeout
// and its eventual result discarded.
type Executor interface {
	Execute(ctx context.Context, agentID string, input any, timeout time.Duration) (any, error)
}

// ErrPipelineClosed is returned by Submit after Stop.
var ErrPipelineClosed = errors.New("pipeline is closed")

// queue band indices; see types.TaskPriority.Rank.
const numBands = 3

var bandNames = [numBands]string{"critical_high", "normal", "low"}

type queuedTask struct {
	task   *types.AgentExecutionTask
	future *Future
	// ctx is the submitter's context; a task whose submitter has gone away
	// by dispatch time is resolved as cancelled without an agent call.
	ctx        context.Context
	enqueuedAt time.Time
}

// Pipeline is the process-wide task scheduler. Its queues and active count
// are shared state across all workflow executions and are guarded by mu.
type Pipeline struct {
	executor  Executor
	cfg       config.PipelineConfig
	logger    *zap.Logger
	collector *metrics.Collector

	mu     sync.Mutex
	queues [numBands][]*queuedTask
	active int
	closed bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pipeline. The collector may be nil.
func New(executor Executor, cfg config.PipelineConfig, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		executor:  executor,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "pipeline")),
		collector: collector,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the scheduling tick loop.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.run()
	p.logger.Info("pipeline started",
		zap.Int("max_concurrent_agents", p.cfg.MaxConcurrentAgents),
		zap.Duration("scheduler_tick", p.cfg.SchedulerTick),
	)
}

// Stop drains no further tasks and resolves everything still queued as
// cancelled. In-flight agent calls are not aborted; their results are
// delivered to their futures as usual.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var pending []*queuedTask
	for band := range p.queues {
		pending = append(pending, p.queues[band]...)
		p.queues[band] = nil
	}
	p.mu.Unlock()

	close(p.stopCh)
	for _, qt := range pending {
		qt.future.resolve(cancelledResult(qt.task, "pipeline stopped"))
	}
	p.wg.Wait()
	p.logger.Info("pipeline stopped", zap.Int("cancelled_tasks", len(pending)))
}

// Submit enqueues a task and returns the future its caller awaits.
// The task's priority selects the queue band; ids are assigned when absent.
func (p *Pipeline) Submit(ctx context.Context, task *types.AgentExecutionTask) (*Future, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Timeout <= 0 {
		task.Timeout = p.cfg.DefaultTaskTimeout
	}
	task.EnqueuedAt = time.Now()

	qt := &queuedTask{
		task:       task,
		future:     newFuture(task.ID),
		ctx:        ctx,
		enqueuedAt: task.EnqueuedAt,
	}

	band := task.Priority.Rank()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPipelineClosed
	}
	p.enqueueLocked(band, qt)
	depth := len(p.queues[band])
	p.mu.Unlock()

	if p.collector != nil {
		p.collector.TaskEnqueued(bandNames[band], depth)
	}
	p.logger.Debug("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("agent_id", task.AgentID),
		zap.String("priority", string(task.Priority)),
	)
	return qt.future, nil
}

// enqueueLocked places qt in its band. Critical and high share the top
// band, but a critical task is inserted ahead of every queued high task;
// order within each priority stays FIFO. Callers hold mu.
func (p *Pipeline) enqueueLocked(band int, qt *queuedTask) {
	q := p.queues[band]
	if band == 0 && qt.task.Priority == types.PriorityCritical {
		i := 0
		for i < len(q) && q[i].task.Priority == types.PriorityCritical {
			i++
		}
		q = append(q, nil)
		copy(q[i+1:], q[i:])
		q[i] = qt
		p.queues[band] = q
		return
	}
	p.queues[band] = append(p.queues[band], qt)
}

// run is the fixed-interval scheduling loop.
func (p *Pipeline) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.dispatchReady()
		}
	}
}

// dispatchReady drains up to availableSlots tasks, highest band first.
func (p *Pipeline) dispatchReady() {
	for {
		p.mu.Lock()
		slots := p.cfg.MaxConcurrentAgents - p.active
		if slots <= 0 {
			p.mu.Unlock()
			return
		}
		var qt *queuedTask
		var band int
		for b := 0; b < numBands; b++ {
			if len(p.queues[b]) > 0 {
				qt = p.queues[b][0]
				p.queues[b] = p.queues[b][1:]
				band = b
				break
			}
		}
		if qt == nil {
			p.mu.Unlock()
			return
		}
		p.active++
		depth := len(p.queues[band])
		p.mu.Unlock()

		queueTime := time.Since(qt.enqueuedAt)
		if p.collector != nil {
			p.collector.TaskDispatched(bandNames[band], depth, queueTime)
		}
		p.wg.Add(1)
		go p.runTask(qt, queueTime)
	}
}

// runTask performs the agent call and resolves the task's future.
func (p *Pipeline) runTask(qt *queuedTask, queueTime time.Duration) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		if p.collector != nil {
			p.collector.TaskCompleted()
		}
	}()

	task := qt.task

	// The submitter may have given up while the task sat queued.
	if err := qt.ctx.Err(); err != nil {
		qt.future.resolve(cancelledResult(task, "caller cancelled before dispatch"))
		return
	}

	callCtx, cancel := context.WithTimeout(qt.ctx, task.Timeout)
	defer cancel()

	type execReturn struct {
		output any
		err    error
	}
	returned := make(chan execReturn, 1)
	start := time.Now()
	go func() {
		out, err := p.executor.Execute(callCtx, task.AgentID, task.Input, task.Timeout)
		returned <- execReturn{out, err}
	}()

	// The deadline holds even against an executor that ignores callCtx: the
	// call races the timer, a late result is discarded, and the concurrency
	// slot frees when this function returns.
	var output any
	var err error
	select {
	case r := <-returned:
		output, err = r.output, r.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}
	processing := time.Since(start)

	taskMetrics := types.TaskMetrics{
		QueueTime:      queueTime,
		ProcessingTime: processing,
		ResponseTime:   processing,
	}

	if err != nil {
		wfErr := p.classifyTaskError(err, task)
		p.logger.Debug("task failed",
			zap.String("task_id", task.ID),
			zap.String("agent_id", task.AgentID),
			zap.String("error_type", string(wfErr.Type)),
			zap.Duration("processing_time", processing),
		)
		qt.future.resolve(&types.AgentExecutionResult{
			TaskID:  task.ID,
			AgentID: task.AgentID,
			Success: false,
			Error:   wfErr,
			Metrics: taskMetrics,
		})
		return
	}

	qt.future.resolve(&types.AgentExecutionResult{
		TaskID:  task.ID,
		AgentID: task.AgentID,
		Success: true,
		Output:  output,
		Metrics: taskMetrics,
	})
}

// classifyTaskError maps an executor failure onto the error taxonomy.
// Deadline expiry becomes agent_timeout; everything else classifies on the
// message, defaulting to execution_failed.
func (p *Pipeline) classifyTaskError(err error, task *types.AgentExecutionTask) *types.WorkflowError {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewWorkflowError(types.ErrorAgentTimeout, "",
			"agent call exceeded "+task.Timeout.String()).WithAgent(task.AgentID)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewWorkflowError(types.ErrorExecutionFailed, "",
			"agent call cancelled").WithAgent(task.AgentID)
	}
	return types.ClassifyError(err, "").WithAgent(task.AgentID)
}

// QueueDepths reports the current per-band queue lengths, highest band
// first. Intended for status reporting and tests.
func (p *Pipeline) QueueDepths() [numBands]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [numBands]int
	for b := range p.queues {
		out[b] = len(p.queues[b])
	}
	return out
}

// ActiveCount reports how many agent calls are currently in flight.
func (p *Pipeline) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func cancelledResult(task *types.AgentExecutionTask, reason string) *types.AgentExecutionResult {
	return &types.AgentExecutionResult{
		TaskID:  task.ID,
		AgentID: task.AgentID,
		Success: false,
		Error: types.NewWorkflowError(types.ErrorExecutionFailed, "", reason).
			WithAgent(task.AgentID),
	}
}
