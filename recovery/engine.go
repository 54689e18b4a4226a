package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/internal/metrics"
	"github.com/helmsman-dev/helmsman/types"
)

// Engine holds the strategy registry and drives the recovery chain.
type Engine struct {
	strategies []Strategy
	backoff    *Backoff
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewEngine creates an Engine over the given strategies, sorted ascending
// by priority at construction. The collector may be nil.
func NewEngine(strategies []Strategy, backoff *Backoff, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Engine{
		strategies: sorted,
		backoff:    backoff,
		collector:  collector,
		logger:     logger.With(zap.String("component", "recovery_engine")),
	}
}

// Backoff exposes the engine's retry-delay calculator.
func (e *Engine) Backoff() *Backoff {
	return e.backoff
}

// Strategies returns the registered strategies in priority order.
func (e *Engine) Strategies() []Strategy {
	out := make([]Strategy, len(e.strategies))
	copy(out, e.strategies)
	return out
}

// Recover walks the applicable strategies in priority order and returns the
// first successful result, together with a record of every attempt made.
// When every strategy fails, or none applies, the returned result is a
// terminal fail_gracefully verdict.
func (e *Engine) Recover(ctx context.Context, sc *StepContext) (*Result, []Attempt) {
	applicable := e.applicable(sc.Error.Type)
	attempts := make([]Attempt, 0, len(applicable))

	e.logger.Info("recovering step failure",
		zap.String("step_id", sc.Error.StepID),
		zap.String("error_type", string(sc.Error.Type)),
		zap.Int("applicable_strategies", len(applicable)),
		zap.Int("attempt", sc.Attempt),
	)

	for _, strategy := range applicable {
		start := time.Now()
		result, err := strategy.Recover(ctx, sc)
		elapsed := time.Since(start)

		attempt := Attempt{
			Strategy: strategy.ID(),
			Duration: elapsed,
		}
		switch {
		case err != nil:
			attempt.Message = err.Error()
		case result == nil:
			attempt.Message = "strategy returned no result"
		default:
			attempt.Action = result.Action
			attempt.Success = result.Success
			attempt.Message = result.Message
		}
		attempts = append(attempts, attempt)
		if e.collector != nil {
			e.collector.RecoveryAttempt(strategy.ID(), attempt.Success)
		}

		if attempt.Success {
			e.logger.Info("recovery strategy succeeded",
				zap.String("strategy", strategy.ID()),
				zap.String("action", string(result.Action)),
				zap.String("step_id", sc.Error.StepID),
			)
			return result, attempts
		}
		e.logger.Debug("recovery strategy failed",
			zap.String("strategy", strategy.ID()),
			zap.String("step_id", sc.Error.StepID),
			zap.String("reason", attempt.Message),
		)
	}

	return &Result{
		Success:           false,
		Action:            ActionFailGracefully,
		ContinueExecution: false,
		Message: fmt.Sprintf("recovery exhausted: %d strategies applicable to %s, none succeeded",
			len(applicable), sc.Error.Type),
	}, attempts
}

func (e *Engine) applicable(errType types.ErrorType) []Strategy {
	var out []Strategy
	for _, s := range e.strategies {
		for _, t := range s.AppliesTo() {
			if t == errType {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
