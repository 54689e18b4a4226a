package pipeline

import (
	"context"

	"github.com/helmsman-dev/helmsman/types"
)

// Future is a one-shot completion signal for a submitted task. It is
// resolved exactly once by the worker (or scheduler) that finishes the
// task, and consumed exactly once by the awaiting caller.
type Future struct {
	taskID string
	ch     chan *types.AgentExecutionResult
}

func newFuture(taskID string) *Future {
	// Buffer of one so the resolver never blocks on a slow consumer.
	return &Future{taskID: taskID, ch: make(chan *types.AgentExecutionResult, 1)}
}

// TaskID returns the id of the task this future tracks.
func (f *Future) TaskID() string {
	return f.taskID
}

// resolve delivers the result. Must be called at most once.
func (f *Future) resolve(res *types.AgentExecutionResult) {
	f.ch <- res
	close(f.ch)
}

// Await blocks until the task completes or the context is cancelled.
// A context cancellation abandons the result; if it arrives later it is
// discarded with the closed channel.
func (f *Future) Await(ctx context.Context) (*types.AgentExecutionResult, error) {
	select {
	case res := <-f.ch:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
