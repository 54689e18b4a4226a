package sink

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/helmsman-dev/helmsman/config"
)

func newTestSink(t *testing.T) (*RedisSink, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	s, err := NewRedisSink(config.SinkConfig{
		Addr:   srv.Addr(),
		Stream: "helmsman:events",
		MaxLen: 100,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestRedisSinkRecord(t *testing.T) {
	s, client := newTestSink(t)
	ctx := context.Background()

	err := s.Record(ctx, &Event{
		Type:        EventStepCompleted,
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		StepID:      "step-a",
		Payload:     map[string]any{"duration_ms": int64(12)},
	})
	require.NoError(t, err)

	entries, err := client.XRange(ctx, "helmsman:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, string(EventStepCompleted), values["type"])
	assert.Equal(t, "exec-1", values["execution_id"])

	raw, ok := values["event"].(string)
	require.True(t, ok)
	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "step-a", decoded.StepID)
	assert.Equal(t, "wf-1", decoded.WorkflowID)
	assert.False(t, decoded.Timestamp.IsZero())
}

func TestRedisSinkRecordMany(t *testing.T) {
	s, client := newTestSink(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, &Event{
			Type:        EventWorkflowStarted,
			ExecutionID: "exec",
		}))
	}
	count, err := client.XLen(ctx, "helmsman:events").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

func TestNewRedisSinkConnectFailure(t *testing.T) {
	_, err := NewRedisSink(config.SinkConfig{
		Addr:   "127.0.0.1:1", // nothing listens here
		Stream: "s",
	}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNoopSink(t *testing.T) {
	n := NewNoop()
	assert.NoError(t, n.Record(context.Background(), &Event{Type: EventWorkflowFinished}))
	assert.NoError(t, n.Close())
}
