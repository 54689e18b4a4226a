package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/config"
)

// RedisSink appends events to a Redis stream with approximate length
// trimming, so the stream cannot grow without bound.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisSink connects to Redis and verifies the connection with a ping.
func NewRedisSink(cfg config.SinkConfig, logger *zap.Logger) (*RedisSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis sink: %w", err)
	}

	return &RedisSink{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: logger.With(zap.String("component", "redis_sink")),
	}, nil
}

// Record appends the event to the stream as a JSON payload.
func (s *RedisSink) Record(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":         string(event.Type),
			"execution_id": event.ExecutionID,
			"event":        payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append event to stream %s: %w", s.stream, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
