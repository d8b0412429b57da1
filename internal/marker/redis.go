package marker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink appends events to a Redis stream so an experimenter console can
// follow a run live (XREAD on the stream from another terminal). Losing the
// Redis connection must never stall a trial, so appends carry a short
// timeout and callers are expected to log rather than abort on error.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink connects to the Redis instance at addr and targets the named
// stream.
func NewRedisSink(addr, stream string) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		stream: stream,
	}
}

// Append adds ev to the stream.
func (s *RedisSink) Append(ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	values := map[string]interface{}{
		"code":  ev.Code,
		"at_ns": int64(ev.At),
	}
	if ev.Label != "" {
		values["label"] = ev.Label
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: s.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd marker: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
