// Package live implements the tick ingestor: per-symbol subscription with
// tick backfill, then fan-out of live trades to broadcast channels and
// rolling recent-tick buffers.
package live

import (
	"context"
	"time"

	"dtn-ingestion/internal/model"
	"dtn-ingestion/internal/store/redis"
)

// Sink receives ticks on their way out: the broadcast channel and the
// rolling 24h buffer.
type Sink interface {
	// DeleteBuffer clears a symbol's recent-tick buffer before backfill.
	DeleteBuffer(ctx context.Context, symbol string) error

	// AppendTicks appends ticks to the buffer and refreshes its TTL.
	AppendTicks(ctx context.Context, symbol string, ticks []model.Tick) error

	// PublishTick broadcasts one live tick and appends it to the buffer.
	PublishTick(ctx context.Context, symbol string, tick model.Tick) error
}

// RedisSink is the production sink over the shared KV store.
type RedisSink struct {
	KV *redis.KV
}

func NewRedisSink(kv *redis.KV) *RedisSink { return &RedisSink{KV: kv} }

func (s *RedisSink) DeleteBuffer(ctx context.Context, symbol string) error {
	return s.KV.Del(ctx, model.TickBufferKey(symbol))
}

func (s *RedisSink) AppendTicks(ctx context.Context, symbol string, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	values := make([]interface{}, len(ticks))
	for i, t := range ticks {
		values[i] = string(t.JSON())
	}
	return s.KV.AppendWithTTL(ctx, model.TickBufferKey(symbol),
		model.TickBufferTTLSeconds*time.Second, values...)
}

func (s *RedisSink) PublishTick(ctx context.Context, symbol string, tick model.Tick) error {
	payload := string(tick.JSON())
	if err := s.KV.Publish(ctx, model.TickChannel(symbol), payload); err != nil {
		return err
	}
	return s.KV.AppendWithTTL(ctx, model.TickBufferKey(symbol),
		model.TickBufferTTLSeconds*time.Second, payload)
}
