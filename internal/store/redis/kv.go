// Package redis wraps the shared key/value store: atomic string and list
// operations, key scans and pub/sub, with a circuit breaker guarding every
// command. Values are opaque strings; callers own the JSON.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("redis: key not found")

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 10 * time.Second
)

// Config configures the KV client.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// KV is the process-scoped key/value client shared by the ingestors and the
// control plane.
type KV struct {
	client  *goredis.Client
	breaker *CircuitBreaker
}

// New creates a KV client and pings the server.
func New(cfg Config) (*KV, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &KV{
		client:  client,
		breaker: NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout),
	}, nil
}

// NewWithRetry dials the store until it is reachable or ctx ends, waiting
// interval between attempts. A KV outage at startup is logged and retried,
// never fatal.
func NewWithRetry(ctx context.Context, cfg Config, interval time.Duration) (*KV, error) {
	return connectWithRetry(ctx, interval, func() (*KV, error) { return New(cfg) })
}

func connectWithRetry(ctx context.Context, interval time.Duration, connect func() (*KV, error)) (*KV, error) {
	for {
		kv, err := connect()
		if err == nil {
			return kv, nil
		}
		log.Printf("[redis] connect failed: %v (retrying in %s)", err, interval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Client returns the underlying client for health checks and pub/sub plumbing.
func (kv *KV) Client() *goredis.Client { return kv.client }

// Breaker returns the circuit breaker for metrics wiring.
func (kv *KV) Breaker() *CircuitBreaker { return kv.breaker }

// Ping checks connectivity.
func (kv *KV) Ping(ctx context.Context) error {
	return kv.breaker.Execute(func() error {
		return kv.client.Ping(ctx).Err()
	})
}

// Get fetches a string value. Returns ErrNotFound for missing keys.
func (kv *KV) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := kv.breaker.Execute(func() error {
		v, err := kv.client.Get(ctx, key).Result()
		if err == goredis.Nil {
			return ErrNotFound
		}
		val = v
		return err
	})
	return val, err
}

// Set stores a value with no expiry.
func (kv *KV) Set(ctx context.Context, key, value string) error {
	return kv.breaker.Execute(func() error {
		return kv.client.Set(ctx, key, value, 0).Err()
	})
}

// SetEX stores a value with a TTL.
func (kv *KV) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return kv.breaker.Execute(func() error {
		return kv.client.Set(ctx, key, value, ttl).Err()
	})
}

// Del removes keys.
func (kv *KV) Del(ctx context.Context, keys ...string) error {
	return kv.breaker.Execute(func() error {
		return kv.client.Del(ctx, keys...).Err()
	})
}

// RPush appends values to a list.
func (kv *KV) RPush(ctx context.Context, key string, values ...interface{}) error {
	return kv.breaker.Execute(func() error {
		return kv.client.RPush(ctx, key, values...).Err()
	})
}

// Expire sets a TTL on a key.
func (kv *KV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return kv.breaker.Execute(func() error {
		return kv.client.Expire(ctx, key, ttl).Err()
	})
}

// AppendWithTTL appends values to a list and refreshes its TTL in one
// pipeline, so every push is paired with an expire.
func (kv *KV) AppendWithTTL(ctx context.Context, key string, ttl time.Duration, values ...interface{}) error {
	if len(values) == 0 {
		return nil
	}
	return kv.breaker.Execute(func() error {
		pipe := kv.client.Pipeline()
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// LRange returns list entries [start, stop] (inclusive, -1 = end).
func (kv *KV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var vals []string
	err := kv.breaker.Execute(func() error {
		v, err := kv.client.LRange(ctx, key, start, stop).Result()
		vals = v
		return err
	})
	return vals, err
}

// ScanKeys iterates keys matching pattern and returns them all.
func (kv *KV) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := kv.breaker.Execute(func() error {
		iter := kv.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})
	return keys, err
}

// Publish sends a payload on a pub/sub channel.
func (kv *KV) Publish(ctx context.Context, channel, payload string) error {
	return kv.breaker.Execute(func() error {
		return kv.client.Publish(ctx, channel, payload).Err()
	})
}

// Subscribe opens a pub/sub subscription on the given channels. The caller
// owns the returned subscription and must Close it.
func (kv *KV) Subscribe(ctx context.Context, channels ...string) *goredis.PubSub {
	return kv.client.Subscribe(ctx, channels...)
}

// PSubscribe opens a pattern pub/sub subscription.
func (kv *KV) PSubscribe(ctx context.Context, patterns ...string) *goredis.PubSub {
	return kv.client.PSubscribe(ctx, patterns...)
}

// Close shuts down the client.
func (kv *KV) Close() error {
	return kv.client.Close()
}
