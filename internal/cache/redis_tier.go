package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisTier is a write-through RemoteTier[K, V] backed by Redis, grounded on
// franky69420-crypto-oracle's internal/storage/cache.Redis wrapper. It is
// wired as the optional remote tier on the cohort scanner's wallet-data
// cache so a restart does not force every wallet's trade history to be
// refetched from scratch before the next TTL-driven refresh. K is formatted
// with fmt.Sprintf("%v", ...) to form the Redis key, so it works for both
// plain strings and named string types like types.Address.
type RedisTier[K comparable, V any] struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
}

// NewRedisTier connects to addr (host:port) and returns a RedisTier scoping
// all keys under prefix. Connection failures are logged and nil is
// returned — callers treat a nil tier as "remote caching disabled",
// matching §7's graceful-degradation policy for resource-tier failures.
func NewRedisTier[K comparable, V any](ctx context.Context, logger *zap.Logger, addr, password string, db int, prefix string) *RedisTier[K, V] {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis remote cache tier unavailable, continuing without it", zap.Error(err))
		return nil
	}
	return &RedisTier[K, V]{client: client, logger: logger, prefix: prefix}
}

func (r *RedisTier[K, V]) key(k K) string {
	return fmt.Sprintf("%s:%v", r.prefix, k)
}

// Get implements RemoteTier.
func (r *RedisTier[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get: %w", err)
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("redis decode: %w", err)
	}
	return v, true, nil
}

// Set implements RemoteTier.
func (r *RedisTier[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (r *RedisTier[K, V]) Close() error {
	return r.client.Close()
}
