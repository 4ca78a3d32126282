package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/7D-Solutions/gaugecore/bus"
	"github.com/7D-Solutions/gaugecore/common"
)

// ErrCacheMiss is returned when a cache key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// RedisCache is a read-through cache for gauge and certificate lookups,
// plus short-lived operation locks for batch workflow steps. Works against
// Redis, Valkey or DragonflyDB.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the cache and verifies the connection.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// NewRedisCacheFromClient wraps an existing client, used by tests.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func gaugeKey(id int64) string      { return fmt.Sprintf("cache:gauge:%d", id) }
func certChainKey(id int64) string  { return fmt.Sprintf("cache:certs:%d", id) }
func operationKey(op string) string { return "lock:op:" + op }

// SetGauge caches a gauge snapshot.
func (c *RedisCache) SetGauge(ctx context.Context, id int64, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal gauge %d: %w", id, err)
	}
	return c.client.Set(ctx, gaugeKey(id), data, c.ttl).Err()
}

// GetGauge loads a cached gauge snapshot into v. Returns ErrCacheMiss when
// absent.
func (c *RedisCache) GetGauge(ctx context.Context, id int64, v interface{}) error {
	data, err := c.client.Get(ctx, gaugeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// InvalidateGauge drops the cached gauge and its certificate chain.
func (c *RedisCache) InvalidateGauge(ctx context.Context, id int64) error {
	return c.client.Del(ctx, gaugeKey(id), certChainKey(id)).Err()
}

// SetCertChain caches a gauge's certificate chain.
func (c *RedisCache) SetCertChain(ctx context.Context, gaugeID int64, chain interface{}) error {
	data, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("failed to marshal cert chain for gauge %d: %w", gaugeID, err)
	}
	return c.client.Set(ctx, certChainKey(gaugeID), data, c.ttl).Err()
}

// GetCertChain loads a cached certificate chain into v.
func (c *RedisCache) GetCertChain(ctx context.Context, gaugeID int64, v interface{}) error {
	data, err := c.client.Get(ctx, certChainKey(gaugeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// AcquireOperationLock takes a short-lived exclusive lock for a named
// operation, such as sending a batch. Returns false when another holder
// has it.
func (c *RedisCache) AcquireOperationLock(ctx context.Context, op string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, operationKey(op), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", op, err)
	}
	return ok, nil
}

// ReleaseOperationLock drops the operation lock.
func (c *RedisCache) ReleaseOperationLock(ctx context.Context, op string) error {
	return c.client.Del(ctx, operationKey(op)).Err()
}

// SubscribeInvalidation attaches the cache to the event bus so that every
// asset, set, batch or certificate event drops the affected entries. The
// returned id detaches it via Unsubscribe.
func (c *RedisCache) SubscribeInvalidation(b *bus.Bus) int {
	return b.SubscribeAll(func(e bus.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, id := range affectedGaugeIDs(e) {
			if err := c.InvalidateGauge(ctx, id); err != nil {
				// Stale entries expire on their own.
				common.Logger.WithError(err).WithField("gauge_id", id).
					Warn("cache invalidation failed")
			}
		}
	})
}

func affectedGaugeIDs(e bus.Event) []int64 {
	switch p := e.Payload.(type) {
	case bus.AssetEvent:
		return []int64{p.GaugeID}
	case bus.SetEvent:
		return []int64{p.GoID, p.NoGoID}
	case bus.BatchEvent:
		return p.GaugeIDs
	case bus.CertificateEvent:
		return []int64{p.GaugeID}
	}
	return nil
}
