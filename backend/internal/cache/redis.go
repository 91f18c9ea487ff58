// Package cache stores candidate pools in Redis. It is best-effort: a failing
// cache never fails the request that consulted it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"circl/backend/internal/graph"
	apperrors "circl/backend/pkg/errors"
)

// RedisCache caches degree-range query results per user and graph generation.
// Each user owns one hash per generation keyed by query shape.
type RedisCache struct {
	Client *redis.Client
	ttl    time.Duration
}

// NewRedisCache initializes a Redis client. Only addr is mandatory.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	opts := &redis.Options{Addr: addr}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}
	return &RedisCache{Client: redis.NewClient(opts), ttl: ttl}
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Close releases the client
func (c *RedisCache) Close() error {
	return c.Client.Close()
}

// GenerationKey counts graph writes. Pools are keyed by the generation they were
// read at, so advancing it retires every cached pool at once.
const GenerationKey = "candidates:generation"

// KeyForPool is the hash holding every pool of a user read at generation
func KeyForPool(generation int64, userID string) string {
	return fmt.Sprintf("candidates:%d:%s", generation, userID)
}

func poolField(minDegree, maxDegree, limit int) string {
	return fmt.Sprintf("%d:%d:%d", minDegree, maxDegree, limit)
}

// Generation returns the current graph generation, 0 before the first write
func (c *RedisCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.Client.Get(ctx, GenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		return 0, apperrors.NewCacheFailed(GenerationKey, err)
	}
	return gen, nil
}

// Advance moves to a new generation. Stores call it after every user or
// connection write; any edge can change degrees across the whole graph.
func (c *RedisCache) Advance(ctx context.Context) error {
	if err := c.Client.Incr(ctx, GenerationKey).Err(); err != nil {
		return apperrors.NewCacheFailed(GenerationKey, err)
	}
	return nil
}

// GetPool returns a pool cached at generation. A miss reports ok=false with a nil error.
func (c *RedisCache) GetPool(ctx context.Context, generation int64, userID string, minDegree, maxDegree, limit int) ([]graph.Candidate, bool, error) {
	key := KeyForPool(generation, userID)
	val, err := c.Client.HGet(ctx, key, poolField(minDegree, maxDegree, limit)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, apperrors.NewCacheFailed(key, err)
	}

	var candidates []graph.Candidate
	if err := json.Unmarshal([]byte(val), &candidates); err != nil {
		return nil, false, apperrors.NewCacheFailed(key, err)
	}
	return candidates, true, nil
}

// SetPool stores a pool under the generation it was read at and refreshes the TTL
// of the user's hash. A pool read before a write lands in a retired generation.
func (c *RedisCache) SetPool(ctx context.Context, generation int64, userID string, minDegree, maxDegree, limit int, candidates []graph.Candidate) error {
	key := KeyForPool(generation, userID)
	payload, err := json.Marshal(candidates)
	if err != nil {
		return apperrors.NewCacheFailed(key, err)
	}

	pipe := c.Client.TxPipeline()
	pipe.HSet(ctx, key, poolField(minDegree, maxDegree, limit), payload)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewCacheFailed(key, err)
	}
	return nil
}

// Invalidate drops the current-generation pools of the given users
func (c *RedisCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	gen, err := c.Generation(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, KeyForPool(gen, id))
	}
	if err := c.Client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.NewCacheFailed(keys[0], err)
	}
	return nil
}
