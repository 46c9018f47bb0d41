package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/courserank/ranking-engine/internal/model"
)

// KeyPrefix namespaces ranking pages in a shared Redis.
const KeyPrefix = "ranking:"

const deleteBatch = 100

// RedisCache implements Cache on Redis with JSON values.
type RedisCache struct {
	rdb redis.UniversalClient
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) (model.Ranking, bool, error) {
	data, err := c.rdb.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Ranking{}, false, nil
	}
	if err != nil {
		return model.Ranking{}, false, fmt.Errorf("cache get %s: %w", key, err)
	}

	var r model.Ranking
	if err := json.Unmarshal(data, &r); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it.
		return model.Ranking{}, false, nil
	}
	return r, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, r model.Ranking, ttl time.Duration) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, KeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = KeyPrefix + k
	}
	if err := c.rdb.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeleteMatching removes every key matching pattern. On a cluster each
// master is scanned separately.
func (c *RedisCache) DeleteMatching(ctx context.Context, pattern string) error {
	if cc, ok := c.rdb.(*redis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return deleteMatching(ctx, node, KeyPrefix+pattern)
		})
	}
	return deleteMatching(ctx, c.rdb, KeyPrefix+pattern)
}

// deleteMatching finishes the SCAN before deleting anything, since deleting
// while the cursor pages makes it skip keys.
func deleteMatching(ctx context.Context, rdb redis.Cmdable, match string) error {
	var keys []string
	iter := rdb.Scan(ctx, 0, match, deleteBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", match, err)
	}

	// One DEL per key keeps cluster slots out of the way.
	for start := 0; start < len(keys); start += deleteBatch {
		batch := keys[start:min(start+deleteBatch, len(keys))]
		_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, k := range batch {
				p.Del(ctx, k)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("cache delete %s: %w", match, err)
		}
	}
	return nil
}
