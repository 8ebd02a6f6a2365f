// Package taskforge Redis base operations.
// Every higher-level store (cache, settings, schedule state) builds on
// these primitives rather than calling go-redis directly, so error-wrapping
// and serialization conventions stay in one place.
package taskforge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisOps wraps a RedisPool with JSON-aware get/set/delete and
// SCAN-based key enumeration. It never uses the blocking KEYS command.
type redisOps struct {
	pool *RedisPool
}

func newRedisOps(pool *RedisPool) *redisOps {
	return &redisOps{pool: pool}
}

// getJSON fetches key and unmarshals it into dest. Returns false if the
// key does not exist.
func (r *redisOps) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	var raw string
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		v, err := c.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, NewTransientError("redis get failed", err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, NewInternalError("decode cached value", err)
	}
	return true, nil
}

// setJSON marshals value and stores it at key, optionally with a TTL
// (ttlSeconds <= 0 means no expiry).
func (r *redisOps) setJSON(ctx context.Context, key string, value interface{}, ttlSeconds int) error {
	data, err := json.Marshal(value)
	if err != nil {
		return NewInternalError("encode value for cache", err)
	}
	var expiry time.Duration
	if ttlSeconds > 0 {
		expiry = time.Duration(ttlSeconds) * time.Second
	}
	err = r.pool.WithConn(ctx, func(c *redis.Client) error {
		return c.Set(ctx, key, data, expiry).Err()
	})
	if err != nil {
		return NewTransientError("redis set failed", err)
	}
	return nil
}

func (r *redisOps) del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		return c.Del(ctx, keys...).Err()
	})
	if err != nil {
		return NewTransientError("redis del failed", err)
	}
	return nil
}

func (r *redisOps) exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		v, err := c.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	if err != nil {
		return false, NewTransientError("redis exists failed", err)
	}
	return n > 0, nil
}

// scanKeys walks the keyspace matching pattern using SCAN rather than
// KEYS, so a large keyspace never blocks the server.
func (r *redisOps) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		iter := c.Scan(ctx, 0, pattern, 500).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})
	if err != nil {
		return nil, NewTransientError("redis scan failed", err)
	}
	return keys, nil
}

// sadd/smembers back tag membership sets (cache.go) and the schedule
// index (schedule_store.go).
func (r *redisOps) sadd(ctx context.Context, key string, members ...interface{}) error {
	if len(members) == 0 {
		return nil
	}
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		return c.SAdd(ctx, key, members...).Err()
	})
	if err != nil {
		return NewTransientError("redis sadd failed", err)
	}
	return nil
}

func (r *redisOps) smembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		v, err := c.SMembers(ctx, key).Result()
		if err != nil {
			return err
		}
		members = v
		return nil
	})
	if err != nil {
		return nil, NewTransientError("redis smembers failed", err)
	}
	return members, nil
}

// hsetAll/hgetAll cover the hash half of the base-operation surface,
// for stores that keep a record as a flat field map so individual
// fields can be patched without a read-modify-write.
func (r *redisOps) hsetAll(ctx context.Context, key string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		return c.HSet(ctx, key, fields).Err()
	})
	if err != nil {
		return NewTransientError("redis hset failed", err)
	}
	return nil
}

func (r *redisOps) hgetAll(ctx context.Context, key string) (map[string]string, error) {
	var fields map[string]string
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		v, err := c.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		fields = v
		return nil
	})
	if err != nil {
		return nil, NewTransientError("redis hgetall failed", err)
	}
	return fields, nil
}

// rpushTrim/lrange cover bounded append-only lists: the push and trim
// run in one pipeline so the list never grows past maxLen, even
// transiently.
func (r *redisOps) rpushTrim(ctx context.Context, key string, value interface{}, maxLen int64) error {
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		pipe := c.TxPipeline()
		pipe.RPush(ctx, key, value)
		pipe.LTrim(ctx, key, -maxLen, -1)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return NewTransientError("redis rpush/ltrim failed", err)
	}
	return nil
}

func (r *redisOps) lrange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var values []string
	err := r.pool.WithConn(ctx, func(c *redis.Client) error {
		v, err := c.LRange(ctx, key, start, stop).Result()
		if err != nil {
			return err
		}
		values = v
		return nil
	})
	if err != nil {
		return nil, NewTransientError("redis lrange failed", err)
	}
	return values, nil
}

