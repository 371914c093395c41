package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisHashKey holds every setting as one hash field.
const RedisHashKey = "rockclient:settings"

// Redis stores settings in a single hash so a Set lands atomically.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, RedisHashKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: hget %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	pairs := make([]any, 0, 2*len(values))
	for k, v := range values {
		pairs = append(pairs, k, v)
	}
	if err := r.rdb.HSet(ctx, RedisHashKey, pairs...).Err(); err != nil {
		return fmt.Errorf("settings: hset: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.HDel(ctx, RedisHashKey, keys...).Err(); err != nil {
		return fmt.Errorf("settings: hdel: %w", err)
	}
	return nil
}
