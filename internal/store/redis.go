package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/metrics"
	"github.com/avalanche-app/rockclient/pkg/model"
)

const redisKeyPrefix = "webresource:"

// RedisStore keeps one JSON document per URL. Keys carry no Redis TTL: a stale entry must
// stay readable so it can be served while it is revalidated.
type RedisStore struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedis connects and pings the server.
func NewRedis(addr string, db int, password string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{redis: rdb, logger: logger}, nil
}

// NewRedisFromClient wraps an existing client; the store takes ownership of it.
func NewRedisFromClient(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{redis: rdb, logger: logger}
}

func redisKey(url string) string {
	return redisKeyPrefix + url
}

// EnsureSchema has nothing to create for Redis; it only verifies connectivity.
func (s *RedisStore) EnsureSchema(ctx context.Context) error {
	return s.HealthCheck(ctx)
}

func (s *RedisStore) Get(ctx context.Context, url string) (*model.CachedResource, bool) {
	data, err := s.redis.Get(ctx, redisKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.fail("get", url, err)
		return nil, false
	}

	var r model.CachedResource
	if err := json.Unmarshal(data, &r); err != nil {
		s.fail("decode", url, err)
		return nil, false
	}
	return &r, true
}

// Put overwrites the document; SET replaces the whole value atomically.
func (s *RedisStore) Put(ctx context.Context, r *model.CachedResource) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: marshal %q: %w", r.URL, err)
	}
	if err := s.redis.Set(ctx, redisKey(r.URL), data, 0).Err(); err != nil {
		s.fail("put", r.URL, err)
		return fmt.Errorf("redis: set %q: %w", r.URL, err)
	}
	return nil
}

func (s *RedisStore) ClearAll(ctx context.Context) error {
	iter := s.redis.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.redis.Del(ctx, batch...).Err(); err != nil {
				s.fail("clear", "", err)
				return fmt.Errorf("redis: clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		s.fail("clear", "", err)
		return fmt.Errorf("redis: scan: %w", err)
	}
	if len(batch) > 0 {
		if err := s.redis.Del(ctx, batch...).Err(); err != nil {
			s.fail("clear", "", err)
			return fmt.Errorf("redis: clear: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

// Client exposes the connection so the settings store can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.redis
}

func (s *RedisStore) fail(op, url string, err error) {
	metrics.IncStoreError("redis", op)
	s.logger.Warn("store.redis."+op+"_failed",
		zap.String("url", url),
		zap.Error(err))
}
