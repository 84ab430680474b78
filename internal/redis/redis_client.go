package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/confera-app/backend/internal/config"
)

// Client wraps go-redis with nil-safe degradation: when Redis is down
// or unconfigured every operation returns ErrNotConnected and callers
// fall back to their in-memory paths.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

var ErrNotConnected = fmt.Errorf("redis not connected")

func NewClient(cfg *config.RedisConfig) *Client {
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logrus.WithError(err).Warn("Failed to connect to Redis, running with in-memory fallbacks")
		return &Client{client: nil, ctx: ctx}
	}

	logrus.Info("Successfully connected to Redis")
	return &Client{client: rdb, ctx: ctx}
}

// IsConnected reports whether the underlying connection is usable.
func (r *Client) IsConnected() bool {
	if r.client == nil {
		return false
	}
	_, err := r.client.Ping(r.ctx).Result()
	return err == nil
}

// Set stores a JSON-encoded value with expiration.
func (r *Client) Set(key string, value interface{}, expiration time.Duration) error {
	if r.client == nil {
		return ErrNotConnected
	}

	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(r.ctx, key, jsonValue, expiration).Err()
}

// Get retrieves a JSON-encoded value by key.
func (r *Client) Get(key string, dest interface{}) error {
	if r.client == nil {
		return ErrNotConnected
	}

	val, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// IsNil reports whether err is the go-redis missing-key sentinel.
func IsNil(err error) bool {
	return err == redis.Nil
}

// Delete removes keys.
func (r *Client) Delete(keys ...string) error {
	if r.client == nil {
		return ErrNotConnected
	}
	return r.client.Del(r.ctx, keys...).Err()
}

// Keys returns all keys matching a pattern.
func (r *Client) Keys(pattern string) ([]string, error) {
	if r.client == nil {
		return nil, ErrNotConnected
	}
	return r.client.Keys(r.ctx, pattern).Result()
}

// HSet stores a field in a hash.
func (r *Client) HSet(key, field string, value interface{}) error {
	if r.client == nil {
		return ErrNotConnected
	}

	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.HSet(r.ctx, key, field, jsonValue).Err()
}

// HGet retrieves a field from a hash.
func (r *Client) HGet(key, field string, dest interface{}) error {
	if r.client == nil {
		return ErrNotConnected
	}

	val, err := r.client.HGet(r.ctx, key, field).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// HGetAll retrieves all fields from a hash.
func (r *Client) HGetAll(key string) (map[string]string, error) {
	if r.client == nil {
		return nil, ErrNotConnected
	}
	return r.client.HGetAll(r.ctx, key).Result()
}

// HDel removes a field from a hash.
func (r *Client) HDel(key, field string) error {
	if r.client == nil {
		return ErrNotConnected
	}
	return r.client.HDel(r.ctx, key, field).Err()
}

// Expire sets expiration for a key.
func (r *Client) Expire(key string, expiration time.Duration) error {
	if r.client == nil {
		return ErrNotConnected
	}
	return r.client.Expire(r.ctx, key, expiration).Err()
}

// Incr atomically increments a counter and returns the new value.
func (r *Client) Incr(key string) (int64, error) {
	if r.client == nil {
		return 0, ErrNotConnected
	}
	return r.client.Incr(r.ctx, key).Result()
}

// RPush appends raw values to a list.
func (r *Client) RPush(ctx context.Context, key string, values ...interface{}) error {
	if r.client == nil {
		return ErrNotConnected
	}
	return r.client.RPush(ctx, key, values...).Err()
}

// BLPop blocks until an element is available on one of the lists.
func (r *Client) BLPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error) {
	if r.client == nil {
		return nil, ErrNotConnected
	}
	return r.client.BLPop(ctx, timeout, keys...).Result()
}

// LRem removes occurrences of value from a list.
func (r *Client) LRem(ctx context.Context, key string, count int64, value interface{}) error {
	if r.client == nil {
		return ErrNotConnected
	}
	return r.client.LRem(ctx, key, count, value).Err()
}

// ZAdd adds a member with score to a sorted set.
func (r *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if r.client == nil {
		return ErrNotConnected
	}
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRangeByScore returns members with scores in [min, max].
func (r *Client) ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error) {
	if r.client == nil {
		return nil, ErrNotConnected
	}
	return r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
}

// ZRem removes members from a sorted set.
func (r *Client) ZRem(ctx context.Context, key string, members ...interface{}) error {
	if r.client == nil {
		return ErrNotConnected
	}
	return r.client.ZRem(ctx, key, members...).Err()
}

// ZRemRangeByScore removes members with scores in [min, max].
func (r *Client) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	if r.client == nil {
		return ErrNotConnected
	}
	return r.client.ZRemRangeByScore(ctx, key, min, max).Err()
}

// ZCard returns the cardinality of a sorted set.
func (r *Client) ZCard(ctx context.Context, key string) (int64, error) {
	if r.client == nil {
		return 0, ErrNotConnected
	}
	return r.client.ZCard(ctx, key).Result()
}

// Close closes the Redis connection.
func (r *Client) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
