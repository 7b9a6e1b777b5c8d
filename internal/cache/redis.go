package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"safaripay/config"
)

const idempotencyPrefix = "safaripay:idem:"

// Connect opens a Redis client and checks it answers.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisIdempotencyStore shares idempotency keys across server replicas.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

var inFlight = []byte(`{"in_flight":true}`)

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string, ttl time.Duration) (*Response, bool, error) {
	ok, err := s.client.SetNX(ctx, idempotencyPrefix+key, inFlight, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}
	raw, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; let the caller retry.
			return &Response{InFlight: true}, false, nil
		}
		return nil, false, err
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return &out, false, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	resp.InFlight = false
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idempotencyPrefix+key, raw, ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyPrefix+key).Err()
}
