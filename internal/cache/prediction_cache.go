// Package cache keeps predicted brain ages in Redis so that re-uploading the
// same scan skips decoding and inference.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

type PredictionCache struct {
	client    *redisv9.Client
	namespace string
	ttl       time.Duration
}

// NewPredictionCache scopes keys by namespace, which must change whenever
// the model artifact does. Keys are upload digests.
func NewPredictionCache(client *redisv9.Client, namespace string, ttl time.Duration) *PredictionCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PredictionCache{client: client, namespace: namespace, ttl: ttl}
}

func (c *PredictionCache) Get(ctx context.Context, key string) (float64, bool, error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Result()
	if err == redisv9.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get prediction failed: %w", err)
	}
	age, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cached prediction failed: %w", err)
	}
	return age, true, nil
}

func (c *PredictionCache) Set(ctx context.Context, key string, age float64) error {
	value := strconv.FormatFloat(age, 'g', -1, 64)
	if err := c.client.Set(ctx, c.redisKey(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set prediction failed: %w", err)
	}
	return nil
}

func (c *PredictionCache) redisKey(key string) string {
	return fmt.Sprintf("brainage:prediction:%s:%s", c.namespace, key)
}
