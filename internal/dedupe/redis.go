package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIndex shares fingerprints across processes. SET NX PX gives the
// atomic check-and-insert and Redis expiry does the eviction, so no sweep
// is required.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex creates a Redis-backed index.
func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client, prefix: "leadrouter:dedupe:"}
}

// CheckAndInsert implements Index.
func (r *RedisIndex) CheckAndInsert(ctx context.Context, fp string, window time.Duration) (Result, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+fp, 1, window).Result()
	if err != nil {
		return "", fmt.Errorf("dedupe check %s: %w", fp, err)
	}
	if !ok {
		return Duplicate, nil
	}
	return Fresh, nil
}

// Forget implements Index.
func (r *RedisIndex) Forget(ctx context.Context, fp string) error {
	if err := r.client.Del(ctx, r.prefix+fp).Err(); err != nil {
		return fmt.Errorf("dedupe forget %s: %w", fp, err)
	}
	return nil
}
