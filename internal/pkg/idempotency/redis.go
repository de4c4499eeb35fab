package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const RedisKeyPrefix = "webhook:processed:"

// RedisGuard stores processed ids as expiring Redis keys, shared by every
// instance that talks to the same Redis.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	id, err := normalizeID(eventID)
	if err != nil {
		return false, err
	}
	n, err := g.client.Exists(ctx, RedisKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) MarkProcessed(ctx context.Context, eventID string) error {
	id, err := normalizeID(eventID)
	if err != nil {
		return err
	}
	if err := g.client.Set(ctx, RedisKeyPrefix+id, time.Now().UTC().Format(time.RFC3339), g.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (g *RedisGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	id, err := normalizeID(eventID)
	if err != nil {
		return false, err
	}
	// SET NX keeps check and mark in one round trip.
	ok, err := g.client.SetNX(ctx, RedisKeyPrefix+id, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis set nx failed: %w", err)
	}
	return ok, nil
}
