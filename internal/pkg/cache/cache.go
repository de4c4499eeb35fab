package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ManuelReschke/OrderFox/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

var (
	client    *redis.Client
	reachable bool
)

// SetupCache initializes the connection to the Redis server used for
// idempotency keys, the job queue and stage counters.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		reachable = false
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		reachable = true
		log.Printf("Successfully connected to Redis cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// IsReachable reports whether the last connection attempt answered the ping.
func IsReachable() bool {
	return client != nil && reachable
}

// Close releases the client connection pool.
func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}
