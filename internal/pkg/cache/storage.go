package cache

import (
	"log"
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"
)

// limiterDatabase keeps Fiber middleware keys away from DB 0.
const limiterDatabase = 1

// NewFiberStorage returns a Redis backed fiber.Storage on the cache server,
// or nil when the cache is unreachable so middleware keeps its memory store.
func NewFiberStorage() fiber.Storage {
	if !IsReachable() {
		log.Printf("Redis unreachable, middleware storage stays in memory")
		return nil
	}

	host := "localhost"
	port := 6379
	opts := client.Options()
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
