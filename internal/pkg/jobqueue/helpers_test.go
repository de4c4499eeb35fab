package jobqueue

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestQueue returns a queue on an in-process Redis with a fixed clock.
func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueue(client, 2, time.Minute)
	q.now = func() time.Time { return now }
	return q, mr, &now
}
