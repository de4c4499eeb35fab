package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is a process-local guard. It does not survive restarts and is not
// shared between instances; use it for single-instance setups and as the
// fallback when the durable backend is unreachable.
type MemoryGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryGuard creates a guard whose records expire after ttl. A ttl <= 0
// keeps records for the lifetime of the process.
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (g *MemoryGuard) HasProcessed(_ context.Context, eventID string) (bool, error) {
	id, err := normalizeID(eventID)
	if err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.liveLocked(id), nil
}

func (g *MemoryGuard) MarkProcessed(_ context.Context, eventID string) error {
	id, err := normalizeID(eventID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.markLocked(id)
	return nil
}

func (g *MemoryGuard) Claim(_ context.Context, eventID string) (bool, error) {
	id, err := normalizeID(eventID)
	if err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.liveLocked(id) {
		return false, nil
	}
	g.markLocked(id)
	return true, nil
}

func (g *MemoryGuard) liveLocked(id string) bool {
	expires, ok := g.seen[id]
	if !ok {
		return false
	}
	if !expires.IsZero() && !g.now().Before(expires) {
		delete(g.seen, id)
		return false
	}
	return true
}

func (g *MemoryGuard) markLocked(id string) {
	var expires time.Time
	if g.ttl > 0 {
		expires = g.now().Add(g.ttl)
	}
	g.seen[id] = expires
}
