package replayguard

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is a process-local guard for single-node deployments and
// tests. Entries are evicted lazily once the underlying acceptance can no
// longer verify anyway.
type MemoryGuard struct {
	mu    sync.Mutex
	used  map[string]time.Time
	clock func() time.Time
}

// NewMemoryGuard creates an empty in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		used:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// WithClock overrides the clock for tests.
func (g *MemoryGuard) WithClock(clock func() time.Time) *MemoryGuard {
	g.clock = clock
	return g
}

// Reserve implements Guard. The map mutation happens under the lock, so
// the check and the set are one atomic step.
func (g *MemoryGuard) Reserve(_ context.Context, acceptanceHash string, expiresAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	g.evictLocked(now)

	if _, ok := g.used[acceptanceHash]; ok {
		return ErrAlreadyUsed
	}
	g.used[acceptanceHash] = expiresAt.Add(RetentionSlack)
	return nil
}

// Len reports live reservations, for metrics.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.used)
}

func (g *MemoryGuard) evictLocked(now time.Time) {
	for h, until := range g.used {
		if now.After(until) {
			delete(g.used, h)
		}
	}
}
