package replayguard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard backs reservations with Redis SET NX, for multi-replica
// deployments that already run Redis for rate limiting. The key expiry
// doubles as retention pruning.
type RedisGuard struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

// NewRedisGuard wraps an existing client. prefix namespaces the keys;
// empty means "arbiter:consumed:".
func NewRedisGuard(client *redis.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "arbiter:consumed:"
	}
	return &RedisGuard{client: client, prefix: prefix, clock: time.Now}
}

// Reserve implements Guard. SET NX is atomic on the server, so exactly one
// caller wins for a given hash.
func (g *RedisGuard) Reserve(ctx context.Context, acceptanceHash string, expiresAt time.Time) error {
	ttl := expiresAt.Add(RetentionSlack).Sub(g.clock())
	if ttl <= 0 {
		// Already past retention; still reserve briefly so a concurrent
		// caller inside skew grace cannot double-spend.
		ttl = RetentionSlack
	}

	ok, err := g.client.SetNX(ctx, g.prefix+acceptanceHash, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("replayguard: redis reserve: %w", err)
	}
	if !ok {
		return ErrAlreadyUsed
	}
	return nil
}
