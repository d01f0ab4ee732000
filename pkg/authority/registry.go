package authority

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"
)

// Resolver resolves an authority key id to a Key. Implementations must
// return ErrKeyNotFound for unknown ids; transport errors propagate as-is
// and are treated as denials upstream.
type Resolver interface {
	Resolve(ctx context.Context, keyID string) (*Key, error)
}

// MaxCacheTTL bounds how stale a revocation may be observed.
const MaxCacheTTL = 60 * time.Second

type cachedKey struct {
	key     *Key
	err     error
	fetched time.Time
}

// CachingResolver is a read-through cache over a Resolver with a fixed TTL.
// Both hits and not-found results are cached, so a flapping registry cannot
// alternate a revoked key back in within the TTL.
type CachingResolver struct {
	inner Resolver
	ttl   time.Duration
	clock func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedKey
}

// NewCachingResolver wraps inner with a TTL cache. TTLs above MaxCacheTTL
// are clamped; zero or negative TTL disables caching in all but name.
func NewCachingResolver(inner Resolver, ttl time.Duration) *CachingResolver {
	if ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}
	return &CachingResolver{
		inner: inner,
		ttl:   ttl,
		clock: time.Now,
		cache: make(map[string]cachedKey),
	}
}

// WithClock overrides the clock for tests.
func (c *CachingResolver) WithClock(clock func() time.Time) *CachingResolver {
	c.clock = clock
	return c
}

// Resolve returns the cached key when fresh, otherwise consults the inner
// resolver. Transport failures are not cached: the next request retries.
func (c *CachingResolver) Resolve(ctx context.Context, keyID string) (*Key, error) {
	now := c.clock()

	c.mu.RLock()
	entry, ok := c.cache[keyID]
	c.mu.RUnlock()
	if ok && now.Sub(entry.fetched) < c.ttl {
		return entry.key, entry.err
	}

	key, err := c.inner.Resolve(ctx, keyID)
	if err == nil || err == ErrKeyNotFound {
		c.mu.Lock()
		c.cache[keyID] = cachedKey{key: key, err: err, fetched: now}
		c.mu.Unlock()
	}
	return key, err
}

// StaticResolver serves a fixed key set. It backs the legacy single-key
// fallback and tests.
type StaticResolver struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewStaticResolver creates an empty static resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{keys: make(map[string]*Key)}
}

// Add registers a key.
func (s *StaticResolver) Add(k *Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
}

// Revoke marks a key revoked without removing it, mirroring how the
// key-management process rotates keys out.
func (s *StaticResolver) Revoke(keyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[keyID]; ok {
		clone := *k
		clone.Status = StatusRevoked
		s.keys[keyID] = &clone
	}
}

// Resolve implements Resolver.
func (s *StaticResolver) Resolve(_ context.Context, keyID string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	clone := *k
	return &clone, nil
}

// LegacyFallback holds the single statically configured public key used when
// an acceptance carries no authorityKeyId. It weakens rotation guarantees
// and must be explicitly enabled.
type LegacyFallback struct {
	Enabled   bool
	PublicKey ed25519.PublicKey
}

// Key materializes the fallback as a synthetic always-active Key, or nil if
// the fallback is disabled or unconfigured.
func (l LegacyFallback) Key() *Key {
	if !l.Enabled || len(l.PublicKey) != ed25519.PublicKeySize {
		return nil
	}
	return &Key{
		ID:        "legacy-static",
		PublicKey: l.PublicKey,
		Status:    StatusActive,
	}
}
