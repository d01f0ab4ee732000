package authority

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genKey(t *testing.T, id string, status Status) *Key {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &Key{
		ID:               id,
		OwnerPrincipalID: "p1",
		OrganizationID:   "org1",
		PublicKey:        pub,
		ValidFrom:        time.Now().Add(-time.Hour),
		Status:           status,
	}
}

func TestKey_IsUsable(t *testing.T) {
	now := time.Now()
	until := now.Add(time.Hour)

	cases := []struct {
		name string
		key  Key
		want bool
	}{
		{"active in window", Key{Status: StatusActive, ValidFrom: now.Add(-time.Minute)}, true},
		{"revoked", Key{Status: StatusRevoked, ValidFrom: now.Add(-time.Minute)}, false},
		{"not yet valid", Key{Status: StatusActive, ValidFrom: now.Add(time.Minute)}, false},
		{"expired", Key{Status: StatusActive, ValidFrom: now.Add(-2 * time.Hour), ValidUntil: ptr(now.Add(-time.Hour))}, false},
		{"bounded still valid", Key{Status: StatusActive, ValidFrom: now.Add(-time.Hour), ValidUntil: &until}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.key.IsUsable(now))
		})
	}

	var nilKey *Key
	assert.False(t, nilKey.IsUsable(now))
}

func ptr(t time.Time) *time.Time { return &t }

func TestStaticResolver(t *testing.T) {
	ctx := context.Background()
	r := NewStaticResolver()
	k := genKey(t, "k1", StatusActive)
	r.Add(k)

	got, err := r.Resolve(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", got.ID)

	_, err = r.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	r.Revoke("k1")
	got, err = r.Resolve(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, got.Status)
}

// countingResolver counts pass-throughs to verify cache behavior.
type countingResolver struct {
	inner *StaticResolver
	calls int
}

func (c *countingResolver) Resolve(ctx context.Context, keyID string) (*Key, error) {
	c.calls++
	return c.inner.Resolve(ctx, keyID)
}

func TestCachingResolver_TTL(t *testing.T) {
	ctx := context.Background()
	inner := NewStaticResolver()
	inner.Add(genKey(t, "k1", StatusActive))
	counting := &countingResolver{inner: inner}

	now := time.Now()
	c := NewCachingResolver(counting, 30*time.Second).WithClock(func() time.Time { return now })

	_, err := c.Resolve(ctx, "k1")
	require.NoError(t, err)
	_, err = c.Resolve(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls, "second lookup should hit cache")

	// Revocation is invisible until the TTL lapses.
	inner.Revoke("k1")
	got, err := c.Resolve(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	now = now.Add(31 * time.Second)
	got, err = c.Resolve(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, got.Status)
	assert.Equal(t, 2, counting.calls)
}

func TestCachingResolver_CachesNotFound(t *testing.T) {
	ctx := context.Background()
	inner := NewStaticResolver()
	counting := &countingResolver{inner: inner}
	now := time.Now()
	c := NewCachingResolver(counting, 30*time.Second).WithClock(func() time.Time { return now })

	_, err := c.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = c.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 1, counting.calls)
}

func TestCachingResolver_ClampsTTL(t *testing.T) {
	c := NewCachingResolver(NewStaticResolver(), 10*time.Minute)
	assert.LessOrEqual(t, c.ttl, MaxCacheTTL)
}

func TestLegacyFallback(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	enabled := LegacyFallback{Enabled: true, PublicKey: pub}
	k := enabled.Key()
	require.NotNil(t, k)
	assert.True(t, k.IsUsable(time.Now()))

	disabled := LegacyFallback{Enabled: false, PublicKey: pub}
	assert.Nil(t, disabled.Key())

	misconfigured := LegacyFallback{Enabled: true}
	assert.Nil(t, misconfigured.Key())
}

func TestHKDFSecretProvider(t *testing.T) {
	master := []byte("0123456789abcdef0123456789abcdef")

	p1, err := NewHKDFSecretProvider(master)
	require.NoError(t, err)
	p2, err := NewHKDFSecretProvider(master)
	require.NoError(t, err)

	s1, err := p1.SecretFor("issuer-a")
	require.NoError(t, err)
	s2, err := p2.SecretFor("issuer-a")
	require.NoError(t, err)
	assert.Equal(t, s1, s2, "derivation must be deterministic")
	assert.Len(t, s1, 32)

	other, err := p1.SecretFor("issuer-b")
	require.NoError(t, err)
	assert.NotEqual(t, s1, other, "issuers must not share secrets")

	_, err = p1.SecretFor("")
	assert.Error(t, err)

	_, err = NewHKDFSecretProvider([]byte("short"))
	assert.Error(t, err)
}
