package verify

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-systems/arbiter/pkg/authority"
	"github.com/arbiter-systems/arbiter/pkg/contracts"
	"github.com/arbiter-systems/arbiter/pkg/issuer"
)

type fixture struct {
	verifier *Verifier
	resolver *authority.StaticResolver
	issue    *issuer.Ed25519Issuer
	intent   *contracts.Intent
	execute  *contracts.ExecutionPayload
	now      time.Time
	keyID    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := authority.NewStaticResolver()
	resolver.Add(&authority.Key{
		ID:        "key-1",
		PublicKey: pub,
		ValidFrom: now.Add(-time.Hour),
		Status:    authority.StatusActive,
	})

	f := &fixture{
		resolver: resolver,
		issue:    issuer.NewEd25519Issuer(priv),
		intent:   &contracts.Intent{ActorID: "A1", ActionName: "transfer"},
		execute:  &contracts.ExecutionPayload{Raw: json.RawMessage(`{"amount":100,"to":"X"}`)},
		now:      now,
		keyID:    "key-1",
	}
	// Clock reads f.now so tests can move time around.
	f.verifier = New(Options{MaxAcceptanceWindow: time.Hour, ClockSkewGrace: 0},
		resolver, authority.LegacyFallback{}, nil).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) acceptance(t *testing.T) *contracts.Acceptance {
	t.Helper()
	acc, err := f.issue.Issue(issuer.Request{
		Issuer:         "approvals-svc",
		ActorID:        "A1",
		IntentRef:      "transfer",
		AuthorityKeyID: f.keyID,
		IssuedAt:       f.now.Add(-time.Minute),
		TTL:            5 * time.Minute,
	}, f.execute.Raw)
	require.NoError(t, err)
	return acc
}

func TestVerify_HappyPath(t *testing.T) {
	f := newFixture(t)
	res := f.verifier.Verify(context.Background(), f.intent, f.execute, f.acceptance(t))

	assert.True(t, res.OK)
	assert.Equal(t, contracts.ReasonAcceptanceVerified, res.Reason)
	assert.NotEmpty(t, res.IntentHash)
	assert.NotEmpty(t, res.ExecuteHash)
	assert.NotEmpty(t, res.AcceptanceHash)
}

func TestVerify_MissingInputs(t *testing.T) {
	f := newFixture(t)

	res := f.verifier.Verify(context.Background(), nil, f.execute, f.acceptance(t))
	assert.Equal(t, contracts.ReasonInvalidRequest, res.Reason)

	res = f.verifier.Verify(context.Background(), f.intent, &contracts.ExecutionPayload{}, f.acceptance(t))
	assert.Equal(t, contracts.ReasonInvalidRequest, res.Reason)

	res = f.verifier.Verify(context.Background(), f.intent, f.execute, nil)
	assert.Equal(t, contracts.ReasonInvalidAcceptance, res.Reason)

	acc := f.acceptance(t)
	acc.Signature = ""
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonInvalidAcceptance, res.Reason)
}

func TestVerify_TrustedIssuers(t *testing.T) {
	f := newFixture(t)

	// Allow-list naming the issuer: verification proceeds as usual.
	f.verifier = New(Options{MaxAcceptanceWindow: time.Hour, TrustedIssuers: []string{"approvals-svc"}},
		f.resolver, authority.LegacyFallback{}, nil).
		WithClock(func() time.Time { return f.now })
	res := f.verifier.Verify(context.Background(), f.intent, f.execute, f.acceptance(t))
	assert.True(t, res.OK)

	// Allow-list without the issuer: denied before any signature check,
	// even though the signature itself is valid.
	f.verifier = New(Options{MaxAcceptanceWindow: time.Hour, TrustedIssuers: []string{"other-svc"}},
		f.resolver, authority.LegacyFallback{}, nil).
		WithClock(func() time.Time { return f.now })
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, f.acceptance(t))
	assert.False(t, res.OK)
	assert.Equal(t, contracts.ReasonUntrustedIssuer, res.Reason)

	// No allow-list configured: any issuer the registry can verify.
	f.verifier = New(Options{MaxAcceptanceWindow: time.Hour},
		f.resolver, authority.LegacyFallback{}, nil).
		WithClock(func() time.Time { return f.now })
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, f.acceptance(t))
	assert.True(t, res.OK)
}

func TestVerify_WindowShape(t *testing.T) {
	f := newFixture(t)

	// Inverted window.
	acc := f.acceptance(t)
	acc.IssuedAt, acc.ExpiresAt = acc.ExpiresAt, acc.IssuedAt
	res := f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonInvalidWindow, res.Reason)

	// Window longer than the cap, even though now is inside it.
	acc = f.acceptance(t)
	acc.ExpiresAt = acc.IssuedAt.Add(48 * time.Hour)
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonInvalidWindow, res.Reason)
}

func TestVerify_ExpiryBoundaries(t *testing.T) {
	f := newFixture(t)
	acc := f.acceptance(t)

	// now == expiresAt - 1ms: eligible (fails later on signature only if
	// tampered; here it's fully valid).
	f.now = acc.ExpiresAt.Add(-time.Millisecond)
	res := f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.True(t, res.OK, "1ms before expiry must be eligible")

	// now == expiresAt: inclusive edge.
	f.now = acc.ExpiresAt
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.True(t, res.OK, "exact expiry instant is inclusive")

	// now == expiresAt + 1ms: denied.
	f.now = acc.ExpiresAt.Add(time.Millisecond)
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonOutsideTimeWindow, res.Reason)

	// Before issuedAt: denied.
	f.now = acc.IssuedAt.Add(-time.Millisecond)
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonOutsideTimeWindow, res.Reason)
}

func TestVerify_ClockSkewGrace(t *testing.T) {
	f := newFixture(t)
	f.verifier.opts.ClockSkewGrace = 30 * time.Second
	acc := f.acceptance(t)

	// 10s past expiry but inside the grace margin.
	f.now = acc.ExpiresAt.Add(10 * time.Second)
	res := f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.True(t, res.OK)

	// 10s before issuance, also inside grace.
	f.now = acc.IssuedAt.Add(-10 * time.Second)
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.True(t, res.OK)

	// Beyond grace.
	f.now = acc.ExpiresAt.Add(31 * time.Second)
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonOutsideTimeWindow, res.Reason)
}

func TestVerify_Bindings(t *testing.T) {
	f := newFixture(t)

	acc := f.acceptance(t)
	acc.ActorID = "A2"
	res := f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonActorMismatch, res.Reason)

	acc = f.acceptance(t)
	acc.IntentRef = "delete-everything"
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonIntentMismatch, res.Reason)
}

func TestVerify_ExecutePayloadTamper(t *testing.T) {
	f := newFixture(t)
	acc := f.acceptance(t)

	// Signature was issued over {"amount":100,...}; any byte change to the
	// payload must flip the outcome to a signature denial.
	tampered := &contracts.ExecutionPayload{Raw: json.RawMessage(`{"amount":101,"to":"X"}`)}
	res := f.verifier.Verify(context.Background(), f.intent, tampered, acc)
	assert.False(t, res.OK)
	assert.Equal(t, contracts.ReasonInvalidSignature, res.Reason)
}

func TestVerify_PayloadKeyOrderIrrelevant(t *testing.T) {
	f := newFixture(t)
	acc := f.acceptance(t)

	// Same payload, different key order: canonically identical, so the
	// signature still verifies.
	reordered := &contracts.ExecutionPayload{Raw: json.RawMessage(`{"to":"X","amount":100}`)}
	res := f.verifier.Verify(context.Background(), f.intent, reordered, acc)
	assert.True(t, res.OK)
}

func TestVerify_UnsupportedAlgorithm(t *testing.T) {
	f := newFixture(t)
	acc := f.acceptance(t)
	acc.Algorithm = "rsa-pss"
	res := f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonUnsupportedAlgorithm, res.Reason)
}

func TestVerify_KeyResolution(t *testing.T) {
	f := newFixture(t)

	// Unknown key id.
	acc := f.acceptance(t)
	acc.AuthorityKeyID = "ghost"
	res := f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonUnknownAuthorityKey, res.Reason)

	// Revoked key.
	f.resolver.Revoke("key-1")
	acc = f.acceptance(t)
	res = f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, contracts.ReasonUnknownAuthorityKey, res.Reason)
}

func TestVerify_KeyValidityWindow(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	resolver := authority.NewStaticResolver()
	resolver.Add(&authority.Key{
		ID:         "old-key",
		PublicKey:  pub,
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: &expired,
		Status:     authority.StatusActive,
	})

	v := New(Options{MaxAcceptanceWindow: time.Hour}, resolver, authority.LegacyFallback{}, nil).
		WithClock(func() time.Time { return now })

	execute := json.RawMessage(`{"op":"noop"}`)
	acc, err := issuer.NewEd25519Issuer(priv).Issue(issuer.Request{
		Issuer: "svc", ActorID: "A1", IntentRef: "noop",
		AuthorityKeyID: "old-key", IssuedAt: now.Add(-time.Minute), TTL: 5 * time.Minute,
	}, execute)
	require.NoError(t, err)

	res := v.Verify(context.Background(),
		&contracts.Intent{ActorID: "A1", ActionName: "noop"},
		&contracts.ExecutionPayload{Raw: execute}, acc)
	assert.Equal(t, contracts.ReasonKeyOutsideValidity, res.Reason)
}

func TestVerify_LegacyFallback(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	execute := json.RawMessage(`{"op":"noop"}`)
	acc, err := issuer.NewEd25519Issuer(priv).Issue(issuer.Request{
		Issuer: "legacy-svc", ActorID: "A1", IntentRef: "noop",
		IssuedAt: now.Add(-time.Minute), TTL: 5 * time.Minute,
	}, execute)
	require.NoError(t, err)
	require.Empty(t, acc.AuthorityKeyID)

	intent := &contracts.Intent{ActorID: "A1", ActionName: "noop"}
	payload := &contracts.ExecutionPayload{Raw: execute}

	// Enabled: the static key verifies.
	enabled := New(Options{MaxAcceptanceWindow: time.Hour}, authority.NewStaticResolver(),
		authority.LegacyFallback{Enabled: true, PublicKey: pub}, nil).
		WithClock(func() time.Time { return now })
	res := enabled.Verify(context.Background(), intent, payload, acc)
	assert.True(t, res.OK)

	// Disabled: missing key id is a hard denial.
	disabled := New(Options{MaxAcceptanceWindow: time.Hour}, authority.NewStaticResolver(),
		authority.LegacyFallback{Enabled: false, PublicKey: pub}, nil).
		WithClock(func() time.Time { return now })
	res = disabled.Verify(context.Background(), intent, payload, acc)
	assert.Equal(t, contracts.ReasonUnknownAuthorityKey, res.Reason)
}

func TestVerify_HMACMode(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	secrets := authority.StaticSecretProvider{"demo-issuer": []byte("0123456789abcdef0123456789abcdef")}

	v := New(Options{MaxAcceptanceWindow: time.Hour}, authority.NewStaticResolver(),
		authority.LegacyFallback{}, secrets).
		WithClock(func() time.Time { return now })

	execute := json.RawMessage(`{"op":"noop"}`)
	acc, err := issuer.NewHMACIssuer(secrets).Issue(issuer.Request{
		Issuer: "demo-issuer", ActorID: "A1", IntentRef: "noop",
		IssuedAt: now.Add(-time.Minute), TTL: 5 * time.Minute,
	}, execute)
	require.NoError(t, err)

	intent := &contracts.Intent{ActorID: "A1", ActionName: "noop"}
	res := v.Verify(context.Background(), intent, &contracts.ExecutionPayload{Raw: execute}, acc)
	assert.True(t, res.OK)

	// Wrong issuer: no secret, denial.
	acc2 := *acc
	acc2.Issuer = "other-issuer"
	res = v.Verify(context.Background(), intent, &contracts.ExecutionPayload{Raw: execute}, &acc2)
	assert.Equal(t, contracts.ReasonUnknownAuthorityKey, res.Reason)

	// Tampered payload under HMAC: signature denial.
	res = v.Verify(context.Background(), intent, &contracts.ExecutionPayload{Raw: json.RawMessage(`{"op":"rm-rf"}`)}, acc)
	assert.Equal(t, contracts.ReasonInvalidSignature, res.Reason)
}

// failingResolver simulates a registry outage.
type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (*authority.Key, error) {
	return nil, errors.New("registry unreachable")
}

func TestVerify_RegistryOutageFailsClosed(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	v := New(Options{MaxAcceptanceWindow: time.Hour}, failingResolver{}, authority.LegacyFallback{}, nil).
		WithClock(func() time.Time { return now })

	execute := json.RawMessage(`{"op":"noop"}`)
	acc, err := issuer.NewEd25519Issuer(priv).Issue(issuer.Request{
		Issuer: "svc", ActorID: "A1", IntentRef: "noop",
		AuthorityKeyID: "key-1", IssuedAt: now.Add(-time.Minute), TTL: 5 * time.Minute,
	}, execute)
	require.NoError(t, err)

	res := v.Verify(context.Background(),
		&contracts.Intent{ActorID: "A1", ActionName: "noop"},
		&contracts.ExecutionPayload{Raw: execute}, acc)
	assert.False(t, res.OK)
	assert.Equal(t, contracts.ReasonUnknownAuthorityKey, res.Reason)
}

func TestVerify_Deterministic(t *testing.T) {
	f := newFixture(t)
	acc := f.acceptance(t)

	r1 := f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	r2 := f.verifier.Verify(context.Background(), f.intent, f.execute, acc)
	assert.Equal(t, r1, r2)
}
