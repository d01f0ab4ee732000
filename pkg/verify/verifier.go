// Package verify validates the structural, temporal, and cryptographic
// correctness of a signed acceptance against a specific execution payload.
//
// Every gate is a hard stop with its own reason code. The gates run in a
// fixed order and none may be skipped; failures carry no detail beyond the
// code, so the verifier cannot be used as a signature oracle.
package verify

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/arbiter-systems/arbiter/pkg/authority"
	"github.com/arbiter-systems/arbiter/pkg/canonicalize"
	"github.com/arbiter-systems/arbiter/pkg/contracts"
)

// Options configures the verifier. All values are explicit configuration,
// never inferred.
type Options struct {
	// MaxAcceptanceWindow caps expiresAt-issuedAt regardless of what an
	// issuer signed.
	MaxAcceptanceWindow time.Duration
	// ClockSkewGrace widens the temporal check symmetrically on both edges.
	ClockSkewGrace time.Duration
	// TrustedIssuers limits which issuers may appear on acceptances. Empty
	// means any issuer the key registry can verify.
	TrustedIssuers []string
}

// DefaultOptions mirror the deployment defaults.
func DefaultOptions() Options {
	return Options{
		MaxAcceptanceWindow: time.Hour,
		ClockSkewGrace:      30 * time.Second,
	}
}

// Verifier checks acceptances against the authority key registry.
type Verifier struct {
	opts     Options
	resolver authority.Resolver
	fallback authority.LegacyFallback
	secrets  authority.SecretProvider
	trusted  map[string]bool
	clock    func() time.Time
}

// New creates a Verifier. secrets may be nil when HMAC mode is not deployed.
func New(opts Options, resolver authority.Resolver, fallback authority.LegacyFallback, secrets authority.SecretProvider) *Verifier {
	if opts.MaxAcceptanceWindow <= 0 {
		opts.MaxAcceptanceWindow = DefaultOptions().MaxAcceptanceWindow
	}
	var trusted map[string]bool
	if len(opts.TrustedIssuers) > 0 {
		trusted = make(map[string]bool, len(opts.TrustedIssuers))
		for _, iss := range opts.TrustedIssuers {
			trusted[iss] = true
		}
	}
	return &Verifier{
		opts:     opts,
		resolver: resolver,
		fallback: fallback,
		secrets:  secrets,
		trusted:  trusted,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for tests.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

// Result is the outcome of acceptance verification. On failure Reason holds
// the terminal reason code; the hash fields are populated as far as
// computation got, for ledger use.
type Result struct {
	OK             bool
	Reason         contracts.ReasonCode
	IntentHash     string
	ExecuteHash    string
	AcceptanceHash string
}

func (v *Verifier) fail(r Result, reason contracts.ReasonCode) Result {
	r.OK = false
	r.Reason = reason
	return r
}

// Verify runs the gate chain against intent, execution payload, and
// acceptance. Gate order is part of the contract:
// structure, issuer trust, window length, temporal validity, actor binding,
// intent binding, algorithm, key resolution, signature.
func (v *Verifier) Verify(ctx context.Context, intent *contracts.Intent, execute *contracts.ExecutionPayload, acc *contracts.Acceptance) Result {
	var res Result

	// Hashes are computed up front so even denials can be ledgered with
	// the material they were about.
	if intent != nil {
		if h, err := canonicalize.CanonicalHash(intent); err == nil {
			res.IntentHash = h
		}
	}
	if acc != nil {
		if h, err := acc.Hash(); err == nil {
			res.AcceptanceHash = h
		}
	}

	if !intent.Valid() || execute.Empty() {
		return v.fail(res, contracts.ReasonInvalidRequest)
	}
	if acc == nil || !acc.StructurallyComplete() {
		return v.fail(res, contracts.ReasonInvalidAcceptance)
	}

	// Issuer allow-list, when the deployment configures one. A signature
	// from an unlisted issuer is never even checked.
	if v.trusted != nil && !v.trusted[acc.Issuer] {
		return v.fail(res, contracts.ReasonUntrustedIssuer)
	}

	// Window shape: issuedAt strictly before expiresAt, and the span capped
	// even when the issuer misbehaves.
	window := acc.ExpiresAt.Sub(acc.IssuedAt)
	if window <= 0 || window > v.opts.MaxAcceptanceWindow {
		return v.fail(res, contracts.ReasonInvalidWindow)
	}

	// Temporal validity with symmetric skew grace; the window itself is
	// inclusive at both edges.
	now := v.clock()
	grace := v.opts.ClockSkewGrace
	if now.Before(acc.IssuedAt.Add(-grace)) || now.After(acc.ExpiresAt.Add(grace)) {
		return v.fail(res, contracts.ReasonOutsideTimeWindow)
	}

	if acc.ActorID != intent.ActorID {
		return v.fail(res, contracts.ReasonActorMismatch)
	}
	if acc.IntentRef != intent.ActionName {
		return v.fail(res, contracts.ReasonIntentMismatch)
	}

	// Execution binding: canonical hash of the payload exactly as sent.
	var payload any
	if err := json.Unmarshal(execute.Raw, &payload); err != nil {
		return v.fail(res, contracts.ReasonInvalidRequest)
	}
	executeHash, err := canonicalize.CanonicalHash(payload)
	if err != nil {
		return v.fail(res, contracts.ReasonInvalidRequest)
	}
	res.ExecuteHash = executeHash

	if !acc.Algorithm.Supported() {
		return v.fail(res, contracts.ReasonUnsupportedAlgorithm)
	}

	material, err := contracts.BuildSigningMaterial(acc, executeHash)
	if err != nil {
		return v.fail(res, contracts.ReasonInvalidAcceptance)
	}
	sig, err := acc.DecodeSignature()
	if err != nil {
		return v.fail(res, contracts.ReasonInvalidSignature)
	}

	switch acc.Algorithm {
	case contracts.AlgorithmEd25519:
		key, reason := v.resolveKey(ctx, acc, now)
		if reason != "" {
			return v.fail(res, reason)
		}
		if !ed25519.Verify(key.PublicKey, material, sig) {
			return v.fail(res, contracts.ReasonInvalidSignature)
		}

	case contracts.AlgorithmHMACSHA256:
		if v.secrets == nil {
			return v.fail(res, contracts.ReasonUnknownAuthorityKey)
		}
		secret, err := v.secrets.SecretFor(acc.Issuer)
		if err != nil {
			return v.fail(res, contracts.ReasonUnknownAuthorityKey)
		}
		mac := hmac.New(sha256.New, secret)
		mac.Write(material)
		// Constant-time comparison; hmac.Equal is required here.
		if !hmac.Equal(mac.Sum(nil), sig) {
			return v.fail(res, contracts.ReasonInvalidSignature)
		}
	}

	res.OK = true
	res.Reason = contracts.ReasonAcceptanceVerified
	return res
}

// resolveKey resolves the verification key for Ed25519 acceptances,
// applying the legacy fallback when no key id is declared. Any resolution
// failure is a denial; there is no skip-verification path.
func (v *Verifier) resolveKey(ctx context.Context, acc *contracts.Acceptance, now time.Time) (*authority.Key, contracts.ReasonCode) {
	if acc.AuthorityKeyID == "" {
		key := v.fallback.Key()
		if key == nil {
			return nil, contracts.ReasonUnknownAuthorityKey
		}
		return key, ""
	}

	if v.resolver == nil {
		return nil, contracts.ReasonUnknownAuthorityKey
	}
	key, err := v.resolver.Resolve(ctx, acc.AuthorityKeyID)
	if err != nil {
		// Unknown id, unreachable registry, and timeout all land here.
		return nil, contracts.ReasonUnknownAuthorityKey
	}

	if key.Status != authority.StatusActive {
		return nil, contracts.ReasonUnknownAuthorityKey
	}
	if !key.IsUsable(now) {
		return nil, contracts.ReasonKeyOutsideValidity
	}
	return key, ""
}
