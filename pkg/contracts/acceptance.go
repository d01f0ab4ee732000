package contracts

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/arbiter-systems/arbiter/pkg/canonicalize"
)

// Algorithm identifies the signature scheme of an acceptance.
type Algorithm string

const (
	// AlgorithmEd25519 is the preferred algorithm.
	AlgorithmEd25519 Algorithm = "ed25519"
	// AlgorithmHMACSHA256 is a shared-secret mode retained for
	// single-issuer and demo deployments only.
	AlgorithmHMACSHA256 Algorithm = "hmac-sha256"
)

// Supported reports whether the algorithm is one the kernel verifies.
func (a Algorithm) Supported() bool {
	return a == AlgorithmEd25519 || a == AlgorithmHMACSHA256
}

// Acceptance is a signed authorization artifact created by an external
// authority. It is consumed exactly once.
type Acceptance struct {
	Issuer         string    `json:"issuer"`
	ActorID        string    `json:"actorId"`
	IntentRef      string    `json:"intentRef"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	AuthorityKeyID string    `json:"authorityKeyId,omitempty"`
	Algorithm      Algorithm `json:"algorithm"`
	Signature      string    `json:"signature"`
}

// StructurallyComplete reports whether all required fields are present and
// non-empty. AuthorityKeyID is optional (legacy fallback path).
func (a *Acceptance) StructurallyComplete() bool {
	return a != nil &&
		a.Issuer != "" &&
		a.ActorID != "" &&
		a.IntentRef != "" &&
		!a.IssuedAt.IsZero() &&
		!a.ExpiresAt.IsZero() &&
		a.Algorithm != "" &&
		a.Signature != ""
}

// DecodeSignature decodes the signature, accepting standard and URL-safe
// base64 with or without padding, per the published contract.
func (a *Acceptance) DecodeSignature() ([]byte, error) {
	s := strings.TrimSpace(a.Signature)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("acceptance signature is not valid base64")
}

// CanonicalTime renders a timestamp in the fixed form used inside signing
// material: RFC 3339 with nanoseconds, UTC. Issuer and verifier share this
// helper; any drift here invalidates every signature.
func CanonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// SigningMaterial is the canonical structure an acceptance signature covers.
// It binds the acceptance to the exact execution payload via ExecuteHash, so
// changing a single byte of the payload after issuance invalidates the
// signature.
type SigningMaterial struct {
	Issuer      string `json:"issuer"`
	ActorID     string `json:"actorId"`
	IntentRef   string `json:"intentRef"`
	ExecuteHash string `json:"executeHash"`
	IssuedAt    string `json:"issuedAt"`
	ExpiresAt   string `json:"expiresAt"`
}

// BuildSigningMaterial constructs the canonical bytes that are signed and
// verified. There is exactly one implementation of this on purpose.
func BuildSigningMaterial(a *Acceptance, executeHash string) ([]byte, error) {
	m := SigningMaterial{
		Issuer:      a.Issuer,
		ActorID:     a.ActorID,
		IntentRef:   a.IntentRef,
		ExecuteHash: executeHash,
		IssuedAt:    CanonicalTime(a.IssuedAt),
		ExpiresAt:   CanonicalTime(a.ExpiresAt),
	}
	b, err := canonicalize.JCS(m)
	if err != nil {
		return nil, fmt.Errorf("signing material: %w", err)
	}
	return b, nil
}

// Hash returns the sha256 hash of the full acceptance artifact as presented,
// used as the replay-guard key and the ledger's acceptanceHash.
func (a *Acceptance) Hash() (string, error) {
	return canonicalize.CanonicalHash(a)
}
