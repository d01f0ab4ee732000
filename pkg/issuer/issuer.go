// Package issuer creates signed acceptance artifacts. It is the signing
// counterpart of pkg/verify and deliberately shares the same canonical
// material builder; there is no second implementation to drift.
//
// In production issuance happens in an external approval service; this
// package backs the CLI tooling, demo deployments, and tests.
package issuer

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbiter-systems/arbiter/pkg/authority"
	"github.com/arbiter-systems/arbiter/pkg/canonicalize"
	"github.com/arbiter-systems/arbiter/pkg/contracts"
)

// Request describes the acceptance to issue.
type Request struct {
	Issuer         string
	ActorID        string
	IntentRef      string
	AuthorityKeyID string
	IssuedAt       time.Time
	TTL            time.Duration
}

// Ed25519Issuer signs acceptances with an Ed25519 private key.
type Ed25519Issuer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Issuer wraps a private key.
func NewEd25519Issuer(priv ed25519.PrivateKey) *Ed25519Issuer {
	return &Ed25519Issuer{priv: priv}
}

// Issue builds and signs an acceptance bound to the given execution payload.
func (i *Ed25519Issuer) Issue(req Request, executePayload []byte) (*contracts.Acceptance, error) {
	acc, material, err := prepare(req, executePayload, contracts.AlgorithmEd25519)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(i.priv, material)
	acc.Signature = base64.StdEncoding.EncodeToString(sig)
	return acc, nil
}

// HMACIssuer signs acceptances with a per-issuer shared secret.
type HMACIssuer struct {
	secrets authority.SecretProvider
}

// NewHMACIssuer wraps a secret provider (typically HKDF-derived).
func NewHMACIssuer(secrets authority.SecretProvider) *HMACIssuer {
	return &HMACIssuer{secrets: secrets}
}

// Issue builds and signs an acceptance in shared-secret mode.
func (i *HMACIssuer) Issue(req Request, executePayload []byte) (*contracts.Acceptance, error) {
	acc, material, err := prepare(req, executePayload, contracts.AlgorithmHMACSHA256)
	if err != nil {
		return nil, err
	}
	secret, err := i.secrets.SecretFor(req.Issuer)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(material)
	acc.Signature = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return acc, nil
}

func prepare(req Request, executePayload []byte, alg contracts.Algorithm) (*contracts.Acceptance, []byte, error) {
	if req.Issuer == "" || req.ActorID == "" || req.IntentRef == "" {
		return nil, nil, fmt.Errorf("issuer: issuer, actorId, and intentRef are required")
	}
	issuedAt := req.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	var payload any
	if err := json.Unmarshal(executePayload, &payload); err != nil {
		return nil, nil, fmt.Errorf("issuer: execute payload is not valid JSON: %w", err)
	}
	executeHash, err := canonicalize.CanonicalHash(payload)
	if err != nil {
		return nil, nil, err
	}

	acc := &contracts.Acceptance{
		Issuer:         req.Issuer,
		ActorID:        req.ActorID,
		IntentRef:      req.IntentRef,
		IssuedAt:       issuedAt,
		ExpiresAt:      issuedAt.Add(ttl),
		AuthorityKeyID: req.AuthorityKeyID,
		Algorithm:      alg,
	}
	material, err := contracts.BuildSigningMaterial(acc, executeHash)
	if err != nil {
		return nil, nil, err
	}
	return acc, material, nil
}
