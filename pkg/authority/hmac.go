package authority

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// SecretProvider yields the shared secret for an issuer in HMAC mode.
type SecretProvider interface {
	SecretFor(issuer string) ([]byte, error)
}

// hmacSecretSize is the derived key length for HMAC-SHA256.
const hmacSecretSize = 32

// HKDFSecretProvider derives per-issuer HMAC secrets from a single master
// secret via HKDF-SHA256, so issuers never share key material with each
// other. Derivation is deterministic: the issuing tool and the kernel arrive
// at the same secret from the same master.
type HKDFSecretProvider struct {
	master []byte

	mu      sync.Mutex
	derived map[string][]byte
}

// NewHKDFSecretProvider creates a provider from a master secret.
func NewHKDFSecretProvider(master []byte) (*HKDFSecretProvider, error) {
	if len(master) < 16 {
		return nil, fmt.Errorf("authority: master secret must be at least 16 bytes")
	}
	return &HKDFSecretProvider{
		master:  master,
		derived: make(map[string][]byte),
	}, nil
}

// SecretFor implements SecretProvider.
func (p *HKDFSecretProvider) SecretFor(issuer string) ([]byte, error) {
	if issuer == "" {
		return nil, fmt.Errorf("authority: issuer must not be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.derived[issuer]; ok {
		return s, nil
	}

	r := hkdf.New(sha256.New, p.master, []byte("arbiter-acceptance-hmac"), []byte(issuer))
	secret := make([]byte, hmacSecretSize)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, fmt.Errorf("authority: hkdf derivation for %s: %w", issuer, err)
	}
	p.derived[issuer] = secret
	return secret, nil
}

// StaticSecretProvider serves fixed secrets, for tests and single-issuer
// demo deployments.
type StaticSecretProvider map[string][]byte

// SecretFor implements SecretProvider.
func (p StaticSecretProvider) SecretFor(issuer string) ([]byte, error) {
	s, ok := p[issuer]
	if !ok {
		return nil, fmt.Errorf("authority: no shared secret for issuer %s", issuer)
	}
	return s, nil
}
