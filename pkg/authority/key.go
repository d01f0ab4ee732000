// Package authority resolves authority key identifiers to public keys with
// validity metadata. Keys are created and rotated by an out-of-band
// key-management process; this package treats them as read-only reference
// data with bounded cache staleness.
package authority

import (
	"crypto/ed25519"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when an authority key id cannot be resolved.
// Callers must treat this as a denial, never as skip-verification.
var ErrKeyNotFound = errors.New("authority: key not found")

// Status is the lifecycle state of an authority key.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Key is a public authority key with its validity window.
type Key struct {
	ID               string            `json:"id"`
	OwnerPrincipalID string            `json:"ownerPrincipalId"`
	OrganizationID   string            `json:"organizationId"`
	PublicKey        ed25519.PublicKey `json:"publicKey"`
	ValidFrom        time.Time         `json:"validFrom"`
	ValidUntil       *time.Time        `json:"validUntil,omitempty"`
	Status           Status            `json:"status"`
}

// IsUsable reports whether the key may verify signatures at the given
// instant: active, within [ValidFrom, ValidUntil].
func (k *Key) IsUsable(now time.Time) bool {
	if k == nil || k.Status != StatusActive {
		return false
	}
	if now.Before(k.ValidFrom) {
		return false
	}
	if k.ValidUntil != nil && now.After(*k.ValidUntil) {
		return false
	}
	return true
}
