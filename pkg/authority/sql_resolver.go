package authority

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// SQLResolver resolves authority keys from a database. It works against
// Postgres and SQLite through standard drivers.
type SQLResolver struct {
	db      *sql.DB
	timeout time.Duration
}

const keySchema = `
CREATE TABLE IF NOT EXISTS authority_keys (
	id TEXT PRIMARY KEY,
	owner_principal_id TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	public_key TEXT NOT NULL,
	valid_from TIMESTAMP NOT NULL,
	valid_until TIMESTAMP,
	status TEXT NOT NULL
);
`

// NewSQLResolver creates a resolver with a bounded per-lookup timeout.
// On timeout the lookup fails; it never degrades to skip-verification.
func NewSQLResolver(db *sql.DB, timeout time.Duration) *SQLResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SQLResolver{db: db, timeout: timeout}
}

// Init creates the authority_keys table.
func (r *SQLResolver) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, keySchema)
	return err
}

// Resolve implements Resolver.
func (r *SQLResolver) Resolve(ctx context.Context, keyID string) (*Key, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT id, owner_principal_id, organization_id, public_key, valid_from, valid_until, status
		FROM authority_keys WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, keyID)

	var k Key
	var pubB64 string
	var validUntil sql.NullTime
	err := row.Scan(&k.ID, &k.OwnerPrincipalID, &k.OrganizationID, &pubB64, &k.ValidFrom, &validUntil, &k.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("authority: resolve %s: %w", keyID, err)
	}

	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("authority: key %s has corrupt public key material", keyID)
	}
	k.PublicKey = ed25519.PublicKey(pub)
	if validUntil.Valid {
		t := validUntil.Time
		k.ValidUntil = &t
	}
	return &k, nil
}

// Put upserts a key. Used by provisioning tooling and tests; the kernel
// itself never writes keys.
func (r *SQLResolver) Put(ctx context.Context, k *Key) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var validUntil any
	if k.ValidUntil != nil {
		validUntil = *k.ValidUntil
	}
	query := `
		INSERT INTO authority_keys (id, owner_principal_id, organization_id, public_key, valid_from, valid_until, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = $7, valid_until = $6
	`
	_, err := r.db.ExecContext(ctx, query,
		k.ID, k.OwnerPrincipalID, k.OrganizationID,
		base64.StdEncoding.EncodeToString(k.PublicKey),
		k.ValidFrom, validUntil, k.Status,
	)
	return err
}
