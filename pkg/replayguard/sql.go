package replayguard

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLGuard backs reservations with a relational table whose primary key is
// the acceptance hash. Uniqueness enforcement is delegated to the database,
// which makes the reservation atomic across kernel replicas.
type SQLGuard struct {
	db      *sql.DB
	timeout time.Duration
}

// SQLGuardSchema creates the consumption table. Works on both PostgreSQL
// and SQLite.
const SQLGuardSchema = `
CREATE TABLE IF NOT EXISTS acceptance_consumptions (
    acceptance_hash TEXT PRIMARY KEY,
    consumed_at     TIMESTAMP NOT NULL,
    retain_until    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_acceptance_consumptions_retain
    ON acceptance_consumptions (retain_until);
`

// NewSQLGuard wraps an open database handle. timeout bounds each
// reservation round trip; zero means 2s.
func NewSQLGuard(db *sql.DB, timeout time.Duration) *SQLGuard {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SQLGuard{db: db, timeout: timeout}
}

// Init applies the schema.
func (g *SQLGuard) Init(ctx context.Context) error {
	_, err := g.db.ExecContext(ctx, SQLGuardSchema)
	if err != nil {
		return fmt.Errorf("replayguard: init schema: %w", err)
	}
	return nil
}

// Reserve implements Guard via INSERT .. ON CONFLICT DO NOTHING; zero rows
// affected means the hash was already consumed.
func (g *SQLGuard) Reserve(ctx context.Context, acceptanceHash string, expiresAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.db.ExecContext(ctx, `
		INSERT INTO acceptance_consumptions (acceptance_hash, consumed_at, retain_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (acceptance_hash) DO NOTHING`,
		acceptanceHash, time.Now().UTC(), expiresAt.Add(RetentionSlack).UTC())
	if err != nil {
		return fmt.Errorf("replayguard: reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replayguard: reserve result: %w", err)
	}
	if n == 0 {
		return ErrAlreadyUsed
	}
	return nil
}

// Prune deletes reservations whose retention window has lapsed. Intended
// for a periodic maintenance loop.
func (g *SQLGuard) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := g.db.ExecContext(ctx,
		`DELETE FROM acceptance_consumptions WHERE retain_until < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("replayguard: prune: %w", err)
	}
	return res.RowsAffected()
}
