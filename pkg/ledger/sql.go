package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SQLLedger persists the chain in a relational table. The chain head is
// held in memory under a mutex; the kernel runs a single ledger writer per
// deployment, and a uniqueness constraint on sequence backstops that
// discipline at the database.
type SQLLedger struct {
	mu    sync.Mutex
	db    *sql.DB
	seq   uint64
	head  string
	clock func() time.Time
}

// SQLLedgerSchema works on both PostgreSQL and SQLite.
const SQLLedgerSchema = `
CREATE TABLE IF NOT EXISTS decision_ledger (
    sequence        BIGINT PRIMARY KEY,
    created_at      TIMESTAMP NOT NULL,
    entry           TEXT NOT NULL,
    prev_hash       TEXT NOT NULL,
    entry_hash      TEXT NOT NULL UNIQUE
);
`

// OpenSQLLedger applies the schema and loads the current head.
func OpenSQLLedger(ctx context.Context, db *sql.DB) (*SQLLedger, error) {
	if _, err := db.ExecContext(ctx, SQLLedgerSchema); err != nil {
		return nil, fmt.Errorf("ledger: init schema: %w", err)
	}

	l := &SQLLedger{db: db, head: GenesisHash, clock: time.Now}

	row := db.QueryRowContext(ctx,
		`SELECT sequence, entry_hash FROM decision_ledger ORDER BY sequence DESC LIMIT 1`)
	var seq uint64
	var head string
	switch err := row.Scan(&seq, &head); err {
	case nil:
		l.seq = seq
		l.head = head
	case sql.ErrNoRows:
	default:
		return nil, fmt.Errorf("ledger: load head: %w", err)
	}
	return l, nil
}

// WithClock overrides the clock for tests.
func (l *SQLLedger) WithClock(clock func() time.Time) *SQLLedger {
	l.clock = clock
	return l
}

// Append implements Ledger. The head only advances after the row commits.
func (l *SQLLedger) Append(ctx context.Context, rec Record) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := seal(rec, l.seq+1, l.head, l.clock())
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal entry: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO decision_ledger (sequence, created_at, entry, prev_hash, entry_hash)
		VALUES ($1, $2, $3, $4, $5)`,
		e.Sequence, e.Timestamp, string(doc), e.PrevHash, e.EntryHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	l.seq = e.Sequence
	l.head = e.EntryHash
	return e, nil
}

// Head implements Ledger.
func (l *SQLLedger) Head(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head, nil
}

// Entries implements Ledger. As with the other backends, limit <= 0 means
// unlimited; chain verification depends on reading the whole chain.
func (l *SQLLedger) Entries(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	query := `SELECT entry FROM decision_ledger WHERE sequence > $1 ORDER BY sequence ASC`
	args := []any{after}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, fmt.Errorf("ledger: corrupt entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
