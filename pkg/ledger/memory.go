package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps the chain in process memory. For tests and ephemeral
// deployments only; a restart loses the record.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	head    string
	clock   func() time.Time
	failing bool
}

// NewMemoryLedger creates an empty chain.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{head: GenesisHash, clock: time.Now}
}

// WithClock overrides the clock for tests.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

// SetFailing forces Append to error, for fail-closed tests.
func (l *MemoryLedger) SetFailing(failing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing = failing
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, rec Record) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failing {
		return nil, ErrWriteFailed
	}

	e, err := seal(rec, uint64(len(l.entries))+1, l.head, l.clock())
	if err != nil {
		return nil, err
	}
	l.entries = append(l.entries, *e)
	l.head = e.EntryHash
	return e, nil
}

// Head implements Ledger.
func (l *MemoryLedger) Head(context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head, nil
}

// Entries implements Ledger.
func (l *MemoryLedger) Entries(_ context.Context, after uint64, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if after >= uint64(len(l.entries)) {
		return nil, nil
	}
	rest := l.entries[after:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	out := make([]Entry, len(rest))
	copy(out, rest)
	return out, nil
}
