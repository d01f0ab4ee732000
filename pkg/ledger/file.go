package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileLedger persists the chain as one JSON document per line, fsynced on
// every append. Single-writer; open the file once per process.
type FileLedger struct {
	mu    sync.Mutex
	f     *os.File
	seq   uint64
	head  string
	clock func() time.Time
}

// OpenFileLedger opens or creates path and replays it to recover the chain
// head. A corrupt tail fails the open rather than silently forking the
// chain.
func OpenFileLedger(path string) (*FileLedger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	l := &FileLedger{f: f, head: GenesisHash, clock: time.Now}

	entries, err := readAll(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := VerifyChain(entries); err != nil {
		_ = f.Close()
		return nil, err
	}
	if n := len(entries); n > 0 {
		l.seq = entries[n-1].Sequence
		l.head = entries[n-1].EntryHash
	}
	return l, nil
}

// Close releases the file handle.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Append implements Ledger. The entry is written and fsynced before the
// head advances; a partial write surfaces as an error and the caller must
// deny.
func (l *FileLedger) Append(_ context.Context, rec Record) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := seal(rec, l.seq+1, l.head, l.clock())
	if err != nil {
		return nil, err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal entry: %w", err)
	}
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := l.f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: fsync: %v", ErrWriteFailed, err)
	}

	l.seq = e.Sequence
	l.head = e.EntryHash
	return e, nil
}

// Head implements Ledger.
func (l *FileLedger) Head(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head, nil
}

// Entries implements Ledger by re-reading the file.
func (l *FileLedger) Entries(_ context.Context, after uint64, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := readAll(l.f)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.Sequence <= after {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func readAll(f *os.File) ([]Entry, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("ledger: seek: %w", err)
	}
	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("ledger: corrupt entry after sequence %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scan: %w", err)
	}
	return entries, nil
}
