// Package ledger is the append-only decision record. Every kernel decision
// lands here as a hash-chained entry; a PERMIT that cannot be recorded is
// not a PERMIT.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arbiter-systems/arbiter/pkg/canonicalize"
	"github.com/arbiter-systems/arbiter/pkg/contracts"
)

// GenesisHash seeds the chain before any entry exists.
const GenesisHash = "sha256:genesis"

// ErrChainBroken reports a verification failure with its position.
var ErrChainBroken = errors.New("ledger: hash chain broken")

// ErrWriteFailed signals the entry did not reach durable storage.
var ErrWriteFailed = errors.New("ledger: write failed")

// Entry is one immutable decision record. EntryHash covers every other
// field, PrevHash links to the predecessor.
type Entry struct {
	Sequence       uint64               `json:"sequence"`
	Timestamp      time.Time            `json:"timestamp"`
	Decision       contracts.Verdict    `json:"decision"`
	ReasonCode     contracts.ReasonCode `json:"reasonCode"`
	IntentHash     string               `json:"intentHash,omitempty"`
	ExecuteHash    string               `json:"executeHash,omitempty"`
	AcceptanceHash string               `json:"acceptanceHash,omitempty"`
	ActorID        string               `json:"actorId,omitempty"`
	ActionName     string               `json:"actionName,omitempty"`
	PrevHash       string               `json:"prevHash"`
	EntryHash      string               `json:"entryHash"`
}

// Record is the caller-supplied portion of an entry; sequencing, chaining,
// and hashing belong to the ledger.
type Record struct {
	Decision       contracts.Verdict
	ReasonCode     contracts.ReasonCode
	IntentHash     string
	ExecuteHash    string
	AcceptanceHash string
	ActorID        string
	ActionName     string
}

// Ledger is an append-only, hash-chained store of decision entries.
type Ledger interface {
	// Append writes a record as the next chain entry and returns it. An
	// error means the entry is not durably recorded.
	Append(ctx context.Context, rec Record) (*Entry, error)
	// Head returns the latest entry hash, or GenesisHash when empty.
	Head(ctx context.Context) (string, error)
	// Entries returns entries with sequence > after, up to limit.
	// limit <= 0 means unlimited, on every backend.
	Entries(ctx context.Context, after uint64, limit int) ([]Entry, error)
}

// ComputeEntryHash hashes the entry's canonical JSON with EntryHash
// blanked. Canonicalization makes the hash independent of field order and
// timestamp formatting quirks.
func ComputeEntryHash(e Entry) (string, error) {
	e.EntryHash = ""
	e.Timestamp = e.Timestamp.UTC()
	return canonicalize.CanonicalHash(e)
}

// seal assigns sequence, chain link, and entry hash.
func seal(rec Record, seq uint64, prevHash string, now time.Time) (*Entry, error) {
	e := Entry{
		Sequence:       seq,
		Timestamp:      now.UTC(),
		Decision:       rec.Decision,
		ReasonCode:     rec.ReasonCode,
		IntentHash:     rec.IntentHash,
		ExecuteHash:    rec.ExecuteHash,
		AcceptanceHash: rec.AcceptanceHash,
		ActorID:        rec.ActorID,
		ActionName:     rec.ActionName,
		PrevHash:       prevHash,
	}
	h, err := ComputeEntryHash(e)
	if err != nil {
		return nil, fmt.Errorf("ledger: hash entry: %w", err)
	}
	e.EntryHash = h
	return &e, nil
}

// VerifyChain re-derives every hash and link over the given entries, which
// must start at the chain head (sequence 1). It returns the sequence of the
// first bad entry wrapped in ErrChainBroken.
func VerifyChain(entries []Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrChainBroken, i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d prevHash mismatch", ErrChainBroken, e.Sequence)
		}
		want, err := ComputeEntryHash(e)
		if err != nil {
			return fmt.Errorf("ledger: rehash entry %d: %w", e.Sequence, err)
		}
		if e.EntryHash != want {
			return fmt.Errorf("%w: entry %d content hash mismatch", ErrChainBroken, e.Sequence)
		}
		prev = e.EntryHash
	}
	return nil
}
