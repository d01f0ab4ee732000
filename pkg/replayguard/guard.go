// Package replayguard enforces single-use semantics for acceptances. An
// acceptance hash may be consumed exactly once; every implementation makes
// the check-and-reserve step atomic so two concurrent requests carrying the
// same acceptance can never both proceed.
package replayguard

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyUsed is returned when the acceptance hash has been consumed.
var ErrAlreadyUsed = errors.New("replayguard: acceptance already consumed")

// Guard reserves acceptance hashes for single use.
type Guard interface {
	// Reserve atomically records acceptanceHash as consumed. It returns
	// ErrAlreadyUsed if a prior reservation exists, or a transport error
	// if the backing store could not confirm the reservation. Callers
	// must treat any error as a denial.
	Reserve(ctx context.Context, acceptanceHash string, expiresAt time.Time) error
}

// RetentionSlack is added past the acceptance expiry before a reservation
// may be evicted, covering clock skew between issuer and kernel.
const RetentionSlack = time.Minute
