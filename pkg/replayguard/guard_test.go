package replayguard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard_SingleUse(t *testing.T) {
	g := NewMemoryGuard()
	exp := time.Now().Add(5 * time.Minute)

	require.NoError(t, g.Reserve(context.Background(), "sha256:aaa", exp))
	err := g.Reserve(context.Background(), "sha256:aaa", exp)
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	// Different hash is unaffected.
	require.NoError(t, g.Reserve(context.Background(), "sha256:bbb", exp))
}

func TestMemoryGuard_ConcurrentReserve(t *testing.T) {
	g := NewMemoryGuard()
	exp := time.Now().Add(5 * time.Minute)

	const n = 64
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Reserve(context.Background(), "sha256:contested", exp) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent caller may win")
}

func TestMemoryGuard_Eviction(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemoryGuard().WithClock(func() time.Time { return now })

	exp := now.Add(time.Minute)
	require.NoError(t, g.Reserve(context.Background(), "sha256:aaa", exp))
	assert.Equal(t, 1, g.Len())

	// Inside retention: still blocked.
	now = exp.Add(30 * time.Second)
	assert.ErrorIs(t, g.Reserve(context.Background(), "sha256:aaa", exp), ErrAlreadyUsed)

	// Past expiry + slack the entry is evicted; the acceptance itself can
	// no longer verify, so re-reservation is harmless.
	now = exp.Add(RetentionSlack + time.Second)
	assert.NoError(t, g.Reserve(context.Background(), "sha256:aaa", exp))
}

func TestSQLGuard_Reserve(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	g := NewSQLGuard(db, time.Second)
	exp := time.Now().Add(time.Minute)

	mock.ExpectExec("INSERT INTO acceptance_consumptions").
		WithArgs("sha256:aaa", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, g.Reserve(context.Background(), "sha256:aaa", exp))

	// Conflict: zero rows affected.
	mock.ExpectExec("INSERT INTO acceptance_consumptions").
		WithArgs("sha256:aaa", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, g.Reserve(context.Background(), "sha256:aaa", exp), ErrAlreadyUsed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGuard_TransportErrorIsNotAlreadyUsed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO acceptance_consumptions").
		WillReturnError(assert.AnError)

	g := NewSQLGuard(db, time.Second)
	err = g.Reserve(context.Background(), "sha256:aaa", time.Now().Add(time.Minute))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyUsed)
}
