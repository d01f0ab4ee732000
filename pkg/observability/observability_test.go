package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-systems/arbiter/pkg/contracts"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, done := p.StartDecision(context.Background(), "transfer")
	assert.NotNil(t, ctx)
	// Recording against a disabled provider must not panic.
	done(contracts.Deny(contracts.ReasonLedgerWriteFailed))

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "arbiter", cfg.ServiceName)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
}
