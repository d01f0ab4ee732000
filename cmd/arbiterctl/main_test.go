package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-systems/arbiter/pkg/contracts"
	"github.com/arbiter-systems/arbiter/pkg/ledger"
)

func TestKeygenThenIssue(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.json")
	payloadPath := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(payloadPath, []byte(`{"amount":100}`), 0o600))

	var out, errOut bytes.Buffer
	code := run([]string{"keygen", "-out", keyPath, "-key-id", "ops-key-1"}, &out, &errOut)
	require.Zero(t, code, errOut.String())

	out.Reset()
	code = run([]string{"issue",
		"-key", keyPath,
		"-issuer", "ops",
		"-actor", "A1",
		"-intent", "transfer",
		"-payload", payloadPath,
	}, &out, &errOut)
	require.Zero(t, code, errOut.String())

	var acc contracts.Acceptance
	require.NoError(t, json.Unmarshal(out.Bytes(), &acc))
	assert.Equal(t, "ops-key-1", acc.AuthorityKeyID)
	assert.Equal(t, contracts.AlgorithmEd25519, acc.Algorithm)
	assert.True(t, acc.StructurallyComplete())
}

func TestLedgerVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")

	led, err := ledger.OpenFileLedger(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := led.Append(context.Background(), ledger.Record{
			Decision:   contracts.VerdictDeny,
			ReasonCode: contracts.ReasonInvalidSignature,
		})
		require.NoError(t, err)
	}
	require.NoError(t, led.Close())

	var out, errOut bytes.Buffer
	code := run([]string{"ledger", "verify", "-file", path}, &out, &errOut)
	assert.Zero(t, code, errOut.String())
	assert.Contains(t, out.String(), "OK: 3 entries")

	// Tamper with the middle line.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte(`"DENY"`), []byte(`"PERMIT"`), 1)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	out.Reset()
	errOut.Reset()
	code = run([]string{"ledger", "verify", "-file", path}, &out, &errOut)
	assert.NotZero(t, code)
	assert.Contains(t, errOut.String(), "INVALID")
}

func TestUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.NotZero(t, run([]string{"frobnicate"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "unknown command")
}
