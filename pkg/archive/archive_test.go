package archive

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-systems/arbiter/pkg/canonicalize"
	"github.com/arbiter-systems/arbiter/pkg/contracts"
	"github.com/arbiter-systems/arbiter/pkg/ledger"
)

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	hashes  map[string]string
	fail    bool
}

func newMemUploader() *memUploader {
	return &memUploader{objects: map[string][]byte{}, hashes: map[string]string{}}
}

func (m *memUploader) Upload(_ context.Context, key string, data []byte, contentHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	m.objects[key] = data
	m.hashes[key] = contentHash
	return nil
}

func (m *memUploader) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

func seedLedger(t *testing.T, n int) *ledger.MemoryLedger {
	t.Helper()
	led := ledger.NewMemoryLedger()
	for i := 0; i < n; i++ {
		_, err := led.Append(context.Background(), ledger.Record{
			Decision:       contracts.VerdictPermit,
			ReasonCode:     contracts.ReasonAcceptanceVerified,
			AcceptanceHash: "sha256:" + strings.Repeat("a", i+1),
		})
		require.NoError(t, err)
	}
	return led
}

func TestExport_WritesVerifiableSegment(t *testing.T) {
	led := seedLedger(t, 3)
	up := newMemUploader()

	seg, err := NewExporter(led, up, "audit/").Export(context.Background(), 0, 0)
	require.NoError(t, err)
	require.NotNil(t, seg)
	assert.Equal(t, uint64(1), seg.FirstSeq)
	assert.Equal(t, uint64(3), seg.LastSeq)
	assert.Equal(t, "audit/ledger-000000000001-000000000003.jsonl", seg.Key)

	data, ok := up.objects[seg.Key]
	require.True(t, ok)
	assert.Equal(t, canonicalize.HashBytes(data), seg.ContentHash)
	assert.Equal(t, seg.ContentHash, up.hashes[seg.Key])
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestExport_EmptyRange(t *testing.T) {
	led := seedLedger(t, 2)
	seg, err := NewExporter(led, newMemUploader(), "").Export(context.Background(), 5, 0)
	require.NoError(t, err)
	assert.Nil(t, seg)
}

func TestExport_UploadFailure(t *testing.T) {
	led := seedLedger(t, 1)
	up := newMemUploader()
	up.fail = true

	_, err := NewExporter(led, up, "").Export(context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestRun_ExportsInBatchesUntilCancelled(t *testing.T) {
	led := seedLedger(t, 3)
	up := newMemUploader()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewExporter(led, up, "").Run(ctx, 5*time.Millisecond, 2)
	}()

	// Two segments: entries 1-2, then entry 3.
	deadline := time.After(5 * time.Second)
	for len(up.keys()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("segments uploaded: %v", up.keys())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	assert.ElementsMatch(t, []string{
		"ledger-000000000001-000000000002.jsonl",
		"ledger-000000000003-000000000003.jsonl",
	}, up.keys())
}
