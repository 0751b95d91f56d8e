package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/vecvault/blobstore"
	"github.com/hupe1980/vecvault/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyLedger fails RecordSnapshot while failing is set.
type flakyLedger struct {
	*ledger.MemoryLedger
	failing atomic.Bool
	records atomic.Int64
}

func (f *flakyLedger) RecordSnapshot(ctx context.Context, ownerID string, ref ledger.SnapshotRef) error {
	f.records.Add(1)

	if f.failing.Load() {
		return errors.New("registry unavailable")
	}

	return f.MemoryLedger.RecordSnapshot(ctx, ownerID, ref)
}

// flakyBlobs fails Put while failing is set.
type flakyBlobs struct {
	*blobstore.MemoryStore
	failing atomic.Bool
	puts    atomic.Int64
}

func (f *flakyBlobs) Put(ctx context.Context, data []byte) (blobstore.Ref, error) {
	f.puts.Add(1)

	if f.failing.Load() {
		return "", errors.New("storage unavailable")
	}

	return f.MemoryStore.Put(ctx, data)
}

func submitBatch(t *testing.T, e *Engine, owner string, n int) {
	t.Helper()

	ctx := context.Background()

	for i := range n {
		vec := []float32{float32(i + 1), 1, 0}

		_, err := e.Submit(ctx, owner, Record{ContentRef: blobstore.Ref(fmt.Sprintf("ref-%d", i))}, vec)
		require.NoError(t, err)
	}
}

func TestSnapshotCadence(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ldg := ledger.NewMemoryLedger()

	e := newTestEngine(t, blobs, ldg, func(o *Options) {
		o.MaxBatch = 2
		o.Debounce = time.Hour
		o.SnapshotEvery = 2 // every second materialization
	})

	// First full batch: one materialization, below cadence, no snapshot.
	submitBatch(t, e, "alice", 2)

	require.Eventually(t, func() bool {
		return e.OwnerStats("alice").VectorCount == 2
	}, time.Second, 10*time.Millisecond)

	_, err := ldg.LatestSnapshot(ctx, "alice")
	require.ErrorIs(t, err, ledger.ErrNoSnapshot)

	// Second full batch reaches the cadence and snapshots at version 1.
	submitBatch(t, e, "alice", 2)

	require.Eventually(t, func() bool {
		latest, err := ldg.LatestSnapshot(ctx, "alice")
		return err == nil && latest.Version == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, blobs.Len())
}

func TestSnapshotVersionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	ldg := ledger.NewMemoryLedger()

	e := newTestEngine(t, blobstore.NewMemoryStore(), ldg)

	for i := range 3 {
		_, err := e.Submit(ctx, "alice", Record{ContentRef: blobstore.Ref(fmt.Sprintf("r%d", i))}, []float32{float32(i + 1), 0, 0})
		require.NoError(t, err)
		require.NoError(t, e.Flush(ctx, "alice"))
	}

	assert.Equal(t, []uint64{1, 2, 3}, ldg.Versions("alice"))
	assert.Equal(t, uint64(3), e.OwnerStats("alice").SnapshotVersion)
}

func TestSnapshotUploadRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyBlobs{MemoryStore: blobstore.NewMemoryStore()}
	ldg := ledger.NewMemoryLedger()

	e := newTestEngine(t, blobs, ldg)

	_, err := e.Submit(ctx, "alice", Record{ContentRef: "ref"}, []float32{1, 0, 0})
	require.NoError(t, err)

	blobs.failing.Store(true)

	err = e.Flush(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, int64(3), blobs.puts.Load(), "upload is attempted SnapshotRetries times")

	_, err = ldg.LatestSnapshot(ctx, "alice")
	require.ErrorIs(t, err, ledger.ErrNoSnapshot, "no version recorded for a failed upload")

	blobs.failing.Store(false)

	require.NoError(t, e.Flush(ctx, "alice"))

	latest, err := ldg.LatestSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest.Version)
}

func TestRegistryFailureLeavesOrphanedBlobOnly(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ldg := &flakyLedger{MemoryLedger: ledger.NewMemoryLedger()}

	e := newTestEngine(t, blobs, ldg)

	_, err := e.Submit(ctx, "alice", Record{ContentRef: "ref"}, []float32{1, 0, 0})
	require.NoError(t, err)

	ldg.failing.Store(true)

	err = e.Flush(ctx, "alice")
	require.Error(t, err)

	// Blob was uploaded but the version never advanced.
	assert.Equal(t, 1, blobs.Len())
	assert.Equal(t, uint64(0), e.OwnerStats("alice").SnapshotVersion)

	// Serving continues; the owner still answers queries.
	assert.Len(t, ownerResults(t, e, "alice", []float32{1, 0, 0}, 1), 1)

	ldg.failing.Store(false)

	require.NoError(t, e.Flush(ctx, "alice"))

	latest, err := ldg.LatestSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest.Version, "recovery after registry failure starts at version 1")
}

func TestSnapshotEnvelopeSelfDescribing(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ldg := ledger.NewMemoryLedger()

	// Writer uses lz4.
	writer := newTestEngine(t, blobs, ldg, func(o *Options) {
		o.Compression = CompressionLZ4
	})

	_, err := writer.Submit(ctx, "alice", Record{ContentRef: "ref", Category: "notes"}, []float32{1, 0, 0})
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx, "alice"))
	require.NoError(t, writer.Close(ctx))

	// Reader defaults to zstd but must decode the lz4 envelope via its header.
	reader := newTestEngine(t, blobs, ldg)

	results := ownerResults(t, reader, "alice", []float32{1, 0, 0}, 1)
	require.Len(t, results, 1)
	assert.Equal(t, "notes", results[0].Category)
}

func TestFlushWithoutDataIsNoop(t *testing.T) {
	ctx := context.Background()
	ldg := ledger.NewMemoryLedger()
	e := newTestEngine(t, blobstore.NewMemoryStore(), ldg)

	require.NoError(t, e.Flush(ctx, "alice"))

	_, err := ldg.LatestSnapshot(ctx, "alice")
	require.ErrorIs(t, err, ledger.ErrNoSnapshot)
}
