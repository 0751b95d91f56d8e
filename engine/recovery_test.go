package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/vecvault/blobstore"
	"github.com/hupe1980/vecvault/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLedger counts LatestSnapshot lookups.
type countingLedger struct {
	*ledger.MemoryLedger
	lookups atomic.Int64
}

func (c *countingLedger) LatestSnapshot(ctx context.Context, ownerID string) (ledger.SnapshotRef, error) {
	c.lookups.Add(1)

	return c.MemoryLedger.LatestSnapshot(ctx, ownerID)
}

func TestRecoveryFromSnapshot(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ldg := ledger.NewMemoryLedger()

	writer := newTestEngine(t, blobs, ldg)

	for i := range 5 {
		vec := []float32{float32(i + 1), 1, 0}

		_, err := writer.Submit(ctx, "alice", Record{ContentRef: blobstore.Ref(fmt.Sprintf("ref-%d", i)), Category: "notes"}, vec)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Flush(ctx, "alice"))
	require.NoError(t, writer.Close(ctx))

	// Fresh process, same stores.
	reader := newTestEngine(t, blobs, ldg)

	stats := reader.OwnerStats("alice")
	assert.False(t, stats.Loaded, "owners load lazily")

	results := ownerResults(t, reader, "alice", []float32{5, 1, 0}, 3)
	require.Len(t, results, 3)

	stats = reader.OwnerStats("alice")
	assert.True(t, stats.Loaded)
	assert.Equal(t, 5, stats.VectorCount)
	assert.Equal(t, uint64(1), stats.SnapshotVersion)
	assert.False(t, stats.Degraded)
}

func TestRecoveryResumesLocalIDs(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ldg := ledger.NewMemoryLedger()

	writer := newTestEngine(t, blobs, ldg)

	_, err := writer.Submit(ctx, "alice", Record{ContentRef: "a"}, []float32{1, 0, 0})
	require.NoError(t, err)
	_, err = writer.Submit(ctx, "alice", Record{ContentRef: "b"}, []float32{0, 1, 0})
	require.NoError(t, err)

	require.NoError(t, writer.Flush(ctx, "alice"))
	require.NoError(t, writer.Close(ctx))

	reader := newTestEngine(t, blobs, ldg)

	id, err := reader.Submit(ctx, "alice", Record{ContentRef: "c"}, []float32{0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id, "localID sequence continues after the snapshot")
}

func TestRecoveryNoSnapshotStartsEmpty(t *testing.T) {
	e := newTestEngine(t, blobstore.NewMemoryStore(), ledger.NewMemoryLedger())

	results := ownerResults(t, e, "nobody", []float32{1, 0, 0}, 5)
	assert.Empty(t, results)

	stats := e.OwnerStats("nobody")
	assert.True(t, stats.Loaded)
	assert.Equal(t, 0, stats.VectorCount)
	assert.False(t, stats.Degraded)
}

func TestRecoveryCorruptSnapshotDegrades(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ldg := ledger.NewMemoryLedger()

	writer := newTestEngine(t, blobs, ldg)

	_, err := writer.Submit(ctx, "alice", Record{ContentRef: "ref"}, []float32{1, 0, 0})
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx, "alice"))
	require.NoError(t, writer.Close(ctx))

	latest, err := ldg.LatestSnapshot(ctx, "alice")
	require.NoError(t, err)

	blobs.Corrupt(latest.BlobRef, []byte("not a snapshot"))

	reader := newTestEngine(t, blobs, ldg)

	// Serving continues on an empty, degraded state.
	results := ownerResults(t, reader, "alice", []float32{1, 0, 0}, 5)
	assert.Empty(t, results)

	stats := reader.OwnerStats("alice")
	assert.True(t, stats.Degraded)
	assert.Equal(t, uint64(1), stats.SnapshotVersion)

	// New writes snapshot past the damaged version.
	_, err = reader.Submit(ctx, "alice", Record{ContentRef: "new"}, []float32{0, 1, 0})
	require.NoError(t, err)
	require.NoError(t, reader.Flush(ctx, "alice"))

	latest, err = ldg.LatestSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Version)
}

func TestRecoveryMissingBlobDegrades(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ldg := ledger.NewMemoryLedger()

	require.NoError(t, ldg.RecordSnapshot(ctx, "alice", ledger.SnapshotRef{
		Version: 7,
		BlobRef: "0000000000000000000000000000000000000000000000000000000000000000",
	}))

	e := newTestEngine(t, blobs, ldg)

	results := ownerResults(t, e, "alice", []float32{1, 0, 0}, 5)
	assert.Empty(t, results)

	stats := e.OwnerStats("alice")
	assert.True(t, stats.Degraded)
	assert.Equal(t, uint64(7), stats.SnapshotVersion)
}

func TestRecoverySingleflight(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ldg := &countingLedger{MemoryLedger: ledger.NewMemoryLedger()}

	writer := newTestEngine(t, blobs, ldg)

	_, err := writer.Submit(ctx, "alice", Record{ContentRef: "ref"}, []float32{1, 0, 0})
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx, "alice"))
	require.NoError(t, writer.Close(ctx))

	ldg.lookups.Store(0)

	reader := newTestEngine(t, blobs, ldg)

	var wg sync.WaitGroup

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := reader.Query(ctx, QueryRequest{
				OwnerID: "alice",
				Vector:  []float32{1, 0, 0},
				K:       1,
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), ldg.lookups.Load(), "concurrent first touches share one load")
}

func TestLRUEvictionSkipsDirtyOwners(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, blobstore.NewMemoryStore(), ledger.NewMemoryLedger(), func(o *Options) {
		o.MaxLoadedOwners = 2
		o.Debounce = time.Hour
	})

	// alice has a pending batch: dirty, never evicted.
	_, err := e.Submit(ctx, "alice", Record{ContentRef: "a"}, []float32{1, 0, 0})
	require.NoError(t, err)

	// bob is clean after a flush-free read.
	ownerResults(t, e, "bob", []float32{1, 0, 0}, 1)

	// carol's load pushes the registry over capacity.
	ownerResults(t, e, "carol", []float32{1, 0, 0}, 1)

	assert.True(t, e.OwnerStats("alice").Loaded, "dirty owner survives eviction")
	assert.False(t, e.OwnerStats("bob").Loaded, "clean LRU owner is evicted")
	assert.True(t, e.OwnerStats("carol").Loaded)
}
