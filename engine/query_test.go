package engine

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/vecvault/blobstore"
	"github.com/hupe1980/vecvault/ledger"
	"github.com/hupe1980/vecvault/threshold"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDecryptor reverses the ciphertext when the approval matches, and
// records what it was called with.
type fakeDecryptor struct {
	wantApproval []byte
	failWith     map[string]error // ciphertext -> error
	lastIdentity []byte
}

func (f *fakeDecryptor) Decrypt(_ context.Context, ciphertext, identity, approval []byte) ([]byte, error) {
	f.lastIdentity = identity

	if err, ok := f.failWith[string(ciphertext)]; ok {
		return nil, err
	}

	if f.wantApproval != nil && !bytes.Equal(approval, f.wantApproval) {
		return nil, threshold.ErrDenied
	}

	out := make([]byte, len(ciphertext))
	for i, b := range ciphertext {
		out[len(out)-1-i] = b
	}

	return out, nil
}

// seedOwner stores n ciphertexts and submits matching vectors for the owner.
func seedOwner(t *testing.T, e *Engine, blobs *blobstore.MemoryStore, owner string, n int) []blobstore.Ref {
	t.Helper()

	ctx := context.Background()
	refs := make([]blobstore.Ref, n)

	for i := range n {
		ref, err := blobs.Put(ctx, fmt.Appendf(nil, "secret-%d", i))
		require.NoError(t, err)

		refs[i] = ref

		vec := []float32{float32(i + 1), 1, 0}

		_, err = e.Submit(ctx, owner, Record{ContentRef: ref}, vec)
		require.NoError(t, err)
	}

	require.NoError(t, e.Flush(ctx, owner))

	return refs
}

func TestQueryValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, blobstore.NewMemoryStore(), ledger.NewMemoryLedger())

	_, err := e.Query(ctx, QueryRequest{OwnerID: "alice", Vector: []float32{1, 0, 0}, K: 0})
	require.ErrorIs(t, err, ErrInvalidK)

	_, err = e.Query(ctx, QueryRequest{OwnerID: "alice", Vector: []float32{1, 0}, K: 1})

	var dimErr *DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
}

func TestQueryOwnerImplicitAccess(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	dec := &fakeDecryptor{}

	e := newTestEngine(t, blobs, ledger.NewMemoryLedger(), func(o *Options) {
		o.Decryptor = dec
	})

	seedOwner(t, e, blobs, "alice", 1)

	results, err := e.Query(ctx, QueryRequest{
		OwnerID:     "alice",
		RequesterID: "alice",
		Vector:      []float32{1, 1, 0},
		K:           1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "0-terces", string(results[0].Plaintext))
	assert.Equal(t, []byte("alice"), dec.lastIdentity)
}

func TestQueryRequesterNeedsGrant(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ldg := ledger.NewMemoryLedger()
	dec := &fakeDecryptor{wantApproval: []byte("proof")}

	e := newTestEngine(t, blobs, ldg, func(o *Options) {
		o.Decryptor = dec
	})

	seedOwner(t, e, blobs, "alice", 1)

	_, err := e.Query(ctx, QueryRequest{
		OwnerID:     "alice",
		RequesterID: "bob",
		Vector:      []float32{1, 1, 0},
		K:           1,
	})
	require.ErrorIs(t, err, ErrAccessDenied)

	ldg.Grant(ledger.AccessGrant{
		ContextID: "alice",
		GranteeID: "bob",
		Scope:     ledger.ScopeRead,
		Proof:     []byte("proof"),
	})

	results, err := e.Query(ctx, QueryRequest{
		OwnerID:     "alice",
		RequesterID: "bob",
		Vector:      []float32{1, 1, 0},
		K:           1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "0-terces", string(results[0].Plaintext))
}

func TestQueryPartialDecryptionFailure(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	dec := &fakeDecryptor{failWith: map[string]error{
		"secret-1": threshold.ErrQuorumUnavailable,
	}}

	e := newTestEngine(t, blobs, ledger.NewMemoryLedger(), func(o *Options) {
		o.Decryptor = dec
	})

	seedOwner(t, e, blobs, "alice", 3)

	results, err := e.Query(ctx, QueryRequest{
		OwnerID: "alice",
		Vector:  []float32{2, 1, 0}, // closest to vector 1
		K:       3,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	failed := 0

	for _, hit := range results {
		if hit.Err != nil {
			failed++

			assert.ErrorIs(t, hit.Err, threshold.ErrQuorumUnavailable)
			assert.Nil(t, hit.Plaintext)
			assert.NotEmpty(t, hit.ContentRef, "failed hits still carry their ref")
		} else {
			assert.NotEmpty(t, hit.Plaintext)
		}
	}

	assert.Equal(t, 1, failed, "exactly the bad ciphertext fails")
}

func TestQueryMissingCiphertextBlob(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	e := newTestEngine(t, blobs, ledger.NewMemoryLedger(), func(o *Options) {
		o.Decryptor = &fakeDecryptor{}
	})

	// Record points at a blob that was never stored.
	_, err := e.Submit(ctx, "alice", Record{ContentRef: "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"}, []float32{1, 0, 0})
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx, "alice"))

	results, err := e.Query(ctx, QueryRequest{OwnerID: "alice", Vector: []float32{1, 0, 0}, K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, ErrBlobUnavailable)
}

func TestQueryWithoutDecryptorReturnsRefs(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	e := newTestEngine(t, blobs, ledger.NewMemoryLedger())

	refs := seedOwner(t, e, blobs, "alice", 2)

	results, err := e.Query(ctx, QueryRequest{OwnerID: "alice", Vector: []float32{1, 1, 0}, K: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, hit := range results {
		assert.Nil(t, hit.Plaintext)
		require.NoError(t, hit.Err)
		assert.Contains(t, refs, hit.ContentRef)
	}
}

func TestQueryCategoryFilter(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, blobstore.NewMemoryStore(), ledger.NewMemoryLedger())

	categories := []string{"notes", "docs", "notes", "docs", "notes"}

	for i, cat := range categories {
		vec := []float32{float32(i + 1), 1, 0}

		_, err := e.Submit(ctx, "alice", Record{ContentRef: blobstore.Ref(fmt.Sprintf("ref-%d", i)), Category: cat}, vec)
		require.NoError(t, err)
	}

	require.NoError(t, e.Flush(ctx, "alice"))

	results, err := e.Query(ctx, QueryRequest{
		OwnerID:  "alice",
		Vector:   []float32{3, 1, 0},
		K:        3,
		Category: "docs",
	})
	require.NoError(t, err)
	require.Len(t, results, 2, "only two docs exist")

	for _, hit := range results {
		assert.Equal(t, "docs", hit.Category)
	}

	// Unknown category matches nothing.
	results, err = e.Query(ctx, QueryRequest{
		OwnerID:  "alice",
		Vector:   []float32{3, 1, 0},
		K:        3,
		Category: "missing",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryOrderedByDistanceThenID(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, blobstore.NewMemoryStore(), ledger.NewMemoryLedger())

	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
	}

	for i, vec := range vectors {
		_, err := e.Submit(ctx, "alice", Record{ContentRef: blobstore.Ref(fmt.Sprintf("ref-%d", i))}, vec)
		require.NoError(t, err)
	}

	require.NoError(t, e.Flush(ctx, "alice"))

	results, err := e.Query(ctx, QueryRequest{OwnerID: "alice", Vector: []float32{1, 0, 0}, K: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(0), results[0].LocalID)
	assert.Equal(t, uint64(2), results[1].LocalID)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
}
