package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ref, err := store.Put(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, ComputeRef([]byte("hello")), ref)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestMemoryStorePutIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ref1, err := store.Put(ctx, []byte("same"))
	require.NoError(t, err)

	ref2, err := store.Put(ctx, []byte("same"))
	require.NoError(t, err)

	assert.Equal(t, ref1, ref2)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), Ref("deadbeef"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorePutBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	blobs := [][]byte{[]byte("a"), []byte("b"), []byte("c")}

	refs, err := store.PutBatch(ctx, blobs)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	for i, ref := range refs {
		assert.Equal(t, ComputeRef(blobs[i]), ref)

		data, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, blobs[i], data)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ref, err := store.Put(ctx, []byte("immutable"))
	require.NoError(t, err)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)

	data[0] = 'X'

	again, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), again)
}
