package blobstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory BlobStore implementation for testing.
// Thread-safe for concurrent reads and writes.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[Ref][]byte
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[Ref][]byte),
	}
}

// Put stores a blob under its content address.
func (m *MemoryStore) Put(_ context.Context, data []byte) (Ref, error) {
	ref := ComputeRef(data)

	// Copy to prevent external mutation
	copied := make([]byte, len(data))
	copy(copied, data)

	m.mu.Lock()
	m.blobs[ref] = copied
	m.mu.Unlock()

	return ref, nil
}

// PutBatch stores multiple blobs.
func (m *MemoryStore) PutBatch(ctx context.Context, blobs [][]byte) ([]Ref, error) {
	refs := make([]Ref, len(blobs))

	for i, data := range blobs {
		ref, err := m.Put(ctx, data)
		if err != nil {
			return nil, err
		}

		refs[i] = ref
	}

	return refs, nil
}

// Get retrieves a blob by its content address.
func (m *MemoryStore) Get(_ context.Context, ref Ref) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.blobs[ref]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external mutation
	copied := make([]byte, len(data))
	copy(copied, data)

	return copied, nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.blobs)
}

// Corrupt overwrites the bytes stored under ref without changing the ref.
// Test helper for exercising corrupt-snapshot handling.
func (m *MemoryStore) Corrupt(ref Ref, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[ref]; ok {
		m.blobs[ref] = data
	}
}
