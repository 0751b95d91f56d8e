// Package blobstore abstracts the content-addressed storage layer for
// persisted snapshot blobs.
//
// Blobs are immutable: a blob's reference is the hex SHA-256 of its content,
// so re-uploading identical bytes is idempotent and stale blobs from failed
// snapshot attempts are harmless garbage rather than corruption.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Ref is a content address: the lowercase hex SHA-256 of the blob bytes.
type Ref string

// ComputeRef returns the content address for the given bytes.
func ComputeRef(data []byte) Ref {
	sum := sha256.Sum256(data)
	return Ref(hex.EncodeToString(sum[:]))
}

// BlobStore is an abstraction for storing and retrieving immutable,
// content-addressed blobs.
type BlobStore interface {
	// Put uploads a blob and returns its content address.
	Put(ctx context.Context, data []byte) (Ref, error)

	// PutBatch uploads multiple blobs. Refs are returned positionally.
	// Either all blobs are stored or an error is returned; partially
	// uploaded blobs from a failed batch are unreferenced and harmless.
	PutBatch(ctx context.Context, blobs [][]byte) ([]Ref, error)

	// Get retrieves a blob by its content address.
	Get(ctx context.Context, ref Ref) ([]byte, error)
}
