// Package minio provides a blobstore.BlobStore backed by MinIO or any
// S3-compatible object storage.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/hupe1980/vecvault/blobstore"
	"github.com/minio/minio-go/v7"
	"golang.org/x/sync/errgroup"
)

// Store implements blobstore.BlobStore for MinIO and S3-compatible storage.
type Store struct {
	client      *minio.Client
	bucket      string
	prefix      string
	concurrency int
}

// NewStore creates a new MinIO blob store.
// bucket is the MinIO bucket name.
// rootPrefix is prepended to all keys (e.g. "snapshots/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client:      client,
		bucket:      bucket,
		prefix:      rootPrefix,
		concurrency: 8,
	}
}

// Keys are fanned out by the first two ref characters to avoid hot listing
// prefixes on very large buckets.
func (s *Store) key(ref blobstore.Ref) string {
	return path.Join(s.prefix, string(ref[:2]), string(ref))
}

// Put uploads a blob under its content address.
func (s *Store) Put(ctx context.Context, data []byte) (blobstore.Ref, error) {
	ref := blobstore.ComputeRef(data)

	_, err := s.client.PutObject(ctx, s.bucket, s.key(ref), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("put blob %s: %w", ref, err)
	}

	return ref, nil
}

// PutBatch uploads blobs concurrently. Refs are returned positionally.
func (s *Store) PutBatch(ctx context.Context, blobs [][]byte) ([]blobstore.Ref, error) {
	refs := make([]blobstore.Ref, len(blobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, data := range blobs {
		g.Go(func() error {
			ref, err := s.Put(ctx, data)
			if err != nil {
				return err
			}

			refs[i] = ref

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return refs, nil
}

// Get retrieves a blob and verifies its content address.
func (s *Store) Get(ctx context.Context, ref blobstore.Ref) ([]byte, error) {
	if len(ref) < 2 {
		return nil, blobstore.ErrNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(ref), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, blobstore.ErrNotFound
		}

		return nil, err
	}

	if got := blobstore.ComputeRef(data); got != ref {
		return nil, fmt.Errorf("blob %s: content hash mismatch (got %s)", ref, got)
	}

	return data, nil
}
