// Package s3 provides a blobstore.BlobStore backed by Amazon S3.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/vecvault/blobstore"
	"golang.org/x/sync/errgroup"
)

// Store implements blobstore.BlobStore for S3.
type Store struct {
	client      *s3.Client
	uploader    *manager.Uploader
	bucket      string
	prefix      string
	concurrency int
}

// NewStore creates a new S3 blob store.
// rootPrefix is prepended to all keys (e.g. "snapshots/").
func NewStore(client *s3.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client:      client,
		uploader:    manager.NewUploader(client),
		bucket:      bucket,
		prefix:      rootPrefix,
		concurrency: 8,
	}
}

func (s *Store) key(ref blobstore.Ref) string {
	return path.Join(s.prefix, string(ref[:2]), string(ref))
}

// Put uploads a blob under its content address.
func (s *Store) Put(ctx context.Context, data []byte) (blobstore.Ref, error) {
	ref := blobstore.ComputeRef(data)

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
		Body:   bytes.NewReader(data),
	})
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

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, blobstore.ErrNotFound
		}

		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, blobstore.ErrNotFound
		}

		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if got := blobstore.ComputeRef(data); got != ref {
		return nil, fmt.Errorf("blob %s: content hash mismatch (got %s)", ref, got)
	}

	return data, nil
}
