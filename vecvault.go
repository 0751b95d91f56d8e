// Package vecvault provides a per-owner vector index with asynchronous
// snapshot persistence to content-addressed blob storage and permission-gated
// retrieval.
//
// Each owner gets an isolated in-memory HNSW index. Writes are batched:
// submissions are acknowledged immediately and materialized into the index
// when the batch fills or goes idle. Every few materializations the owner
// state is serialized, compressed and uploaded as an immutable blob, and the
// new version is recorded on a shared registry. A cold process recovers an
// owner from the latest recorded snapshot on first touch.
//
// Retrieval is gated: the owner reads their own content freely, anyone else
// needs a read grant on the ledger. Hits are decrypted through a threshold
// committee, and a failure to decrypt one hit never hides the others.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	vault, err := vecvault.New(768,
//	    blobstore.NewMemoryStore(),
//	    ledger.NewMemoryLedger(),
//	    vecvault.WithLogger(vecvault.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer vault.Close(ctx)
//
//	localID, err := vault.Add(ctx, "owner-1", vecvault.Record{
//	    ContentRef: ref,
//	    Category:   "notes",
//	}, vector)
//
//	results, err := vault.Query(ctx, vecvault.QueryRequest{
//	    OwnerID: "owner-1",
//	    Vector:  query,
//	    K:       10,
//	})
//
// For production deployments back the vault with blobstore/s3 or
// blobstore/minio and ledger/ddb.
package vecvault

import (
	"context"
	"fmt"

	"github.com/hupe1980/vecvault/blobstore"
	"github.com/hupe1980/vecvault/embedding"
	"github.com/hupe1980/vecvault/engine"
	"github.com/hupe1980/vecvault/ledger"
)

// Record is the caller-supplied metadata stored per vector.
type Record = engine.Record

// QueryRequest describes one similarity query.
type QueryRequest = engine.QueryRequest

// QueryResult is one query hit.
type QueryResult = engine.QueryResult

// Stats describes an owner's current state.
type Stats = engine.Stats

// OwnerError is a deferred failure surfaced on the Errors channel.
type OwnerError = engine.OwnerError

// Vault is the top-level handle: a multi-owner vector store with snapshot
// persistence and permission-gated retrieval.
type Vault struct {
	engine    *engine.Engine
	embedder  embedding.Source
	logger    *Logger
	dimension int
}

// New creates a Vault for vectors of the given dimension, backed by the blob
// store and ledger.
func New(dimension int, blobs blobstore.BlobStore, ldg ledger.Ledger, optFns ...Option) (*Vault, error) {
	opts := options{
		logger:  NoopLogger(),
		metrics: engine.NoopMetricsCollector{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	engineOpts := append([]func(o *engine.Options){func(eo *engine.Options) {
		eo.Dimension = dimension
		eo.Logger = opts.logger.Logger
		eo.Metrics = opts.metrics
	}}, opts.engineOpts...)

	eng, err := engine.New(blobs, ldg, engineOpts...)
	if err != nil {
		return nil, translateError(err)
	}

	return &Vault{
		engine:    eng,
		embedder:  opts.embedder,
		logger:    opts.logger,
		dimension: dimension,
	}, nil
}

// Dimension returns the configured vector dimensionality.
func (v *Vault) Dimension() int { return v.dimension }

// Add submits one vector for the owner. The assigned localID is returned
// immediately; the insert happens asynchronously with the owner's batch.
// Failures after acknowledgment are reported on Errors.
func (v *Vault) Add(ctx context.Context, ownerID string, rec Record, vector []float32) (uint64, error) {
	localID, err := v.engine.Submit(ctx, ownerID, rec, vector)

	v.logger.LogAdd(ctx, ownerID, localID, err)

	return localID, translateError(err)
}

// AddContent embeds the content through the configured embedding source and
// submits the resulting vector.
func (v *Vault) AddContent(ctx context.Context, ownerID string, rec Record, content string) (uint64, error) {
	if v.embedder == nil {
		return 0, ErrNoEmbeddingSource
	}

	vector, err := v.embedder.Embed(ctx, content)
	if err != nil {
		return 0, fmt.Errorf("embed content: %w", err)
	}

	if len(vector) != v.dimension {
		return 0, &ErrDimensionMismatch{Expected: v.dimension, Actual: len(vector)}
	}

	return v.Add(ctx, ownerID, rec, vector)
}

// Query searches the owner's index and decrypts the hits the requester may
// read. See engine.QueryRequest for the request contract.
func (v *Vault) Query(ctx context.Context, req QueryRequest) ([]QueryResult, error) {
	results, err := v.engine.Query(ctx, req)

	v.logger.LogQuery(ctx, req.OwnerID, req.RequesterID, req.K, len(results), err)

	return results, translateError(err)
}

// Flush materializes the owner's pending batch and forces a snapshot,
// regardless of the batch and snapshot cadence.
func (v *Vault) Flush(ctx context.Context, ownerID string) error {
	err := v.engine.Flush(ctx, ownerID)

	v.logger.LogFlush(ctx, ownerID, err)

	return translateError(err)
}

// OwnerStats returns the current state of an owner.
func (v *Vault) OwnerStats(ownerID string) Stats {
	return v.engine.OwnerStats(ownerID)
}

// Errors returns the deferred-error channel. Materialization and snapshot
// failures that happen after the triggering call returned are reported here.
func (v *Vault) Errors() <-chan OwnerError {
	return v.engine.Errors()
}

// Close flushes pending writes, snapshots owners with unpersisted state and
// shuts the vault down.
func (v *Vault) Close(ctx context.Context) error {
	return translateError(v.engine.Close(ctx))
}
