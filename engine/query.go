package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/vecvault/blobstore"
	"github.com/hupe1980/vecvault/ledger"
	"golang.org/x/sync/errgroup"
)

// QueryRequest describes one similarity query.
type QueryRequest struct {
	// OwnerID selects whose index to search.
	OwnerID string

	// RequesterID identifies who is asking. Empty or equal to OwnerID
	// means the owner queries their own content, which needs no grant.
	RequesterID string

	// Vector is the query embedding.
	Vector []float32

	// K is the maximum number of results.
	K int

	// Category restricts results to records with this category. Empty
	// means no filter.
	Category string

	// EF overrides the search candidate-list size. Zero uses the index
	// default.
	EF int
}

// QueryResult is one hit. Decryption failures are carried per hit in Err; a
// failed hit still reports its id, distance and content ref.
type QueryResult struct {
	LocalID    uint64
	Distance   float32
	ContentRef blobstore.Ref
	Category   string

	// Plaintext is the decrypted content. Nil when no decryptor is
	// configured or when Err is set.
	Plaintext []byte

	// Err reports why this hit could not be decrypted: ErrBlobUnavailable,
	// threshold.ErrDenied or threshold.ErrQuorumUnavailable.
	Err error
}

// Query searches the owner's index and decrypts the hits the requester is
// allowed to read. The result slice is ordered by ascending distance with
// ties broken by ascending id.
//
// Access control is all-or-nothing per query: a requester without a read
// grant gets ErrAccessDenied and no results. Per-hit decryption failures do
// not fail the query.
func (e *Engine) Query(ctx context.Context, req QueryRequest) ([]QueryResult, error) {
	start := time.Now()

	results, err := e.query(ctx, req)

	e.metrics.RecordQuery(req.K, time.Since(start), err)

	return results, err
}

func (e *Engine) query(ctx context.Context, req QueryRequest) ([]QueryResult, error) {
	if req.K <= 0 {
		return nil, ErrInvalidK
	}

	if len(req.Vector) != e.opts.Dimension {
		return nil, &DimensionMismatchError{Expected: e.opts.Dimension, Actual: len(req.Vector)}
	}

	st, err := e.ensureLoaded(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	approval, err := e.authorize(ctx, req.OwnerID, req.RequesterID)
	if err != nil {
		return nil, err
	}

	results, err := e.search(st, req)
	if err != nil {
		return nil, err
	}

	if e.opts.Decryptor == nil || len(results) == 0 {
		return results, nil
	}

	e.decryptHits(ctx, req.OwnerID, approval, results)

	return results, nil
}

// authorize resolves the approval material for the requester. The owner
// reading their own content is implicitly granted with no ledger round trip.
func (e *Engine) authorize(ctx context.Context, ownerID, requesterID string) ([]byte, error) {
	if requesterID == "" || requesterID == ownerID {
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.LedgerTimeout)
	defer cancel()

	grant, err := e.ledger.CheckGrant(callCtx, ownerID, requesterID, ledger.ScopeRead)
	if err != nil {
		if errors.Is(err, ledger.ErrNoGrant) {
			return nil, fmt.Errorf("%w: requester %q has no read grant for %q", ErrAccessDenied, requesterID, ownerID)
		}

		return nil, fmt.Errorf("check grant: %w", err)
	}

	return grant.Proof, nil
}

// search runs the ANN search under the owner's read lock and resolves record
// metadata for each hit.
func (e *Engine) search(st *ownerState, req QueryRequest) ([]QueryResult, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	searchK := req.K
	if req.Category != "" {
		// Over-fetch so the post-filter still has k candidates to keep.
		searchK = req.K * e.opts.CategoryOverfetch
	}

	hits, err := st.index.SearchWithEF(req.Vector, searchK, req.EF)
	if err != nil {
		return nil, err
	}

	var bitmap interface{ Contains(uint64) bool }
	if req.Category != "" {
		bm := st.categories[req.Category]
		if bm == nil {
			return nil, nil
		}

		bitmap = bm
	}

	results := make([]QueryResult, 0, req.K)

	for _, hit := range hits {
		if bitmap != nil && !bitmap.Contains(hit.ID) {
			continue
		}

		rec, ok := st.records[hit.ID]
		if !ok {
			continue
		}

		results = append(results, QueryResult{
			LocalID:    hit.ID,
			Distance:   hit.Distance,
			ContentRef: rec.ContentRef,
			Category:   rec.Category,
		})

		if len(results) == req.K {
			break
		}
	}

	return results, nil
}

// decryptHits fetches and decrypts each hit's ciphertext with bounded
// parallelism. Failures land on the individual hit.
func (e *Engine) decryptHits(ctx context.Context, ownerID string, approval []byte, results []QueryResult) {
	identity := []byte(ownerID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.DecryptParallelism)

	for i := range results {
		g.Go(func() error {
			hit := &results[i]

			callCtx, cancel := context.WithTimeout(gctx, e.opts.BlobTimeout)
			ciphertext, err := e.blobs.Get(callCtx, hit.ContentRef)
			cancel()

			if err != nil {
				hit.Err = fmt.Errorf("%w: %s: %v", ErrBlobUnavailable, hit.ContentRef, err)

				e.logger.Warn("query hit ciphertext unavailable",
					"owner", ownerID,
					"local_id", hit.LocalID,
					"blob_ref", hit.ContentRef,
					"error", err,
				)

				return nil
			}

			plaintext, err := e.opts.Decryptor.Decrypt(gctx, ciphertext, identity, approval)
			if err != nil {
				hit.Err = err

				e.logger.Warn("query hit decryption failed",
					"owner", ownerID,
					"local_id", hit.LocalID,
					"error", err,
				)

				return nil
			}

			hit.Plaintext = plaintext

			return nil
		})
	}

	// Goroutines never return errors; per-hit failures stay on the hit.
	_ = g.Wait()
}
