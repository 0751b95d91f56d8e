package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/vecvault/blobstore"
	"github.com/hupe1980/vecvault/hnsw"
	"github.com/hupe1980/vecvault/ledger"
)

// ensureLoaded returns the resident owner state, performing cold-start
// recovery on first touch. Concurrent callers for the same owner share a
// single load via singleflight.
func (e *Engine) ensureLoaded(ctx context.Context, ownerID string) (*ownerState, error) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}

	if st, ok := e.owners[ownerID]; ok {
		e.touchLocked(st)
		e.mu.Unlock()

		return st, nil
	}

	e.mu.Unlock()

	v, err, _ := e.loadGroup.Do(ownerID, func() (any, error) {
		// Re-check: another flight may have finished between the fast path
		// and Do.
		e.mu.Lock()
		if st, ok := e.owners[ownerID]; ok {
			e.touchLocked(st)
			e.mu.Unlock()

			return st, nil
		}
		e.mu.Unlock()

		st, err := e.loadOwner(ctx, ownerID)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		if e.closed {
			return nil, ErrClosed
		}

		e.owners[ownerID] = st
		e.touchLocked(st)

		return st, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*ownerState), nil
}

// loadOwner restores an owner from its latest snapshot. No snapshot means a
// fresh empty state. A snapshot that cannot be decoded yields an empty state
// flagged degraded; the owner keeps serving, and the next snapshot writes a
// higher version than the damaged one.
func (e *Engine) loadOwner(ctx context.Context, ownerID string) (*ownerState, error) {
	start := time.Now()

	st, degraded, err := e.load(ctx, ownerID)

	e.metrics.RecordRecovery(time.Since(start), degraded, err)

	return st, err
}

func (e *Engine) load(ctx context.Context, ownerID string) (*ownerState, bool, error) {
	latest, err := e.latestSnapshotWithRetry(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoSnapshot) {
			st, err := e.emptyState(ownerID)
			if err != nil {
				return nil, false, err
			}

			e.logger.Info("owner loaded fresh", "owner", ownerID)

			return st, false, nil
		}

		return nil, false, fmt.Errorf("resolve latest snapshot for %s: %w", ownerID, err)
	}

	var envelope []byte

	err = e.withRetry(ctx, e.opts.BlobTimeout, func(callCtx context.Context) error {
		var getErr error
		envelope, getErr = e.blobs.Get(callCtx, latest.BlobRef)
		return getErr
	})

	switch {
	case err == nil:
		idx, meta, decodeErr := e.decodeSnapshot(envelope)
		if decodeErr == nil {
			st := e.restoredState(ownerID, idx, meta, latest.Version)

			e.logger.Info("owner recovered from snapshot",
				"owner", ownerID,
				"version", latest.Version,
				"vectors", idx.Len(),
			)

			return st, false, nil
		}

		if !errors.Is(decodeErr, hnsw.ErrCorruptIndex) {
			return nil, false, fmt.Errorf("decode snapshot %d for %s: %w", latest.Version, ownerID, decodeErr)
		}

		err = decodeErr

	case errors.Is(err, blobstore.ErrNotFound):
		// Recorded blob is gone; same contract as corruption.

	default:
		return nil, false, fmt.Errorf("fetch snapshot %d for %s: %w", latest.Version, ownerID, err)
	}

	st, stateErr := e.emptyState(ownerID)
	if stateErr != nil {
		return nil, false, stateErr
	}

	st.degraded = true
	st.version = latest.Version

	e.logger.Error("snapshot unusable, owner degraded to empty state",
		"owner", ownerID,
		"version", latest.Version,
		"blob_ref", latest.BlobRef,
		"error", err,
	)

	return st, true, nil
}

// latestSnapshotWithRetry retries transient registry reads; a registry that
// just recorded a version may briefly not serve it.
func (e *Engine) latestSnapshotWithRetry(ctx context.Context, ownerID string) (ledger.SnapshotRef, error) {
	var ref ledger.SnapshotRef

	err := e.withRetry(ctx, e.opts.LedgerTimeout, func(callCtx context.Context) error {
		var lookupErr error
		ref, lookupErr = e.ledger.LatestSnapshot(callCtx, ownerID)

		if errors.Is(lookupErr, ledger.ErrNoSnapshot) {
			// Definitive answer, not a transient failure.
			return nil
		}

		return lookupErr
	})
	if err != nil {
		return ledger.SnapshotRef{}, err
	}

	if ref.Version == 0 {
		return ledger.SnapshotRef{}, ledger.ErrNoSnapshot
	}

	return ref, nil
}

func (e *Engine) emptyState(ownerID string) (*ownerState, error) {
	idx, err := e.newIndex()
	if err != nil {
		return nil, err
	}

	return &ownerState{
		id:         ownerID,
		index:      idx,
		records:    make(map[uint64]Record),
		categories: make(map[string]*roaring64.Bitmap),
	}, nil
}

func (e *Engine) restoredState(ownerID string, idx *hnsw.Index, meta snapshotMeta, version uint64) *ownerState {
	categories := make(map[string]*roaring64.Bitmap)

	for id, rec := range meta.Records {
		if rec.Category == "" {
			continue
		}

		bm := categories[rec.Category]
		if bm == nil {
			bm = roaring64.NewBitmap()
			categories[rec.Category] = bm
		}

		bm.Add(id)
	}

	return &ownerState{
		id:          ownerID,
		index:       idx,
		records:     meta.Records,
		categories:  categories,
		version:     version,
		nextLocalID: meta.NextLocalID,
	}
}

func (e *Engine) newIndex() (*hnsw.Index, error) {
	return hnsw.New(func(o *hnsw.Options) {
		o.Dimension = e.opts.Dimension

		if e.opts.M > 0 {
			o.M = e.opts.M
		}

		if e.opts.EFConstruction > 0 {
			o.EFConstruction = e.opts.EFConstruction
		}

		if e.opts.EFSearch > 0 {
			o.EFSearch = e.opts.EFSearch
		}
	})
}
