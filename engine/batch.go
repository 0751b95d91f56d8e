package engine

import (
	"context"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Submit validates and enqueues one vector for the owner. The assigned
// localID is returned immediately; the insert itself happens when the batch
// materializes (after the debounce window or when MaxBatch entries are
// pending). Insert failures after this call returns are reported on Errors.
func (e *Engine) Submit(ctx context.Context, ownerID string, rec Record, vector []float32) (uint64, error) {
	start := time.Now()

	localID, err := e.submit(ctx, ownerID, rec, vector)

	e.metrics.RecordSubmit(time.Since(start), err)

	return localID, err
}

func (e *Engine) submit(ctx context.Context, ownerID string, rec Record, vector []float32) (uint64, error) {
	if len(vector) != e.opts.Dimension {
		return 0, &DimensionMismatchError{Expected: e.opts.Dimension, Actual: len(vector)}
	}

	st, err := e.ensureLoaded(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	// Copy; the caller may reuse its slice.
	vec := make([]float32, len(vector))
	copy(vec, vector)

	st.batchMu.Lock()

	localID := st.nextLocalID
	st.nextLocalID++

	st.pending = append(st.pending, pendingEntry{
		localID: localID,
		record:  rec,
		vector:  vec,
	})

	full := len(st.pending) >= e.opts.MaxBatch

	if full {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	} else {
		if st.timer != nil {
			st.timer.Stop()
		}

		st.timer = time.AfterFunc(e.opts.Debounce, func() {
			e.materializeAsync(st)
		})
	}

	st.batchMu.Unlock()

	if full {
		e.wg.Add(1)

		go func() {
			defer e.wg.Done()
			e.materializeAndMaybeSnapshot(st)
		}()
	}

	e.logger.Debug("submit accepted",
		"owner", ownerID,
		"local_id", localID,
		"batch_full", full,
	)

	return localID, nil
}

func (e *Engine) materializeAsync(st *ownerState) {
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.materializeAndMaybeSnapshot(st)
	}()
}

func (e *Engine) materializeAndMaybeSnapshot(st *ownerState) {
	st.flushMu.Lock()
	defer st.flushMu.Unlock()

	e.materializeLocked(st)
	e.maybeSnapshotLocked(st)
}

// materializeLocked drains the pending batch into the owner's index in
// submission order. Per-entry failures are deferred and do not stop the rest
// of the batch. Caller holds st.flushMu.
func (e *Engine) materializeLocked(st *ownerState) {
	st.batchMu.Lock()

	batch := st.pending
	st.pending = nil

	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}

	st.batchMu.Unlock()

	if len(batch) == 0 {
		return
	}

	start := time.Now()
	failed := 0

	st.mu.Lock()

	for _, entry := range batch {
		if err := st.index.Insert(entry.localID, entry.vector); err != nil {
			failed++

			e.logger.Error("materialize insert failed",
				"owner", st.id,
				"local_id", entry.localID,
				"error", err,
			)
			e.deferError(st.id, "materialize", entry.localID, err)

			continue
		}

		st.records[entry.localID] = entry.record

		if entry.record.Category != "" {
			bm := st.categories[entry.record.Category]
			if bm == nil {
				bm = roaring64.NewBitmap()
				st.categories[entry.record.Category] = bm
			}

			bm.Add(entry.localID)
		}
	}

	st.unsnapshotted++

	st.mu.Unlock()

	e.metrics.RecordMaterialize(len(batch), failed, time.Since(start))

	e.logger.Info("batch materialized",
		"owner", st.id,
		"count", len(batch),
		"failed", failed,
	)
}

// maybeSnapshotLocked snapshots when the materialization cadence is due.
// Caller holds st.flushMu.
func (e *Engine) maybeSnapshotLocked(st *ownerState) {
	st.mu.RLock()
	due := st.unsnapshotted >= e.opts.SnapshotEvery
	st.mu.RUnlock()

	if !due {
		return
	}

	if err := e.snapshotLocked(context.Background(), st); err != nil {
		e.deferError(st.id, "snapshot", 0, err)
	}
}
