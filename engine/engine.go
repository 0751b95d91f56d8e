// Package engine implements the per-owner vector index lifecycle: batched
// writes, asynchronous versioned snapshots to content-addressed blob storage,
// cold-start recovery and permission-gated queries.
//
// Each owner has an isolated state (HNSW index, record table, category
// bitmaps, pending batch). Owner states are loaded lazily on first touch and
// may be evicted under an LRU policy, but never while they hold writes that
// have not reached a persisted snapshot.
package engine

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/vecvault/blobstore"
	"github.com/hupe1980/vecvault/codec"
	"github.com/hupe1980/vecvault/hnsw"
	"github.com/hupe1980/vecvault/ledger"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Record is the caller-supplied metadata stored per vector.
type Record struct {
	// ContentRef is the content address of the encrypted content blob.
	ContentRef blobstore.Ref `json:"content_ref"`

	// Category is an optional label used for query-time filtering.
	Category string `json:"category,omitempty"`
}

// Stats describes an owner's current state.
type Stats struct {
	Loaded          bool
	VectorCount     int
	PendingCount    int
	SnapshotVersion uint64
	Degraded        bool
}

type pendingEntry struct {
	localID uint64
	record  Record
	vector  []float32
}

// ownerState is the resident state for one owner. Lock order when multiple
// are needed: flushMu > batchMu > mu.
type ownerState struct {
	id string

	// mu guards the materialized state below.
	mu            sync.RWMutex
	index         *hnsw.Index
	records       map[uint64]Record
	categories    map[string]*roaring64.Bitmap
	version       uint64
	degraded      bool
	unsnapshotted int // materializations since the last recorded snapshot

	// batchMu guards the pending batch.
	batchMu     sync.Mutex
	pending     []pendingEntry
	timer       *time.Timer
	nextLocalID uint64

	// flushMu serializes materialize/snapshot cycles for this owner.
	flushMu sync.Mutex

	elem *list.Element
}

// Engine coordinates owner states against the blob store, the ledger and the
// decryptor.
type Engine struct {
	opts      Options
	blobs     blobstore.BlobStore
	ledger    ledger.Ledger
	logger    *slog.Logger
	metrics   MetricsCollector
	limiter   *rate.Limiter
	comp      compressor
	metaCodec codec.Codec

	mu     sync.Mutex
	owners map[string]*ownerState
	lru    *list.List // front = most recently used
	closed bool

	loadGroup singleflight.Group

	errCh chan OwnerError

	wg sync.WaitGroup
}

// New creates an Engine over the given blob store and ledger.
func New(blobs blobstore.BlobStore, ldg ledger.Ledger, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &DimensionMismatchError{Expected: 1, Actual: opts.Dimension}
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Metrics == nil {
		opts.Metrics = NoopMetricsCollector{}
	}

	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	comp, err := compressorByName(opts.Compression)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:      opts,
		blobs:     blobs,
		ledger:    ldg,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		comp:      comp,
		metaCodec: opts.Codec,
		owners:    make(map[string]*ownerState),
		lru:       list.New(),
		errCh:     make(chan OwnerError, opts.ErrorBuffer),
	}

	if opts.SnapshotRateBytes > 0 {
		// Burst sized to the rate so WaitN can admit whole chunks.
		e.limiter = rate.NewLimiter(rate.Limit(opts.SnapshotRateBytes), opts.SnapshotRateBytes)
	}

	return e, nil
}

// Errors returns the deferred-error channel. Materialization and snapshot
// failures that happen after the triggering call returned are reported here.
// Consuming it is optional; when the buffer is full new errors are dropped
// (and counted by the metrics collector).
func (e *Engine) Errors() <-chan OwnerError {
	return e.errCh
}

// OwnerStats returns the current state of an owner. An owner that is not
// resident reports Loaded=false.
func (e *Engine) OwnerStats(ownerID string) Stats {
	e.mu.Lock()
	st, ok := e.owners[ownerID]
	e.mu.Unlock()

	if !ok {
		return Stats{}
	}

	st.batchMu.Lock()
	pending := len(st.pending)
	st.batchMu.Unlock()

	st.mu.RLock()
	defer st.mu.RUnlock()

	return Stats{
		Loaded:          true,
		VectorCount:     st.index.Len(),
		PendingCount:    pending,
		SnapshotVersion: st.version,
		Degraded:        st.degraded,
	}
}

// Flush materializes the owner's pending batch and forces a snapshot,
// regardless of the debounce and snapshot cadence. Returns the first error
// encountered; individual entry failures during materialization are still
// deferred.
func (e *Engine) Flush(ctx context.Context, ownerID string) error {
	st, err := e.ensureLoaded(ctx, ownerID)
	if err != nil {
		return err
	}

	st.flushMu.Lock()
	defer st.flushMu.Unlock()

	e.materializeLocked(st)

	return e.snapshotLocked(ctx, st)
}

// Close stops the debounce timers, materializes all pending batches and
// snapshots every owner with unpersisted writes. The engine rejects new work
// afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	e.closed = true

	states := make([]*ownerState, 0, len(e.owners))
	for _, st := range e.owners {
		states = append(states, st)
	}
	e.mu.Unlock()

	var firstErr error

	for _, st := range states {
		st.batchMu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.batchMu.Unlock()

		st.flushMu.Lock()

		e.materializeLocked(st)

		st.mu.RLock()
		dirty := st.unsnapshotted > 0
		st.mu.RUnlock()

		if dirty {
			if err := e.snapshotLocked(ctx, st); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		st.flushMu.Unlock()
	}

	e.wg.Wait()

	return firstErr
}

// deferError pushes a failure to the deferred-error channel without blocking.
func (e *Engine) deferError(ownerID, op string, localID uint64, err error) {
	oe := OwnerError{
		OwnerID: ownerID,
		Op:      op,
		LocalID: localID,
		Err:     err,
		Time:    time.Now(),
	}

	select {
	case e.errCh <- oe:
		e.metrics.RecordDeferredError(false)
	default:
		e.metrics.RecordDeferredError(true)
		e.logger.Warn("deferred error dropped, channel full",
			"owner", ownerID,
			"op", op,
			"error", err,
		)
	}
}

// touchLocked moves the owner to the LRU front and evicts over-capacity
// owners. Caller holds e.mu.
func (e *Engine) touchLocked(st *ownerState) {
	if st.elem == nil {
		st.elem = e.lru.PushFront(st)
	} else {
		e.lru.MoveToFront(st.elem)
	}

	if e.opts.MaxLoadedOwners <= 0 {
		return
	}

	for e.lru.Len() > e.opts.MaxLoadedOwners {
		if !e.evictOneLocked() {
			return
		}
	}
}

// evictOneLocked removes the least recently used owner that holds no
// unpersisted writes. Returns false when no owner is evictable.
func (e *Engine) evictOneLocked() bool {
	for elem := e.lru.Back(); elem != nil; elem = elem.Prev() {
		st := elem.Value.(*ownerState)

		if st.elem == e.lru.Front() {
			return false
		}

		st.batchMu.Lock()
		pending := len(st.pending)
		st.batchMu.Unlock()

		st.mu.RLock()
		dirty := pending > 0 || st.unsnapshotted > 0
		st.mu.RUnlock()

		if dirty {
			continue
		}

		e.lru.Remove(elem)
		delete(e.owners, st.id)
		st.elem = nil

		e.logger.Debug("owner evicted", "owner", st.id)

		return true
	}

	return false
}
