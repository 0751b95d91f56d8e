package engine

import (
	"log/slog"
	"time"

	"github.com/hupe1980/vecvault/codec"
	"github.com/hupe1980/vecvault/threshold"
)

// Options configures an Engine.
type Options struct {
	// Dimension is the vector dimensionality for every owner index. Required.
	Dimension int

	// M, EFConstruction and EFSearch tune the per-owner HNSW graphs.
	// Zero values fall back to the hnsw package defaults.
	M              int
	EFConstruction int
	EFSearch       int

	// MaxBatch is the pending-batch size that triggers immediate
	// materialization.
	MaxBatch int

	// Debounce is how long a pending batch may sit idle before it is
	// materialized. Every Submit resets the timer.
	Debounce time.Duration

	// SnapshotEvery is the number of materializations between snapshot
	// attempts.
	SnapshotEvery int

	// SnapshotRetries is the attempt count for blob uploads and registry
	// records during a snapshot.
	SnapshotRetries int

	// SnapshotBackoff is the initial backoff between snapshot attempts;
	// it doubles per retry.
	SnapshotBackoff time.Duration

	// SnapshotRateBytes caps snapshot upload throughput in bytes per
	// second. Zero means unlimited.
	SnapshotRateBytes int

	// Compression selects the snapshot payload compression: "zstd", "lz4"
	// or "none".
	Compression string

	// BlobTimeout bounds individual blob store calls.
	BlobTimeout time.Duration

	// LedgerTimeout bounds individual ledger calls.
	LedgerTimeout time.Duration

	// DecryptParallelism bounds concurrent per-hit decryptions in a query.
	DecryptParallelism int

	// CategoryOverfetch multiplies k when a category filter is set, so the
	// post-filter still has enough candidates.
	CategoryOverfetch int

	// MaxLoadedOwners bounds the number of resident owner states. Zero
	// means unbounded. Owners with unpersisted writes are never evicted.
	MaxLoadedOwners int

	// ErrorBuffer is the capacity of the deferred-error channel.
	ErrorBuffer int

	// Decryptor recovers plaintext for query hits. Nil disables decryption;
	// queries then return content refs only.
	Decryptor threshold.Decryptor

	// Codec encodes the snapshot record table.
	Codec codec.Codec

	// Logger receives structured operational logs.
	Logger *slog.Logger

	// Metrics receives operation metrics.
	Metrics MetricsCollector
}

// DefaultOptions are the default options for an Engine.
var DefaultOptions = Options{
	MaxBatch:           50,
	Debounce:           5 * time.Second,
	SnapshotEvery:      10,
	SnapshotRetries:    3,
	SnapshotBackoff:    500 * time.Millisecond,
	Compression:        CompressionZstd,
	BlobTimeout:        15 * time.Second,
	LedgerTimeout:      15 * time.Second,
	DecryptParallelism: 4,
	CategoryOverfetch:  4,
	ErrorBuffer:        128,
}
