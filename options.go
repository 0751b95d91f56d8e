package vecvault

import (
	"time"

	"github.com/hupe1980/vecvault/codec"
	"github.com/hupe1980/vecvault/embedding"
	"github.com/hupe1980/vecvault/engine"
	"github.com/hupe1980/vecvault/threshold"
)

type options struct {
	logger     *Logger
	metrics    MetricsCollector
	embedder   embedding.Source
	engineOpts []func(o *engine.Options)
}

// Option configures a Vault.
type Option func(*options)

// WithLogger sets the logger. Defaults to NoopLogger.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector. Defaults to NoopMetricsCollector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithEmbeddingSource sets the embedding source used by AddContent.
func WithEmbeddingSource(src embedding.Source) Option {
	return func(o *options) {
		o.embedder = src
	}
}

// WithDecryptor sets the threshold decryptor used to recover plaintext for
// query hits. Without one, queries return content refs only.
func WithDecryptor(dec threshold.Decryptor) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, func(eo *engine.Options) {
			eo.Decryptor = dec
		})
	}
}

// WithCodec sets the codec for the snapshot record table.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, func(eo *engine.Options) {
			eo.Codec = c
		})
	}
}

// WithBatchPolicy tunes the write path: maxBatch triggers immediate
// materialization, debounce is the idle window before a partial batch is
// materialized.
func WithBatchPolicy(maxBatch int, debounce time.Duration) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, func(eo *engine.Options) {
			if maxBatch > 0 {
				eo.MaxBatch = maxBatch
			}
			if debounce > 0 {
				eo.Debounce = debounce
			}
		})
	}
}

// WithSnapshotCadence sets how many materializations occur between snapshot
// attempts.
func WithSnapshotCadence(every int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, func(eo *engine.Options) {
			if every > 0 {
				eo.SnapshotEvery = every
			}
		})
	}
}

// WithCompression selects the snapshot compression: "zstd" (default), "lz4"
// or "none".
func WithCompression(name string) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, func(eo *engine.Options) {
			eo.Compression = name
		})
	}
}

// WithSnapshotRateLimit caps snapshot upload throughput in bytes per second.
func WithSnapshotRateLimit(bytesPerSec int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, func(eo *engine.Options) {
			eo.SnapshotRateBytes = bytesPerSec
		})
	}
}

// WithMaxLoadedOwners bounds the number of resident owner states. Owners
// with unpersisted writes are never evicted.
func WithMaxLoadedOwners(n int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, func(eo *engine.Options) {
			eo.MaxLoadedOwners = n
		})
	}
}

// WithHNSW tunes the per-owner graph construction and search parameters.
func WithHNSW(m, efConstruction, efSearch int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, func(eo *engine.Options) {
			eo.M = m
			eo.EFConstruction = efConstruction
			eo.EFSearch = efSearch
		})
	}
}

// WithEngineOptions applies raw engine options. An escape hatch for settings
// without a dedicated Option.
func WithEngineOptions(fns ...func(o *engine.Options)) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, fns...)
	}
}
