package engine

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordSubmit is called after each submit operation.
	RecordSubmit(duration time.Duration, err error)

	// RecordMaterialize is called after each batch materialization.
	// count is the number of entries attempted, failed is the number that
	// failed.
	RecordMaterialize(count, failed int, duration time.Duration)

	// RecordSnapshot is called after each snapshot attempt.
	// size is the uploaded payload size in bytes (0 on failure).
	RecordSnapshot(size int, duration time.Duration, err error)

	// RecordRecovery is called after each cold-start load.
	RecordRecovery(duration time.Duration, degraded bool, err error)

	// RecordQuery is called after each query.
	// k is the number of neighbors requested.
	RecordQuery(k int, duration time.Duration, err error)

	// RecordDeferredError is called when a failure is pushed to the
	// deferred-error channel (or dropped because it was full).
	RecordDeferredError(dropped bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSubmit(time.Duration, error)            {}
func (NoopMetricsCollector) RecordMaterialize(int, int, time.Duration)    {}
func (NoopMetricsCollector) RecordSnapshot(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordRecovery(time.Duration, bool, error)    {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordDeferredError(bool)                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SubmitCount        atomic.Int64
	SubmitErrors       atomic.Int64
	MaterializeCount   atomic.Int64
	MaterializeItems   atomic.Int64
	MaterializeFailed  atomic.Int64
	SnapshotCount      atomic.Int64
	SnapshotErrors     atomic.Int64
	SnapshotBytes      atomic.Int64
	RecoveryCount      atomic.Int64
	RecoveryDegraded   atomic.Int64
	RecoveryErrors     atomic.Int64
	QueryCount         atomic.Int64
	QueryErrors        atomic.Int64
	QueryTotalNanos    atomic.Int64
	DeferredErrors     atomic.Int64
	DeferredDropped    atomic.Int64
}

// RecordSubmit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSubmit(_ time.Duration, err error) {
	b.SubmitCount.Add(1)
	if err != nil {
		b.SubmitErrors.Add(1)
	}
}

// RecordMaterialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMaterialize(count, failed int, _ time.Duration) {
	b.MaterializeCount.Add(1)
	b.MaterializeItems.Add(int64(count))
	b.MaterializeFailed.Add(int64(failed))
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(size int, _ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	b.SnapshotBytes.Add(int64(size))
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// RecordRecovery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecovery(_ time.Duration, degraded bool, err error) {
	b.RecoveryCount.Add(1)
	if degraded {
		b.RecoveryDegraded.Add(1)
	}
	if err != nil {
		b.RecoveryErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(_ int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordDeferredError implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDeferredError(dropped bool) {
	b.DeferredErrors.Add(1)
	if dropped {
		b.DeferredDropped.Add(1)
	}
}
