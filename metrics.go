package vecvault

import "github.com/hupe1980/vecvault/engine"

// MetricsCollector defines an interface for collecting operational metrics.
// See engine.MetricsCollector for the method set.
type MetricsCollector = engine.MetricsCollector

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector = engine.NoopMetricsCollector

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector = engine.BasicMetricsCollector
