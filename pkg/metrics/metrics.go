// Package metrics exposes Prometheus instrumentation for the scan/encode/
// decode hot paths (packets scanned, blocks recovered by slide search, RS
// encode/decode duration). Instrumentation is opt-in: until InitRegistry is
// called, IsEnabled reports false and every recorder in this package is a
// no-op, so packages that embed a *metrics.Collector can be used in tests
// without a registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
	enabled  bool

	collectorOnce sync.Once
	collector     *Collector
)

// InitRegistry installs reg as the process-wide registry and marks metrics
// as enabled. Call once at process startup, before constructing any
// Collector. Passing nil disables metrics.
func InitRegistry(reg *prometheus.Registry) {
	mu.Lock()
	defer mu.Unlock()
	registry = reg
	enabled = reg != nil
}

// IsEnabled reports whether InitRegistry has been called with a non-nil
// registry.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the process-wide registry, or nil if metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Default returns the process-wide Collector, built once (against whatever
// registry InitRegistry installed) on first use. Callers that don't need
// their own Collector instance — the packet scanner in particular, which
// would otherwise need a Collector threaded through every command that
// constructs an IncrementalReader — use this instead. Like every Collector,
// the result is nil and safe to call methods on when metrics are disabled.
func Default() *Collector {
	collectorOnce.Do(func() {
		collector = NewCollector()
	})
	return collector
}
