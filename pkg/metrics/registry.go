// Package metrics owns the Prometheus registry shared by every component.
//
// Metrics are opt-in: until InitRegistry is called, IsEnabled reports false
// and the constructors in this package return nil, which components treat
// as "no metrics" with zero overhead.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittolock/pkg/lock"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide registry with the Go runtime and
// process collectors. Calling it again is a no-op.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return registry
}

// IsEnabled returns whether InitRegistry was called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
// It answers 404 when metrics are disabled.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// NewLockMetrics creates lock client metrics registered on the shared
// registry.
//
// Returns nil if metrics are not enabled. *lock.Metrics methods are nil-safe,
// so the result can always be handed to lock.NewManager.
//
// Example usage:
//
//	metrics.InitRegistry()
//	m := lock.NewManager(gateway, cfg, metrics.NewLockMetrics())
func NewLockMetrics() *lock.Metrics {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}
	return lock.NewMetrics(reg)
}

// reset drops the registry. Tests only.
func reset() {
	mu.Lock()
	registry = nil
	mu.Unlock()
}
