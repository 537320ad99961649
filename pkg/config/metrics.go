package config

import (
	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/lock"
	"github.com/marmos91/dittolock/pkg/metrics"
)

// InitializeMetrics sets up the shared Prometheus registry when metrics are
// enabled and returns the lock metrics to hand to the manager and gateway.
//
// Returns nil when metrics are disabled; nil metrics are a no-op.
func InitializeMetrics(cfg *Config) *lock.Metrics {
	if !cfg.Metrics.Enabled {
		logger.Debug("Metrics collection disabled")
		return nil
	}

	metrics.InitRegistry()
	logger.Info("Metrics collection enabled", "port", cfg.Metrics.Port)
	return metrics.NewLockMetrics()
}
