package config

import (
	"os"
	"strings"
	"time"

	"github.com/marmos91/dittolock/pkg/api"
	"github.com/marmos91/dittolock/pkg/lock"
	"github.com/marmos91/dittolock/pkg/lock/remote"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applyLockDefaults(&cfg.Lock)
	applyGatewayDefaults(&cfg.Gateway)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Lock contention shows up in the mutex and block profiles
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"goroutines",
			"mutex_count",
			"mutex_duration",
			"block_count",
			"block_duration",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyAPIDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

// applyLockDefaults sets lock manager defaults.
//
// GCIdleSweeps keeps an explicit 0 (collect on the first idle sweep), so
// only a negative value is replaced.
func applyLockDefaults(cfg *LockConfig) {
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID()
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = lock.DefaultGCInterval
	}
	if cfg.GCIdleSweeps < 0 {
		cfg.GCIdleSweeps = lock.DefaultGCIdleSweeps
	}
	if cfg.LeaseScanInterval == 0 {
		cfg.LeaseScanInterval = lock.DefaultLeaseScanInterval
	}
}

func applyGatewayDefaults(cfg *GatewayConfig) {
	if cfg.RecallBatchSize == 0 {
		cfg.RecallBatchSize = remote.DefaultRecallBatchSize
	}
	if cfg.RecallBatchDelay == 0 {
		cfg.RecallBatchDelay = remote.DefaultRecallBatchDelay
	}
	if cfg.FlushTimeout == 0 {
		cfg.FlushTimeout = remote.DefaultFlushTimeout
	}
}

// defaultClientID is the hostname, or "dittolock" when it is unknown.
func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "dittolock"
	}
	return host
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Lock: LockConfig{
			GCIdleSweeps: lock.DefaultGCIdleSweeps,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
