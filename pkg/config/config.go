package config

import (
	"time"

	"github.com/marmos91/dittolock/pkg/api"
	"github.com/marmos91/dittolock/pkg/lock"
	"github.com/marmos91/dittolock/pkg/lock/loopback"
	"github.com/marmos91/dittolock/pkg/lock/remote"
)

// Config represents the DittoLock node configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOLOCK_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the node HTTP API configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Lock configures the lock manager of this node
	Lock LockConfig `mapstructure:"lock" yaml:"lock"`

	// Gateway configures how the lock manager talks to the lock server
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`

	// Server configures the embedded lock server
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// LockConfig contains lock manager configuration.
type LockConfig struct {
	// ClientID identifies this node to the lock server.
	// Default: the hostname
	ClientID string `mapstructure:"client_id" validate:"required" yaml:"client_id"`

	// GCInterval is the delay between two sweeps of idle locks.
	// Zero disables the background sweep.
	// Default: 5s
	GCInterval time.Duration `mapstructure:"gc_interval" validate:"gte=0" yaml:"gc_interval"`

	// GCIdleSweeps is how many idle sweeps a lock survives before it is
	// recalled or collected.
	// Default: 1
	GCIdleSweeps int `mapstructure:"gc_idle_sweeps" validate:"gte=0,lte=255" yaml:"gc_idle_sweeps"`

	// LeaseScanInterval is how often recall leases are checked for expiry.
	// Default: 50ms
	LeaseScanInterval time.Duration `mapstructure:"lease_scan_interval" validate:"gt=0" yaml:"lease_scan_interval"`
}

// GatewayConfig configures the remote lock gateway.
type GatewayConfig struct {
	// RecallBatchSize is the largest batch of recall commits sent at once.
	// Values below 2 disable batching.
	// Default: 32
	RecallBatchSize int `mapstructure:"recall_batch_size" validate:"gte=0" yaml:"recall_batch_size"`

	// RecallBatchDelay is how long a batched commit may wait for others.
	// Default: 10ms
	RecallBatchDelay time.Duration `mapstructure:"recall_batch_delay" validate:"gte=0" yaml:"recall_batch_delay"`

	// FlushTimeout bounds flushes run before a grant is released.
	// Default: 30s
	FlushTimeout time.Duration `mapstructure:"flush_timeout" validate:"gte=0" yaml:"flush_timeout"`
}

// ServerConfig configures the embedded lock server.
type ServerConfig struct {
	// RecallLease lets a recalled client keep a greedy grant while its own
	// threads still queue for it (0 = no lease).
	RecallLease time.Duration `mapstructure:"recall_lease" validate:"gte=0" yaml:"recall_lease"`

	// FlushDelay simulates the time a flush of protected state takes.
	FlushDelay time.Duration `mapstructure:"flush_delay" validate:"gte=0" yaml:"flush_delay"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Default: ["cpu", "goroutines", "mutex_count", "mutex_duration", "block_count", "block_duration"]
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus metrics.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served on the API
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port serves /metrics on a dedicated listener as well (0 = API only)
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ManagerConfig converts the lock section for lock.NewManager.
func (c *Config) ManagerConfig() lock.Config {
	return lock.Config{
		ClientID:          lock.ClientID(c.Lock.ClientID),
		GCInterval:        c.Lock.GCInterval,
		GCIdleSweeps:      c.Lock.GCIdleSweeps,
		LeaseScanInterval: c.Lock.LeaseScanInterval,
	}
}

// GatewayConfig converts the gateway section for remote.NewGateway.
func (c *Config) GatewayConfig() remote.Config {
	return remote.Config{
		ClientID:         lock.ClientID(c.Lock.ClientID),
		RecallBatchSize:  c.Gateway.RecallBatchSize,
		RecallBatchDelay: c.Gateway.RecallBatchDelay,
		FlushTimeout:     c.Gateway.FlushTimeout,
	}
}

// LoopbackConfig converts the server section for loopback.NewServer.
func (c *Config) LoopbackConfig() loopback.Config {
	return loopback.Config{
		RecallLease: c.Server.RecallLease,
		FlushDelay:  c.Server.FlushDelay,
	}
}
