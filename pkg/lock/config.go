package lock

import (
	"time"
)

// ============================================================================
// Lock Manager Configuration
// ============================================================================

const (
	// DefaultGCInterval is the fixed delay between two GC sweeps.
	DefaultGCInterval = 5 * time.Second

	// DefaultGCIdleSweeps is how many consecutive sweeps a lock must be idle
	// before it is collected.
	DefaultGCIdleSweeps = 1

	// DefaultLeaseScanInterval is how often expired greedy leases are recalled.
	DefaultLeaseScanInterval = 50 * time.Millisecond
)

// Config contains configuration settings for the lock manager.
type Config struct {
	// ClientID identifies this client in exchange contexts.
	ClientID ClientID `mapstructure:"client_id" yaml:"client_id"`

	// GCInterval is the delay between two garbage collection sweeps.
	// Zero disables the background sweep (RunGC can still be called).
	// Default: 5s
	GCInterval time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`

	// GCIdleSweeps is how many consecutive idle sweeps a lock survives
	// before it is collected. Saturates at 255.
	// Default: 1
	GCIdleSweeps int `mapstructure:"gc_idle_sweeps" yaml:"gc_idle_sweeps"`

	// LeaseScanInterval is how often greedy grants kept under a lease are
	// checked for expiry.
	// Default: 50ms
	LeaseScanInterval time.Duration `mapstructure:"lease_scan_interval" yaml:"lease_scan_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GCInterval:        DefaultGCInterval,
		GCIdleSweeps:      DefaultGCIdleSweeps,
		LeaseScanInterval: DefaultLeaseScanInterval,
	}
}

// idleSweeps clamps GCIdleSweeps into the range of the idle counter.
func (c Config) idleSweeps() uint8 {
	switch {
	case c.GCIdleSweeps <= 0:
		return 0
	case c.GCIdleSweeps > 255:
		return 255
	default:
		return uint8(c.GCIdleSweeps)
	}
}
