package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// InitConfig writes a sample configuration file to the default location and
// returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a sample configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(generateConfigTemplate()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateConfigTemplate renders the commented sample configuration.
func generateConfigTemplate() string {
	cfg := GetDefaultConfig()

	return fmt.Sprintf(`# DittoLock Configuration File
#
# Every value below is the default. Environment variables override the file:
# DITTOLOCK_LOGGING_LEVEL=DEBUG, DITTOLOCK_LOCK_CLIENT_ID=node-1, ...

logging:
  # DEBUG, INFO, WARN or ERROR
  level: %s
  # text or json
  format: %s
  # stdout, stderr or a file path
  output: %s

telemetry:
  enabled: false
  endpoint: %q
  insecure: true
  sample_rate: 1.0
  profiling:
    enabled: false
    endpoint: %q

shutdown_timeout: %s

metrics:
  enabled: false
  # Serve /metrics on a dedicated port as well (0 = API only)
  port: 0

api:
  enabled: true
  port: %d
  read_timeout: %s
  write_timeout: %s
  idle_timeout: %s

lock:
  # Identifies this node to the lock server
  client_id: %q
  # Delay between two sweeps of idle locks (0 disables the sweep)
  gc_interval: %s
  # Idle sweeps a lock survives before it is collected
  gc_idle_sweeps: %d
  lease_scan_interval: %s

gateway:
  # Largest batch of recall commits (values below 2 disable batching)
  recall_batch_size: %d
  recall_batch_delay: %s
  flush_timeout: %s

server:
  # How long a recalled node keeps a greedy grant its own threads still need
  recall_lease: 0s
  flush_delay: 0s
`,
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Telemetry.Endpoint,
		cfg.Telemetry.Profiling.Endpoint,
		cfg.ShutdownTimeout,
		cfg.API.Port,
		cfg.API.ReadTimeout,
		cfg.API.WriteTimeout,
		cfg.API.IdleTimeout,
		cfg.Lock.ClientID,
		cfg.Lock.GCInterval,
		cfg.Lock.GCIdleSweeps,
		cfg.Lock.LeaseScanInterval,
		cfg.Gateway.RecallBatchSize,
		cfg.Gateway.RecallBatchDelay,
		cfg.Gateway.FlushTimeout,
	)
}
