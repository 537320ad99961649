package config

import (
	"testing"
	"time"

	"github.com/marmos91/dittolock/pkg/lock"
	"github.com/marmos91/dittolock/pkg/lock/remote"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LevelNormalized(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Port != 7070 {
		t.Errorf("Expected default API port 7070, got %d", cfg.API.Port)
	}
	if cfg.API.ReadTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout 10s, got %v", cfg.API.ReadTimeout)
	}
	if cfg.API.WriteTimeout != 10*time.Second {
		t.Errorf("Expected default write timeout 10s, got %v", cfg.API.WriteTimeout)
	}
	if cfg.API.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default idle timeout 60s, got %v", cfg.API.IdleTimeout)
	}
	if !cfg.API.IsEnabled() {
		t.Error("Expected API to be enabled by default")
	}
}

func TestApplyDefaults_Lock(t *testing.T) {
	cfg := &Config{Lock: LockConfig{GCIdleSweeps: -1}}
	ApplyDefaults(cfg)

	if cfg.Lock.ClientID == "" {
		t.Error("Expected client ID to default to the hostname")
	}
	if cfg.Lock.GCInterval != lock.DefaultGCInterval {
		t.Errorf("Expected default gc interval %v, got %v", lock.DefaultGCInterval, cfg.Lock.GCInterval)
	}
	if cfg.Lock.GCIdleSweeps != lock.DefaultGCIdleSweeps {
		t.Errorf("Expected negative idle sweeps replaced by %d, got %d", lock.DefaultGCIdleSweeps, cfg.Lock.GCIdleSweeps)
	}
	if cfg.Lock.LeaseScanInterval != lock.DefaultLeaseScanInterval {
		t.Errorf("Expected default lease scan %v, got %v", lock.DefaultLeaseScanInterval, cfg.Lock.LeaseScanInterval)
	}
}

func TestApplyDefaults_Gateway(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Gateway.RecallBatchSize != remote.DefaultRecallBatchSize {
		t.Errorf("Expected batch size %d, got %d", remote.DefaultRecallBatchSize, cfg.Gateway.RecallBatchSize)
	}
	if cfg.Gateway.RecallBatchDelay != remote.DefaultRecallBatchDelay {
		t.Errorf("Expected batch delay %v, got %v", remote.DefaultRecallBatchDelay, cfg.Gateway.RecallBatchDelay)
	}
	if cfg.Gateway.FlushTimeout != remote.DefaultFlushTimeout {
		t.Errorf("Expected flush timeout %v, got %v", remote.DefaultFlushTimeout, cfg.Gateway.FlushTimeout)
	}
}

func TestApplyDefaults_Profiling(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	types := cfg.Telemetry.Profiling.ProfileTypes
	found := false
	for _, pt := range types {
		if pt == "mutex_duration" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected mutex profiling in default profile types, got %v", types)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/dittolock.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Lock: LockConfig{
			ClientID:     "explicit",
			GCInterval:   time.Minute,
			GCIdleSweeps: 0,
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format 'json' to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/dittolock.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Lock.ClientID != "explicit" {
		t.Errorf("Expected explicit client ID to be preserved, got %q", cfg.Lock.ClientID)
	}
	if cfg.Lock.GCInterval != time.Minute {
		t.Errorf("Expected explicit gc interval to be preserved, got %v", cfg.Lock.GCInterval)
	}
	if cfg.Lock.GCIdleSweeps != 0 {
		t.Errorf("Expected explicit idle sweeps 0 to be preserved, got %d", cfg.Lock.GCIdleSweeps)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	cfg := GetDefaultConfig()

	if m := InitializeMetrics(cfg); m != nil {
		t.Error("Expected nil metrics when metrics are disabled")
	}
}
