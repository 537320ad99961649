package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittolock/pkg/lock"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

api:
  port: 7171

lock:
  client_id: "node-1"
  gc_interval: 2s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.API.Port != 7171 {
		t.Errorf("Expected API port 7171, got %d", cfg.API.Port)
	}

	// Explicit lock values and defaults for the rest
	if cfg.Lock.ClientID != "node-1" {
		t.Errorf("Expected client ID 'node-1', got %q", cfg.Lock.ClientID)
	}
	if cfg.Lock.GCInterval != 2*time.Second {
		t.Errorf("Expected gc_interval 2s, got %v", cfg.Lock.GCInterval)
	}
	if cfg.Lock.GCIdleSweeps != lock.DefaultGCIdleSweeps {
		t.Errorf("Expected default gc_idle_sweeps %d, got %d", lock.DefaultGCIdleSweeps, cfg.Lock.GCIdleSweeps)
	}
	if cfg.Gateway.RecallBatchSize != 32 {
		t.Errorf("Expected default recall_batch_size 32, got %d", cfg.Gateway.RecallBatchSize)
	}
}

func TestLoad_ExplicitZeroIdleSweeps(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
lock:
  gc_idle_sweeps: 0
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Lock.GCIdleSweeps != 0 {
		t.Errorf("Expected explicit gc_idle_sweeps 0 to be kept, got %d", cfg.Lock.GCIdleSweeps)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.API.Port != 7070 {
		t.Errorf("Expected default API port 7070, got %d", cfg.API.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  format: xml
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for log format 'xml'")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[gateway]
recall_batch_size = 8
recall_batch_delay = "5ms"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Gateway.RecallBatchSize != 8 {
		t.Errorf("Expected recall_batch_size 8, got %d", cfg.Gateway.RecallBatchSize)
	}
	if cfg.Gateway.RecallBatchDelay != 5*time.Millisecond {
		t.Errorf("Expected recall_batch_delay 5ms, got %v", cfg.Gateway.RecallBatchDelay)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("Expected default API port 7070, got %d", cfg.API.Port)
	}
	if cfg.Lock.ClientID == "" {
		t.Error("Expected a default client ID")
	}
	if cfg.Lock.GCIdleSweeps != lock.DefaultGCIdleSweeps {
		t.Errorf("Expected default gc_idle_sweeps %d, got %d", lock.DefaultGCIdleSweeps, cfg.Lock.GCIdleSweeps)
	}
}

func TestConversions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Lock.ClientID = "node-7"
	cfg.Server.RecallLease = time.Second

	mc := cfg.ManagerConfig()
	if mc.ClientID != lock.ClientID("node-7") {
		t.Errorf("Expected manager client ID 'node-7', got %q", mc.ClientID)
	}
	if mc.GCInterval != cfg.Lock.GCInterval {
		t.Errorf("Expected manager gc interval %v, got %v", cfg.Lock.GCInterval, mc.GCInterval)
	}

	gc := cfg.GatewayConfig()
	if gc.ClientID != lock.ClientID("node-7") {
		t.Errorf("Expected gateway client ID 'node-7', got %q", gc.ClientID)
	}
	if gc.RecallBatchSize != cfg.Gateway.RecallBatchSize {
		t.Errorf("Expected batch size %d, got %d", cfg.Gateway.RecallBatchSize, gc.RecallBatchSize)
	}

	if lc := cfg.LoopbackConfig(); lc.RecallLease != time.Second {
		t.Errorf("Expected recall lease 1s, got %v", lc.RecallLease)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Lock.ClientID = "saved-node"
	cfg.Gateway.FlushTimeout = 3 * time.Second

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Lock.ClientID != "saved-node" {
		t.Errorf("Expected client ID 'saved-node', got %q", loaded.Lock.ClientID)
	}
	if loaded.Gateway.FlushTimeout != 3*time.Second {
		t.Errorf("Expected flush timeout 3s, got %v", loaded.Gateway.FlushTimeout)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "dittolock" {
		t.Errorf("Expected directory name 'dittolock', got %q", filepath.Base(dir))
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := MustLoad(filepath.Join(tmpDir, "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOLOCK_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOLOCK_API_PORT", "9191")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

api:
  port: 7070
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify environment variables override config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.API.Port != 9191 {
		t.Errorf("Expected port 9191 from env var, got %d", cfg.API.Port)
	}
}
