package config

import (
	"os"
	"path/filepath"
	"testing"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
	if cfg.Listen == "" {
		t.Error("expected default listen address")
	}
	if cfg.Invoker.Binary != "claude" {
		t.Errorf("expected default invoker binary claude, got %s", cfg.Invoker.Binary)
	}
	if cfg.Watcher.DebounceMillis != 200 {
		t.Errorf("expected default debounce 200ms, got %d", cfg.Watcher.DebounceMillis)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := &Config{
		LogRoot:  "/tmp/logs",
		DataDir:  "/tmp/test-data",
		LogLevel: "debug",
		Listen:   "127.0.0.1:9999",
	}
	original.Invoker.Binary = "claude"
	original.Invoker.Args = []string{"-p"}
	original.Invoker.MaxConcurrent = 2
	original.Snapshot.Schedule = "@every 5m"
	original.Watcher.DebounceMillis = 150
	original.Watcher.RetryMillis = 50
	original.Watcher.MaxRetries = 5

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LogRoot != original.LogRoot {
		t.Errorf("LogRoot: expected %s, got %s", original.LogRoot, loaded.LogRoot)
	}
	if loaded.Listen != original.Listen {
		t.Errorf("Listen: expected %s, got %s", original.Listen, loaded.Listen)
	}
	if loaded.Snapshot.Schedule != original.Snapshot.Schedule {
		t.Errorf("Snapshot.Schedule: expected %s, got %s", original.Snapshot.Schedule, loaded.Snapshot.Schedule)
	}
	if loaded.Watcher.MaxRetries != 5 {
		t.Errorf("Watcher.MaxRetries: expected 5, got %d", loaded.Watcher.MaxRetries)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("SESSIONRELAY_LOG_ROOT", "/env/logs")
	t.Setenv("SESSIONRELAY_LISTEN", "0.0.0.0:7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogRoot != "/env/logs" {
		t.Errorf("expected env log root, got %s", cfg.LogRoot)
	}
	if cfg.Listen != "0.0.0.0:7777" {
		t.Errorf("expected env listen, got %s", cfg.Listen)
	}
}
