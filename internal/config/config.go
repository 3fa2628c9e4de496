package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	LogRoot  string `json:"log_root"`
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Listen   string `json:"listen"`
	Invoker  struct {
		Binary        string   `json:"binary"`
		Args          []string `json:"args"`
		MaxConcurrent int      `json:"max_concurrent"`
	} `json:"invoker"`
	Snapshot struct {
		Schedule string `json:"schedule"`
	} `json:"snapshot"`
	Watcher struct {
		DebounceMillis int `json:"debounce_millis"`
		RetryMillis    int `json:"retry_millis"`
		MaxRetries     int `json:"max_retries"`
	} `json:"watcher"`
}

// SnapshotPath is where the session index snapshot is persisted.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "index.json")
}

func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LogRoot = filepath.Join(os.Getenv("HOME"), ".claude", "projects")
	cfg.DataDir = filepath.Join(os.Getenv("HOME"), ".sessionrelay")
	cfg.LogLevel = "info"
	cfg.Listen = "127.0.0.1:8844"
	cfg.Invoker.Binary = "claude"
	cfg.Invoker.Args = []string{"-p", "--output-format", "json"}
	cfg.Invoker.MaxConcurrent = 4
	cfg.Snapshot.Schedule = "@every 1m"
	cfg.Watcher.DebounceMillis = 200
	cfg.Watcher.RetryMillis = 100
	cfg.Watcher.MaxRetries = 3

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if root := os.Getenv("SESSIONRELAY_LOG_ROOT"); root != "" {
		cfg.LogRoot = root
	}
	if dir := os.Getenv("SESSIONRELAY_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if listen := os.Getenv("SESSIONRELAY_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if bin := os.Getenv("SESSIONRELAY_INVOKER_BINARY"); bin != "" {
		cfg.Invoker.Binary = bin
	}

	return cfg, nil
}

// Save writes the config as indented JSON, atomically via temp file + rename.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}
