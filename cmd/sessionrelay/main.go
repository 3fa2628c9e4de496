package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/sessionrelay/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sessionrelay",
	Short: "Replicate CLI conversation logs to live clients",
	Long: `sessionrelay watches a directory tree of append-only conversation logs,
maintains a session index, and streams updates to subscribed websocket
clients while serializing invocations of the external tool per session.`,
}

func init() {
	defaultConfig := filepath.Join(os.Getenv("HOME"), ".sessionrelay", "config.json")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "config file path")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
