package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/sessionrelay/internal/broker"
	"github.com/user/sessionrelay/internal/delivery"
	"github.com/user/sessionrelay/internal/index"
	"github.com/user/sessionrelay/internal/invoker"
	"github.com/user/sessionrelay/internal/locks"
	"github.com/user/sessionrelay/internal/server"
	"github.com/user/sessionrelay/internal/snapshot"
	"github.com/user/sessionrelay/internal/watcher"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sessionrelay daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "sessionrelay.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Index: restore the snapshot when one exists, otherwise full rebuild.
	ix := index.New(cfg.LogRoot)
	positions, err := ix.Restore(cfg.SnapshotPath())
	if err != nil {
		slog.Info("no usable snapshot, rebuilding index", "reason", err)
		positions, err = ix.Rebuild(ctx)
		if err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
	}

	// Watcher: seed file positions before starting so the first updated
	// event for a known file carries only new records.
	w := watcher.New(ix, watcher.Options{
		Debounce:   time.Duration(cfg.Watcher.DebounceMillis) * time.Millisecond,
		RetryDelay: time.Duration(cfg.Watcher.RetryMillis) * time.Millisecond,
		MaxRetries: cfg.Watcher.MaxRetries,
		Classifier: watcher.LineageClassifier{},
	})
	w.Seed(positions)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	// Core shared state.
	br := broker.New()
	buf := delivery.NewBuffer()
	lockMgr := locks.NewManager()
	inv := invoker.New(cfg.Invoker.Binary, cfg.Invoker.Args, int64(cfg.Invoker.MaxConcurrent))

	srv := server.New(ix, br, buf, lockMgr, inv)
	srv.SetContext(ctx)
	go srv.PumpEvents(w.Events())

	// Periodic index snapshots; Stop writes a final one on shutdown.
	snap := snapshot.New(ix, cfg.SnapshotPath(), w.Positions)
	if err := snap.Start(cfg.Snapshot.Schedule); err != nil {
		return fmt.Errorf("start snapshot scheduler: %w", err)
	}
	defer snap.Stop()

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv,
	}
	go func() {
		slog.Info("sessionrelay started",
			"listen", cfg.Listen,
			"log_root", cfg.LogRoot,
			"data_dir", cfg.DataDir,
			"sessions", ix.Len(),
			"pid_file", pidPath,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("shutting down", "signal", sig)
	return nil
}
