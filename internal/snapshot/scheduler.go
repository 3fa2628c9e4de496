// Package snapshot persists the session index on a schedule so a warm
// restart can skip the full directory walk.
package snapshot

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/user/sessionrelay/internal/index"
)

// Scheduler writes the index snapshot on a cron schedule. The positions
// callback supplies the watcher's current file offsets at write time.
type Scheduler struct {
	ix        *index.Index
	path      string
	positions func() map[string]int64
	cron      *cron.Cron
}

func New(ix *index.Index, path string, positions func() map[string]int64) *Scheduler {
	return &Scheduler{
		ix:        ix,
		path:      path,
		positions: positions,
		cron:      cron.New(),
	}
}

// Start registers the persist job and starts the ticker. The schedule uses
// standard cron syntax or descriptors like "@every 1m".
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.persist); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("snapshot scheduler started", "schedule", schedule, "path", s.path)
	return nil
}

// Stop halts the ticker and writes one final snapshot.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.persist()
}

func (s *Scheduler) persist() {
	if err := s.ix.Persist(s.path, s.positions()); err != nil {
		slog.Error("snapshot persist failed", "path", s.path, "error", err)
		return
	}
	slog.Debug("index snapshot written", "path", s.path, "sessions", s.ix.Len())
}
