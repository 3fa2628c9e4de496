package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/user/sessionrelay/internal/logparse"
	"github.com/user/sessionrelay/internal/types"
)

// snapshot is the on-disk form of the index, written so a warm restart can
// skip the full directory walk.
type snapshot struct {
	SavedAt  time.Time       `json:"saved_at"`
	Sessions []snapshotEntry `json:"sessions"`
}

type snapshotEntry struct {
	Meta   *types.SessionMetadata `json:"meta"`
	Offset int64                  `json:"offset"`
}

// Persist writes the current index plus the watcher's file positions to
// path, atomically via temp file + rename.
func (ix *Index) Persist(path string, positions map[string]int64) error {
	ix.mu.RLock()
	snap := snapshot{SavedAt: time.Now()}
	for _, meta := range ix.entries {
		clone := *meta
		snap.Sessions = append(snap.Sessions, snapshotEntry{
			Meta:   &clone,
			Offset: positions[meta.LogPath],
		})
	}
	ix.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp snapshot: %w", err)
	}
	return nil
}

// Restore loads a snapshot and replaces the index with it. Snapshot entries
// are trusted only as a cache: files that vanished are dropped, and any file
// modified after the snapshot was written is re-parsed before the index is
// considered authoritative. Returns per-file byte offsets for seeding
// incremental reads.
func (ix *Index) Restore(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal index snapshot: %w", err)
	}

	entries := make(map[types.SessionID]*types.SessionMetadata, len(snap.Sessions))
	positions := make(map[string]int64, len(snap.Sessions))
	refreshed := 0

	for _, entry := range snap.Sessions {
		meta := entry.Meta
		if meta == nil {
			continue
		}
		if _, ok := types.ParseSessionID(string(meta.SessionID)); !ok {
			continue
		}
		info, err := os.Stat(meta.LogPath)
		if err != nil {
			// File gone since the snapshot: drop the entry.
			continue
		}

		offset := entry.Offset
		if info.ModTime().After(snap.SavedAt) {
			summary, err := logparse.ParseFull(meta.LogPath)
			if err != nil {
				slog.Warn("failed to refresh stale snapshot entry", "path", meta.LogPath, "error", err)
				continue
			}
			meta = FromSummary(meta.SessionID, meta.LogPath, summary)
			meta.ParentSessionID = entry.Meta.ParentSessionID
			offset = summary.Offset
			refreshed++
		}

		entries[meta.SessionID] = meta
		positions[meta.LogPath] = offset
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()

	slog.Info("index restored from snapshot", "sessions", len(entries), "refreshed", refreshed)
	return positions, nil
}
