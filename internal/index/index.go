// Package index maintains the in-memory session metadata index built from
// the log directory tree.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/sessionrelay/internal/logparse"
	"github.com/user/sessionrelay/internal/types"
)

// ErrNotFound is returned when a session id has no index entry.
var ErrNotFound = errors.New("session not found")

const defaultPageSize = 100

// Index is the authoritative session metadata map. The watcher loop is the
// sole writer during normal operation; client connections read concurrently.
type Index struct {
	root    string
	mu      sync.RWMutex
	entries map[types.SessionID]*types.SessionMetadata
}

// New creates an empty Index over the given log root directory.
func New(root string) *Index {
	return &Index{
		root:    root,
		entries: make(map[types.SessionID]*types.SessionMetadata),
	}
}

// Rebuild walks the log root, full-parses every UUID-named .jsonl file, and
// replaces the index atomically. A missing or empty root yields an empty
// index, not an error. Returns the byte offset each file was parsed to, for
// seeding incremental reads.
func (ix *Index) Rebuild(ctx context.Context) (map[string]int64, error) {
	entries := make(map[types.SessionID]*types.SessionMetadata)
	positions := make(map[string]int64)

	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == ix.root {
				return filepath.SkipAll
			}
			slog.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}

		meta, offset, ok := ingest(path, entries)
		if !ok {
			return nil
		}
		entries[meta.SessionID] = meta
		positions[path] = offset
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()

	slog.Info("index rebuilt", "sessions", len(entries), "root", ix.root)
	return positions, nil
}

// ingest full-parses one log file into a metadata entry. Files whose names
// are not UUIDs are rejected here so they never enter the index.
func ingest(path string, existing map[types.SessionID]*types.SessionMetadata) (*types.SessionMetadata, int64, bool) {
	stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	id, ok := types.ParseSessionID(stem)
	if !ok {
		slog.Warn("ignoring log file with non-UUID name", "path", path)
		return nil, 0, false
	}

	summary, err := logparse.ParseFull(path)
	if err != nil {
		slog.Warn("failed to parse log file", "path", path, "error", err)
		return nil, 0, false
	}

	meta := FromSummary(id, path, summary)
	if parent, ok := types.ParseSessionID(summary.ParentSessionID); ok {
		if _, known := existing[parent]; known {
			meta.ParentSessionID = parent
			meta.Name += " (fork)"
		}
	}
	return meta, summary.Offset, true
}

// FromSummary builds a metadata entry from a full-file parse.
func FromSummary(id types.SessionID, path string, s *logparse.Summary) *types.SessionMetadata {
	lastMod := time.Now()
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	return &types.SessionMetadata{
		SessionID:        id,
		WorkingDirectory: s.WorkingDirectory,
		MessageCount:     s.MessageCount,
		LastModified:     lastMod,
		Name:             deriveName(s, lastMod),
		PreviewText:      s.Preview,
		LogPath:          path,
	}
}

// deriveName builds the display label: origin prefix, project directory,
// and timestamp, with a "(compacted)" suffix when the log starts with a
// compaction record.
func deriveName(s *logparse.Summary, lastMod time.Time) string {
	project := "unknown"
	if s.WorkingDirectory != "" {
		project = filepath.Base(s.WorkingDirectory)
	}
	name := fmt.Sprintf("claude/%s %s", project, lastMod.Format("2006-01-02 15:04"))
	if s.Compacted {
		name += " (compacted)"
	}
	return name
}

// Get returns the entry for id or ErrNotFound.
func (ix *Index) Get(id types.SessionID) (*types.SessionMetadata, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	meta, ok := ix.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	clone := *meta
	return &clone, nil
}

// GetAll returns entries sorted by LastModified descending, paginated so
// response size stays bounded regardless of total session count. A
// non-positive limit selects the default page size.
func (ix *Index) GetAll(limit, offset int) []*types.SessionMetadata {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	ix.mu.RLock()
	all := make([]*types.SessionMetadata, 0, len(ix.entries))
	for _, meta := range ix.entries {
		clone := *meta
		all = append(all, &clone)
	}
	ix.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].LastModified.After(all[j].LastModified)
	})

	if offset >= len(all) {
		return []*types.SessionMetadata{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// Upsert inserts or replaces a full entry. Re-ingesting the same file
// updates in place; session ids stay unique.
func (ix *Index) Upsert(meta *types.SessionMetadata) {
	clone := *meta
	ix.mu.Lock()
	ix.entries[meta.SessionID] = &clone
	ix.mu.Unlock()
}

// ApplyUpdate merges an incremental parse result into the entry for id,
// creating a minimal entry when none exists yet.
func (ix *Index) ApplyUpdate(id types.SessionID, delta types.MetadataDelta) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	meta, ok := ix.entries[id]
	if !ok {
		meta = &types.SessionMetadata{SessionID: id}
		ix.entries[id] = meta
	}
	meta.MessageCount += delta.NewRecords
	if delta.PreviewText != "" {
		meta.PreviewText = delta.PreviewText
	}
	if !delta.LastModified.IsZero() {
		meta.LastModified = delta.LastModified
	}
}

// Remove deletes the entry for id. Removing an unknown id is a no-op.
func (ix *Index) Remove(id types.SessionID) {
	ix.mu.Lock()
	delete(ix.entries, id)
	ix.mu.Unlock()
}

// Len returns the number of indexed sessions.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Root returns the log root directory this index scans.
func (ix *Index) Root() string { return ix.root }
