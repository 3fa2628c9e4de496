// Package watcher observes the log directory tree and turns raw filesystem
// notifications into normalized session events.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/user/sessionrelay/internal/index"
	"github.com/user/sessionrelay/internal/logparse"
	"github.com/user/sessionrelay/internal/types"
)

// EventType classifies a normalized watcher event.
type EventType string

const (
	Created EventType = "created"
	Updated EventType = "updated"
	Deleted EventType = "deleted"
)

// Event is a normalized domain event emitted to subscribers of the watcher.
// Updated events carry only the records appended since the last read.
type Event struct {
	Type      EventType
	SessionID types.SessionID
	Meta      *types.SessionMetadata
	Records   []types.Record
}

// Options tunes debouncing and the bounded partial-write retry.
type Options struct {
	Debounce   time.Duration
	RetryDelay time.Duration
	MaxRetries int
	Classifier Classifier
}

// DefaultOptions matches the timings the external tool's write patterns
// need: one logical event per editor-style write burst, and a few short
// retries when a notification fires mid-write.
func DefaultOptions() Options {
	return Options{
		Debounce:   200 * time.Millisecond,
		RetryDelay: 100 * time.Millisecond,
		MaxRetries: 3,
		Classifier: LineageClassifier{},
	}
}

type rawOp int

const (
	opChange rawOp = iota
	opRemove
)

type rawEvent struct {
	op   rawOp
	path string
}

// Watcher drives all index mutations from a single consumer goroutine, so
// file positions and metadata for one path are never applied out of order.
type Watcher struct {
	ix   *index.Index
	opts Options

	fsw    *fsnotify.Watcher
	raw    chan rawEvent
	flush  chan string
	events chan Event

	// positions is written only by the consumer loop (and Seed before
	// Start); mu makes reads from the snapshot scheduler safe.
	positions map[string]int64
	known     map[string]types.SessionID
	timers    map[string]*time.Timer

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher over the index's log root. Call Seed with the
// offsets from the initial rebuild or snapshot restore before Start.
func New(ix *index.Index, opts Options) *Watcher {
	if opts.Classifier == nil {
		opts.Classifier = LineageClassifier{}
	}
	return &Watcher{
		ix:        ix,
		opts:      opts,
		raw:       make(chan rawEvent, 1024),
		flush:     make(chan string, 1024),
		events:    make(chan Event, 256),
		positions: make(map[string]int64),
		known:     make(map[string]types.SessionID),
		timers:    make(map[string]*time.Timer),
	}
}

// Events is the stream of normalized session events. Closed on shutdown.
func (w *Watcher) Events() <-chan Event { return w.events }

// Seed installs the byte offset for every already-indexed file, so the
// first updated event for a path only carries genuinely new records. Must
// be called before Start; a file whose position is never initialized would
// be re-delivered from the beginning.
func (w *Watcher) Seed(positions map[string]int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, offset := range positions {
		stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		id, ok := types.ParseSessionID(stem)
		if !ok {
			continue
		}
		w.positions[path] = offset
		w.known[path] = id
	}
}

// Start watches the log root and every project subdirectory and begins the
// consumer loop.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)

	if err := w.watchTree(w.ix.Root()); err != nil {
		fsw.Close()
		return err
	}

	w.wg.Add(2)
	go w.readRaw()
	go w.consume()
	return nil
}

// Close stops both loops and closes the event stream.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	w.wg.Wait()
	close(w.events)
	return err
}

// watchTree adds watches for root and every directory beneath it. A missing
// root is tolerated; the external tool may not have created it yet.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return filepath.SkipAll
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// readRaw normalizes fsnotify notifications into the bounded raw channel
// feeding the consumer loop.
func (w *Watcher) readRaw() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			switch {
			case ev.Has(fsnotify.Create) && isDir(ev.Name):
				if err := w.fsw.Add(ev.Name); err == nil {
					slog.Debug("watching new directory", "path", ev.Name)
				}
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				w.enqueue(rawEvent{op: opRemove, path: ev.Name})
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				w.enqueue(rawEvent{op: opChange, path: ev.Name})
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("filesystem watch error", "error", err)
		}
	}
}

func (w *Watcher) enqueue(ev rawEvent) {
	select {
	case w.raw <- ev:
	case <-w.ctx.Done():
	}
}

// Inject feeds a synthetic raw event through the same path as an OS
// notification. Used by tests and callers that learn about writes out of
// band.
func (w *Watcher) Inject(path string, removed bool) {
	op := opChange
	if removed {
		op = opRemove
	}
	w.enqueue(rawEvent{op: op, path: path})
}

// consume is the single writer of file positions and index mutations. Raw
// change notifications are debounced per path; the debounce timer feeds the
// flush channel consumed by this same loop, keeping processing sequential.
func (w *Watcher) consume() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			for _, t := range w.timers {
				t.Stop()
			}
			return
		case ev := <-w.raw:
			if !strings.HasSuffix(ev.path, ".jsonl") {
				continue
			}
			if ev.op == opRemove {
				if t, ok := w.timers[ev.path]; ok {
					t.Stop()
					delete(w.timers, ev.path)
				}
				w.handleRemove(ev.path)
				continue
			}
			w.debounce(ev.path)
		case path := <-w.flush:
			delete(w.timers, path)
			w.handleChange(path)
		}
	}
}

// debounce collapses bursts of change notifications for one path into a
// single logical event.
func (w *Watcher) debounce(path string) {
	if t, ok := w.timers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		select {
		case w.flush <- path:
		case <-w.ctx.Done():
		}
	})
}

// handleChange classifies a settled change as a first sighting (full parse)
// or growth of a tracked file (incremental parse).
func (w *Watcher) handleChange(path string) {
	if _, tracked := w.known[path]; tracked {
		w.handleUpdate(path)
		return
	}
	w.handleDiscovery(path)
}

// handleDiscovery full-parses a newly sighted log file, classifies fork
// lineage, and initializes the file position to the end of what was parsed
// before the created event is emitted.
func (w *Watcher) handleDiscovery(path string) {
	stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	id, ok := types.ParseSessionID(stem)
	if !ok {
		slog.Warn("ignoring log file with non-UUID name", "path", path)
		return
	}

	summary, err := logparse.ParseFull(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		slog.Warn("failed to parse new log file", "path", path, "error", err)
		return
	}

	meta := index.FromSummary(id, path, summary)
	if first, ok := firstRecord(summary); ok {
		if parent, forked := w.opts.Classifier.Classify(first, w.ix); forked && parent != id {
			meta.ParentSessionID = parent
			meta.Name += " (fork)"
		}
	}

	// Position before event: an updated event must never observe an
	// uninitialized offset.
	w.setPosition(path, summary.Offset)
	w.known[path] = id
	w.ix.Upsert(meta)

	slog.Info("session discovered", "session_id", id, "messages", meta.MessageCount, "path", path)
	w.emit(Event{Type: Created, SessionID: id, Meta: meta, Records: summary.Records})
}

// handleUpdate incrementally parses a tracked file from its stored offset,
// retrying a bounded number of times when the file grew but no complete
// record was readable yet.
func (w *Watcher) handleUpdate(path string) {
	id := w.known[path]
	offset := w.position(path)

	var records []types.Record
	var newOffset int64
	for attempt := 0; ; attempt++ {
		var err error
		records, newOffset, err = logparse.ParseFrom(path, offset)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				w.handleRemove(path)
				return
			}
			slog.Warn("incremental parse failed", "path", path, "error", err)
			return
		}
		if len(records) > 0 || attempt >= w.opts.MaxRetries || !grewPast(path, offset) {
			break
		}
		time.Sleep(w.opts.RetryDelay)
	}
	if len(records) == 0 {
		return
	}

	w.setPosition(path, newOffset)

	delta := types.MetadataDelta{
		NewRecords:   len(records),
		PreviewText:  logparse.Preview(records),
		LastModified: time.Now(),
	}
	if info, err := os.Stat(path); err == nil {
		delta.LastModified = info.ModTime()
	}
	w.ix.ApplyUpdate(id, delta)

	slog.Debug("session updated", "session_id", id, "new_records", len(records))
	w.emit(Event{Type: Updated, SessionID: id, Records: records})
}

// handleRemove purges a vanished log file from tracking and the index.
func (w *Watcher) handleRemove(path string) {
	id, tracked := w.known[path]
	delete(w.known, path)
	w.mu.Lock()
	delete(w.positions, path)
	w.mu.Unlock()
	if !tracked {
		stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		var ok bool
		if id, ok = types.ParseSessionID(stem); !ok {
			return
		}
		if _, err := w.ix.Get(id); err != nil {
			return
		}
	}

	w.ix.Remove(id)
	slog.Info("session log removed", "session_id", id, "path", path)
	w.emit(Event{Type: Deleted, SessionID: id})
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}

// Positions returns a copy of the current file offsets for snapshotting.
func (w *Watcher) Positions() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int64, len(w.positions))
	for k, v := range w.positions {
		out[k] = v
	}
	return out
}

func (w *Watcher) position(path string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.positions[path]
}

func (w *Watcher) setPosition(path string, offset int64) {
	w.mu.Lock()
	w.positions[path] = offset
	w.mu.Unlock()
}

func grewPast(path string, offset int64) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > offset
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func firstRecord(s *logparse.Summary) (types.Record, bool) {
	if len(s.Records) == 0 {
		return types.Record{}, false
	}
	return s.Records[0], true
}
