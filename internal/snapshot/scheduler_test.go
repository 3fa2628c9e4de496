package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user/sessionrelay/internal/index"
	"github.com/user/sessionrelay/internal/types"
)

func TestStopWritesFinalSnapshot(t *testing.T) {
	ix := index.New(t.TempDir())
	ix.Upsert(&types.SessionMetadata{
		SessionID: "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa",
		LogPath:   "/tmp/a.jsonl",
	})

	path := filepath.Join(t.TempDir(), "index.json")
	s := New(ix, path, func() map[string]int64 {
		return map[string]int64{"/tmp/a.jsonl": 42}
	})
	if err := s.Start("@every 1h"); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("final snapshot not written: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("snapshot file empty")
	}
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	ix := index.New(t.TempDir())
	s := New(ix, filepath.Join(t.TempDir(), "index.json"), func() map[string]int64 { return nil })
	if err := s.Start("not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
