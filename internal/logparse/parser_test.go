package logparse

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func TestParseFrom_CompleteRecords(t *testing.T) {
	path := writeLog(t, t.TempDir(), "log.jsonl",
		`{"type":"user","message":{"role":"user","content":"hello"}}`+"\n"+
			`{"type":"assistant","message":{"role":"assistant","content":"hi"}}`+"\n")

	records, offset, err := ParseFrom(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	info, _ := os.Stat(path)
	if offset != info.Size() {
		t.Errorf("expected offset %d, got %d", info.Size(), offset)
	}
	if records[0].Type != "user" || records[1].Type != "assistant" {
		t.Errorf("unexpected record types: %s, %s", records[0].Type, records[1].Type)
	}
}

func TestParseFrom_TruncatedTrailingRecord(t *testing.T) {
	complete := `{"type":"user","message":{"role":"user","content":"hello"}}` + "\n"
	partial := `{"type":"assistant","mess`
	path := writeLog(t, t.TempDir(), "log.jsonl", complete+partial)

	records, offset, err := ParseFrom(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if offset != int64(len(complete)) {
		t.Errorf("offset advanced past partial record: expected %d, got %d", len(complete), offset)
	}

	// Complete the write; the held-back record is recovered exactly once.
	appendLog(t, path, `age":{"role":"assistant","content":"hi"}}`+"\n")
	records, offset2, err := ParseFrom(path, offset)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 recovered record, got %d", len(records))
	}
	if records[0].Type != "assistant" {
		t.Errorf("expected assistant record, got %s", records[0].Type)
	}
	info, _ := os.Stat(path)
	if offset2 != info.Size() {
		t.Errorf("expected offset %d, got %d", info.Size(), offset2)
	}
}

func TestParseFrom_SkipsMalformedRecords(t *testing.T) {
	path := writeLog(t, t.TempDir(), "log.jsonl",
		`{"type":"user","message":{"role":"user","content":"a"}}`+"\n"+
			`this is not json`+"\n"+
			`{"type":"assistant","message":{"role":"assistant","content":"b"}}`+"\n")

	records, _, err := ParseFrom(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected malformed line skipped, got %d records", len(records))
	}
}

func TestParseFrom_MissingFile(t *testing.T) {
	_, _, err := ParseFrom(filepath.Join(t.TempDir(), "missing.jsonl"), 0)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestParseFrom_IncrementalEqualsFull(t *testing.T) {
	dir := t.TempDir()
	lines := []string{
		`{"type":"user","cwd":"/work","message":{"role":"user","content":"one"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"two"}}`,
		`{"type":"user","message":{"role":"user","content":"three"}}`,
	}
	path := writeLog(t, dir, "log.jsonl", lines[0]+"\n")

	total := 0
	var offset int64
	records, offset, err := ParseFrom(path, offset)
	if err != nil {
		t.Fatal(err)
	}
	total += len(records)

	for _, line := range lines[1:] {
		appendLog(t, path, line+"\n")
		records, offset, err = ParseFrom(path, offset)
		if err != nil {
			t.Fatal(err)
		}
		total += len(records)
	}

	full, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	if total != full.MessageCount {
		t.Errorf("incremental total %d != full parse count %d", total, full.MessageCount)
	}
	if offset != full.Offset {
		t.Errorf("incremental offset %d != full parse offset %d", offset, full.Offset)
	}
}

func TestParseFull_Metadata(t *testing.T) {
	path := writeLog(t, t.TempDir(), "log.jsonl",
		`{"type":"user","sessionId":"abc","cwd":"/home/dev/project","message":{"role":"user","content":"fix the bug"}}`+"\n"+
			`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done, the bug is fixed"}]}}`+"\n")

	s, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.MessageCount != 2 {
		t.Errorf("expected 2 messages, got %d", s.MessageCount)
	}
	if s.WorkingDirectory != "/home/dev/project" {
		t.Errorf("unexpected working directory: %s", s.WorkingDirectory)
	}
	if s.Preview != "done, the bug is fixed" {
		t.Errorf("unexpected preview: %q", s.Preview)
	}
	if s.ClaimedSessionID != "abc" {
		t.Errorf("unexpected claimed session id: %s", s.ClaimedSessionID)
	}
}

func TestParseFull_ForkLineage(t *testing.T) {
	path := writeLog(t, t.TempDir(), "log.jsonl",
		`{"type":"user","parentSessionId":"11111111-1111-1111-1111-111111111111","message":{"role":"user","content":"continue"}}`+"\n")

	s, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.ParentSessionID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("expected lineage marker, got %q", s.ParentSessionID)
	}
}

func TestParseFull_EmptyFile(t *testing.T) {
	path := writeLog(t, t.TempDir(), "log.jsonl", "")
	s, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.MessageCount != 0 || s.Offset != 0 {
		t.Errorf("expected empty summary, got count=%d offset=%d", s.MessageCount, s.Offset)
	}
}
