// Package logparse reads append-only JSONL conversation logs incrementally.
package logparse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/user/sessionrelay/internal/types"
)

// ParseError is a typed I/O failure for a specific log file. Callers decide
// whether to retry; the parser never retries internally.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFrom reads complete JSONL records appended since offset and returns
// them with the offset to resume from. A trailing line without a newline is
// treated as an in-progress write: it is not returned and the offset is not
// advanced past it, so the next call re-attempts it. Malformed complete
// lines are skipped with a warning and their bytes are consumed.
func ParseFrom(path string, offset int64) ([]types.Record, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, &ParseError{Path: path, Err: err}
	}

	reader := bufio.NewReaderSize(f, 256*1024)
	var records []types.Record
	pos := offset

	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// Partial trailing record: leave pos where it is.
			break
		}
		if err != nil {
			return records, pos, &ParseError{Path: path, Err: err}
		}
		pos += int64(len(line))

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		rec, ok := decodeRecord(trimmed)
		if !ok {
			slog.Warn("skipping malformed log record", "path", path, "offset", pos-int64(len(line)))
			continue
		}
		records = append(records, rec)
	}

	return records, pos, nil
}

func decodeRecord(line []byte) (types.Record, bool) {
	var rec types.Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return types.Record{}, false
	}
	rec.Raw = json.RawMessage(append([]byte(nil), line...))
	return rec, true
}
