package logparse

import (
	"encoding/json"
	"strings"

	"github.com/user/sessionrelay/internal/types"
)

const previewLimit = 120

// Summary is the aggregate metadata extracted by a full-file parse.
type Summary struct {
	MessageCount     int
	WorkingDirectory string
	Preview          string
	ClaimedSessionID string // sessionId from the first record that carries one
	ParentSessionID  string // lineage marker from the head of the file, if any
	Compacted        bool   // file starts with a compaction summary record
	Offset           int64  // end offset to resume incremental reads from
	Records          []types.Record
}

// ParseFull parses the whole file from offset 0 and derives metadata:
// message count, working directory from the first record carrying one, and
// a preview from the most recent user or assistant record.
func ParseFull(path string) (*Summary, error) {
	records, offset, err := ParseFrom(path, 0)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		MessageCount: len(records),
		Offset:       offset,
		Records:      records,
	}

	for i, rec := range records {
		if s.WorkingDirectory == "" && rec.CWD != "" {
			s.WorkingDirectory = rec.CWD
		}
		if s.ClaimedSessionID == "" && rec.SessionID != "" {
			s.ClaimedSessionID = rec.SessionID
		}
		if i == 0 {
			s.ParentSessionID = lineageMarker(rec)
			s.Compacted = rec.Type == "summary" || rec.Type == "compact"
		}
	}

	s.Preview = Preview(records)
	return s, nil
}

// Preview returns a short excerpt from the most recent user or assistant
// record, or empty when none carries displayable text.
func Preview(records []types.Record) string {
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Type != "user" && rec.Type != "assistant" {
			continue
		}
		if text := messageText(rec.Raw); text != "" {
			return truncate(text, previewLimit)
		}
	}
	return ""
}

// lineageMarker extracts the parent-session reference a forked log writes
// into its first record.
func lineageMarker(rec types.Record) string {
	var head struct {
		ParentSessionID string `json:"parentSessionId"`
		ParentUUID      string `json:"parentUuid"`
	}
	if err := json.Unmarshal(rec.Raw, &head); err != nil {
		return ""
	}
	if head.ParentSessionID != "" {
		return head.ParentSessionID
	}
	return head.ParentUUID
}

// messageText extracts displayable text from a record's message content,
// which is either a plain string or an array of content blocks.
func messageText(raw json.RawMessage) string {
	var line struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &line); err != nil || len(line.Message.Content) == 0 {
		return ""
	}

	var str string
	if err := json.Unmarshal(line.Message.Content, &str); err == nil {
		return strings.TrimSpace(str)
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(line.Message.Content, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
