package types

import (
	"encoding/json"
	"time"
)

// Record is one parsed line of a session's JSONL log. Raw keeps the full
// line so it can be forwarded to clients without re-encoding; the named
// fields are the subset this system inspects.
type Record struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	CWD       string          `json:"cwd,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// SessionMetadata is the index entry for one conversation log file.
type SessionMetadata struct {
	SessionID        SessionID `json:"session_id"`
	WorkingDirectory string    `json:"working_directory"`
	MessageCount     int       `json:"message_count"`
	LastModified     time.Time `json:"last_modified"`
	Name             string    `json:"name"`
	PreviewText      string    `json:"preview_text,omitempty"`
	LogPath          string    `json:"log_path"`
	ParentSessionID  SessionID `json:"parent_session_id,omitempty"`
}

// MetadataDelta carries the result of an incremental parse to be merged
// into an existing index entry.
type MetadataDelta struct {
	NewRecords   int
	PreviewText  string
	LastModified time.Time
}
