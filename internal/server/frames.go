package server

import (
	"encoding/json"

	"github.com/user/sessionrelay/internal/types"
)

// Inbound frame types.
const (
	MsgListSessions      = "list-sessions"
	MsgSubscribe         = "subscribe"
	MsgUnsubscribe       = "unsubscribe"
	MsgAcknowledge       = "acknowledge"
	MsgRequestInvocation = "request-invocation"
)

// Outbound frame types.
const (
	MsgSessionList        = "session-list"
	MsgSessionCreated     = "session-created"
	MsgSessionUpdated     = "session-updated"
	MsgSessionHistory     = "session-history"
	MsgSessionDeleted     = "session-deleted"
	MsgInvocationLocked   = "invocation-locked"
	MsgInvocationComplete = "invocation-complete"
	MsgInvocationFailed   = "invocation-failed"
	MsgError              = "error"
)

// Inbound is a client request frame.
type Inbound struct {
	Type             string `json:"type"`
	SessionID        string `json:"session_id,omitempty"`
	DeliveryID       string `json:"delivery_id,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	Limit            int    `json:"limit,omitempty"`
	Offset           int    `json:"offset,omitempty"`
}

// Frame is an outbound message. DeliveryID is set only on frames that
// require acknowledgment; a replayed frame is identical to the original.
type Frame struct {
	Type       string                   `json:"type"`
	DeliveryID types.DeliveryID         `json:"delivery_id,omitempty"`
	SessionID  types.SessionID          `json:"session_id,omitempty"`
	Session    *types.SessionMetadata   `json:"session,omitempty"`
	Sessions   []*types.SessionMetadata `json:"sessions,omitempty"`
	Records    []json.RawMessage        `json:"records,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

func rawRecords(records []types.Record) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Raw)
	}
	return out
}
