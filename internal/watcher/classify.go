package watcher

import (
	"encoding/json"

	"github.com/user/sessionrelay/internal/types"
)

// SessionLookup is the read-only index view a Classifier may consult.
type SessionLookup interface {
	Get(id types.SessionID) (*types.SessionMetadata, error)
}

// Classifier decides whether a newly discovered log file continues the
// lineage of an existing session. Input is the candidate file's first
// record plus the index of existing sessions; output is the parent session
// id when the file is a fork. Detection heuristics vary between tool
// versions, so the rule is pluggable.
type Classifier interface {
	Classify(first types.Record, sessions SessionLookup) (types.SessionID, bool)
}

// LineageClassifier is the default rule: the first record of a forked log
// carries a reference to the conversation it resumed, either an explicit
// parent marker or the original session's id.
type LineageClassifier struct{}

func (LineageClassifier) Classify(first types.Record, sessions SessionLookup) (types.SessionID, bool) {
	var head struct {
		ParentSessionID string `json:"parentSessionId"`
		ParentUUID      string `json:"parentUuid"`
	}
	if err := json.Unmarshal(first.Raw, &head); err == nil {
		for _, marker := range []string{head.ParentSessionID, head.ParentUUID} {
			if parent, ok := knownSession(marker, sessions); ok {
				return parent, true
			}
		}
	}
	// Fallback: a first record claiming a different session id than its
	// filename points at the conversation it was forked from.
	if parent, ok := knownSession(first.SessionID, sessions); ok {
		return parent, true
	}
	return "", false
}

func knownSession(raw string, sessions SessionLookup) (types.SessionID, bool) {
	id, ok := types.ParseSessionID(raw)
	if !ok {
		return "", false
	}
	if _, err := sessions.Get(id); err != nil {
		return "", false
	}
	return id, true
}
