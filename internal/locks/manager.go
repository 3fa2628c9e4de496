// Package locks provides the per-session execution lock guarding external
// tool invocations.
package locks

import (
	"log/slog"
	"sync"

	"github.com/user/sessionrelay/internal/types"
)

// Manager is a per-session mutual-exclusion gate. Acquisition is atomic and
// never blocks: a denied caller is told "locked" synchronously so it can
// inform the requester instead of queuing work invisibly. Locks live only
// for the life of the process; no invocation can be in flight across a
// restart.
type Manager struct {
	mu      sync.Mutex
	holders map[types.SessionID]types.HolderID
}

func NewManager() *Manager {
	return &Manager{holders: make(map[types.SessionID]types.HolderID)}
}

// TryAcquire grants the lock for sessionID to holder if it is free. No two
// callers can both observe "free" and proceed.
func (m *Manager) TryAcquire(sessionID types.SessionID, holder types.HolderID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.holders[sessionID]; held {
		return false
	}
	m.holders[sessionID] = holder
	return true
}

// Release frees the lock if holder still owns it. Releasing a lock held by
// someone else (or not held at all) is logged and ignored rather than
// corrupting another caller's grant.
func (m *Manager) Release(sessionID types.SessionID, holder types.HolderID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, held := m.holders[sessionID]
	if !held || current != holder {
		slog.Warn("release of unheld session lock", "session_id", sessionID, "holder", holder)
		return
	}
	delete(m.holders, sessionID)
}

// Holder reports the current holder of sessionID, if any.
func (m *Manager) Holder(sessionID types.SessionID) (types.HolderID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	holder, held := m.holders[sessionID]
	return holder, held
}
