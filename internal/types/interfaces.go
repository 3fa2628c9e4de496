package types

import (
	"context"
)

// Index answers session metadata queries. Implementations must be safe for
// concurrent use: the watcher loop writes while client connections read.
type Index interface {
	Get(id SessionID) (*SessionMetadata, error)
	GetAll(limit, offset int) []*SessionMetadata
	ApplyUpdate(id SessionID, delta MetadataDelta)
}

// Invoker runs the external CLI tool against a session. An empty sessionID
// starts a new conversation; the returned id is the session the tool wrote
// to (which may differ from sessionID when the tool forks the log).
type Invoker interface {
	Invoke(ctx context.Context, sessionID SessionID, prompt, workingDir string) (SessionID, error)
}
