// Package delivery implements the acknowledgment-based outbound message
// buffer that survives client disconnects.
package delivery

import (
	"sync"
	"time"

	"github.com/user/sessionrelay/internal/types"
)

// Tracked is one outbound message awaiting acknowledgment. Its state
// machine is pending → acknowledged; acknowledgment removes it, so replay
// on reconnect is the deterministic query "all messages still pending for
// this client".
type Tracked struct {
	DeliveryID types.DeliveryID
	Client     types.ClientID
	Payload    any
	EnqueuedAt time.Time
}

// Buffer holds pending deliveries per client, in enqueue order. In-memory
// only: a process restart drops pending deliveries, which is the documented
// best-effort limit of this scheme.
type Buffer struct {
	mu      sync.Mutex
	pending map[types.ClientID][]Tracked
}

func NewBuffer() *Buffer {
	return &Buffer{pending: make(map[types.ClientID][]Tracked)}
}

// Track records payload as pending for the client under the given delivery
// id. Callers stamp the id into the payload first so a replayed message is
// byte-identical to the original send.
func (b *Buffer) Track(client types.ClientID, id types.DeliveryID, payload any) {
	b.mu.Lock()
	b.pending[client] = append(b.pending[client], Tracked{
		DeliveryID: id,
		Client:     client,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	})
	b.mu.Unlock()
}

// Acknowledge removes the delivery from the client's pending set. Returns
// false when the id is unknown (already acknowledged, or from a previous
// process lifetime).
func (b *Buffer) Acknowledge(client types.ClientID, id types.DeliveryID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.pending[client]
	for i, tracked := range list {
		if tracked.DeliveryID == id {
			b.pending[client] = append(list[:i], list[i+1:]...)
			if len(b.pending[client]) == 0 {
				delete(b.pending, client)
			}
			return true
		}
	}
	return false
}

// Pending returns the client's unacknowledged deliveries, oldest first —
// the replay order on reconnect.
func (b *Buffer) Pending(client types.ClientID) []Tracked {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Tracked, len(b.pending[client]))
	copy(out, b.pending[client])
	return out
}

// Drop discards everything pending for a client that is gone for good.
func (b *Buffer) Drop(client types.ClientID) {
	b.mu.Lock()
	delete(b.pending, client)
	b.mu.Unlock()
}

// PendingCount reports how many deliveries await acknowledgment for client.
func (b *Buffer) PendingCount(client types.ClientID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[client])
}
