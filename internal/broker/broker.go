// Package broker tracks which clients are interested in which sessions and
// routes watcher events to exactly those clients.
package broker

import (
	"sync"

	"github.com/user/sessionrelay/internal/types"
)

// Sender delivers one outbound payload to a client. Implementations must
// not block: a slow or disconnecting client must never stall delivery to
// others, so the server backs each sender with a buffered per-connection
// queue.
type Sender func(payload any)

// Broker is the subscription registry and broadcaster. Many-to-many: one
// client subscribes to many sessions, one session may have many subscribed
// clients. Subscribing implies no ownership of the session.
type Broker struct {
	mu       sync.RWMutex
	gen      uint64
	clients  map[types.ClientID]registration
	subs     map[types.SessionID]map[types.ClientID]struct{}
	byClient map[types.ClientID]map[types.SessionID]struct{}
}

type registration struct {
	send Sender
	gen  uint64
}

func New() *Broker {
	return &Broker{
		clients:  make(map[types.ClientID]registration),
		subs:     make(map[types.SessionID]map[types.ClientID]struct{}),
		byClient: make(map[types.ClientID]map[types.SessionID]struct{}),
	}
}

// AddClient registers a connected client's sender. A reconnecting client
// replaces its previous sender. The returned generation must be passed to
// RemoveClient so a stale connection's teardown cannot evict a fresh
// reconnect that raced ahead of it.
func (b *Broker) AddClient(id types.ClientID, send Sender) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.clients[id] = registration{send: send, gen: b.gen}
	return b.gen
}

// RemoveClient drops the client and all of its subscriptions, unless the
// registration has already been superseded by a reconnect.
func (b *Broker) RemoveClient(id types.ClientID, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.clients[id]
	if !ok || current.gen != gen {
		return
	}
	delete(b.clients, id)
	for sessionID := range b.byClient[id] {
		delete(b.subs[sessionID], id)
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
	}
	delete(b.byClient, id)
}

// Subscribe records the client's standing interest in a session.
func (b *Broker) Subscribe(client types.ClientID, session types.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[session] == nil {
		b.subs[session] = make(map[types.ClientID]struct{})
	}
	b.subs[session][client] = struct{}{}
	if b.byClient[client] == nil {
		b.byClient[client] = make(map[types.SessionID]struct{})
	}
	b.byClient[client][session] = struct{}{}
}

// Unsubscribe removes one subscription. Unknown pairs are a no-op.
func (b *Broker) Unsubscribe(client types.ClientID, session types.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[session], client)
	if len(b.subs[session]) == 0 {
		delete(b.subs, session)
	}
	delete(b.byClient[client], session)
}

// DropSession removes every subscription for a session, e.g. after its log
// file is deleted.
func (b *Broker) DropSession(session types.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.subs[session] {
		delete(b.byClient[client], session)
	}
	delete(b.subs, session)
}

// Subscribed reports whether the client currently subscribes to session.
func (b *Broker) Subscribed(client types.ClientID, session types.SessionID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[session][client]
	return ok
}

// Broadcast delivers a payload to every client subscribed to session, and
// only those. The build callback runs once per destination so the caller
// can stamp per-client delivery ids.
func (b *Broker) Broadcast(session types.SessionID, build func(types.ClientID) any) int {
	b.mu.RLock()
	targets := make(map[types.ClientID]Sender, len(b.subs[session]))
	for client := range b.subs[session] {
		if reg, ok := b.clients[client]; ok {
			targets[client] = reg.send
		}
	}
	b.mu.RUnlock()

	for client, send := range targets {
		send(build(client))
	}
	return len(targets)
}

// BroadcastAll delivers a payload to every connected client regardless of
// subscription. Used for created events: clients need to learn of new
// sessions to decide whether to subscribe.
func (b *Broker) BroadcastAll(build func(types.ClientID) any) int {
	b.mu.RLock()
	targets := make(map[types.ClientID]Sender, len(b.clients))
	for client, reg := range b.clients {
		targets[client] = reg.send
	}
	b.mu.RUnlock()

	for client, send := range targets {
		send(build(client))
	}
	return len(targets)
}
