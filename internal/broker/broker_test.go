package broker

import (
	"testing"

	"github.com/user/sessionrelay/internal/types"
)

const (
	sessionA = types.SessionID("aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa")
	sessionB = types.SessionID("bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb")
	sessionC = types.SessionID("cccccccc-cccc-4ccc-8ccc-cccccccccccc")
)

func collector(got *[]any) Sender {
	return func(payload any) { *got = append(*got, payload) }
}

func constant(payload any) func(types.ClientID) any {
	return func(types.ClientID) any { return payload }
}

func TestBroadcastOnlyToSubscribers(t *testing.T) {
	b := New()

	var toOne, toTwo []any
	b.AddClient("client-1", collector(&toOne))
	b.AddClient("client-2", collector(&toTwo))

	// Client 1 watches only B; updates for A and C must not reach it.
	b.Subscribe("client-1", sessionB)
	b.Subscribe("client-2", sessionA)

	b.Broadcast(sessionA, constant("update-a"))
	b.Broadcast(sessionC, constant("update-c"))
	if len(toOne) != 0 {
		t.Fatalf("client-1 received %d messages for sessions it never subscribed to", len(toOne))
	}

	n := b.Broadcast(sessionB, constant("update-b"))
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if len(toOne) != 1 || toOne[0] != "update-b" {
		t.Fatalf("client-1 expected exactly one update for B, got %v", toOne)
	}
	if len(toTwo) != 1 || toTwo[0] != "update-a" {
		t.Fatalf("client-2 expected only its own subscription's update, got %v", toTwo)
	}
}

func TestBroadcastAllReachesEveryClient(t *testing.T) {
	b := New()
	var toOne, toTwo []any
	b.AddClient("client-1", collector(&toOne))
	b.AddClient("client-2", collector(&toTwo))

	n := b.BroadcastAll(constant("created"))
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(toOne) != 1 || len(toTwo) != 1 {
		t.Fatalf("created event must reach all clients: %v / %v", toOne, toTwo)
	}
}

func TestMultipleClientsOneSession(t *testing.T) {
	b := New()
	var toOne, toTwo []any
	b.AddClient("client-1", collector(&toOne))
	b.AddClient("client-2", collector(&toTwo))
	b.Subscribe("client-1", sessionA)
	b.Subscribe("client-2", sessionA)

	if n := b.Broadcast(sessionA, constant("update")); n != 2 {
		t.Fatalf("expected both observers delivered, got %d", n)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var got []any
	b.AddClient("client-1", collector(&got))
	b.Subscribe("client-1", sessionA)
	b.Unsubscribe("client-1", sessionA)

	b.Broadcast(sessionA, constant("update"))
	if len(got) != 0 {
		t.Fatalf("unsubscribed client still delivered: %v", got)
	}
}

func TestRemoveClientDropsAllSubscriptions(t *testing.T) {
	b := New()
	var got []any
	gen := b.AddClient("client-1", collector(&got))
	b.Subscribe("client-1", sessionA)
	b.Subscribe("client-1", sessionB)

	b.RemoveClient("client-1", gen)

	b.Broadcast(sessionA, constant("a"))
	b.Broadcast(sessionB, constant("b"))
	b.BroadcastAll(constant("all"))
	if len(got) != 0 {
		t.Fatalf("disconnected client still delivered: %v", got)
	}
	if b.Subscribed("client-1", sessionA) {
		t.Fatal("subscription survived disconnect")
	}
}

func TestDropSession(t *testing.T) {
	b := New()
	var got []any
	b.AddClient("client-1", collector(&got))
	b.Subscribe("client-1", sessionA)

	b.DropSession(sessionA)
	b.Broadcast(sessionA, constant("update"))
	if len(got) != 0 {
		t.Fatalf("dropped session still delivered: %v", got)
	}
}

func TestStaleRemovalDoesNotEvictReconnect(t *testing.T) {
	b := New()
	var old, fresh []any
	staleGen := b.AddClient("client-1", collector(&old))

	// Reconnect replaces the registration before the old teardown runs.
	b.AddClient("client-1", collector(&fresh))
	b.Subscribe("client-1", sessionA)
	b.RemoveClient("client-1", staleGen)

	if n := b.Broadcast(sessionA, constant("update")); n != 1 {
		t.Fatalf("reconnected client evicted by stale teardown: %d deliveries", n)
	}
	if len(fresh) != 1 || len(old) != 0 {
		t.Fatalf("delivery went to the wrong registration: old=%v fresh=%v", old, fresh)
	}
}

func TestBuildCalledPerDestination(t *testing.T) {
	b := New()
	var toOne, toTwo []any
	b.AddClient("client-1", collector(&toOne))
	b.AddClient("client-2", collector(&toTwo))
	b.Subscribe("client-1", sessionA)
	b.Subscribe("client-2", sessionA)

	b.Broadcast(sessionA, func(id types.ClientID) any { return string(id) })
	if len(toOne) != 1 || toOne[0] != "client-1" {
		t.Fatalf("per-client payload wrong for client-1: %v", toOne)
	}
	if len(toTwo) != 1 || toTwo[0] != "client-2" {
		t.Fatalf("per-client payload wrong for client-2: %v", toTwo)
	}
}
