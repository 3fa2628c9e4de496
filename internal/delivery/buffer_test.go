package delivery

import (
	"testing"

	"github.com/user/sessionrelay/internal/types"
)

const client = types.ClientID("client-1")

func track(b *Buffer, c types.ClientID, payload any) types.DeliveryID {
	id := types.NewDeliveryID()
	b.Track(c, id, payload)
	return id
}

func TestTrackAcknowledge(t *testing.T) {
	b := NewBuffer()

	id := track(b, client, "message")
	if b.PendingCount(client) != 1 {
		t.Fatalf("expected 1 pending, got %d", b.PendingCount(client))
	}

	if !b.Acknowledge(client, id) {
		t.Fatal("acknowledge of known delivery failed")
	}
	if b.PendingCount(client) != 0 {
		t.Fatalf("expected 0 pending after ack, got %d", b.PendingCount(client))
	}

	if b.Acknowledge(client, id) {
		t.Fatal("double acknowledge should report unknown id")
	}
}

func TestPendingOldestFirst(t *testing.T) {
	b := NewBuffer()
	first := track(b, client, "one")
	second := track(b, client, "two")
	third := track(b, client, "three")

	// Acknowledge the middle one; order of the rest is preserved.
	b.Acknowledge(client, second)

	pending := b.Pending(client)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].DeliveryID != first || pending[1].DeliveryID != third {
		t.Fatal("pending deliveries not in enqueue order")
	}
	if pending[0].Payload != "one" || pending[1].Payload != "three" {
		t.Fatalf("unexpected payloads: %v", pending)
	}
}

func TestPendingSurvivesDisconnect(t *testing.T) {
	b := NewBuffer()
	track(b, client, "undelivered")

	// A disconnect does not touch the buffer; only Drop does.
	if got := b.Pending(client); len(got) != 1 {
		t.Fatalf("pending lost across disconnect: %d", len(got))
	}

	b.Drop(client)
	if b.PendingCount(client) != 0 {
		t.Fatal("Drop left pending deliveries behind")
	}
}

func TestClientsIsolated(t *testing.T) {
	b := NewBuffer()
	other := types.ClientID("client-2")
	id := track(b, client, "mine")
	track(b, other, "theirs")

	if b.Acknowledge(other, id) {
		t.Fatal("client-2 acknowledged client-1's delivery")
	}
	if b.PendingCount(client) != 1 || b.PendingCount(other) != 1 {
		t.Fatal("per-client pending sets not isolated")
	}
}
