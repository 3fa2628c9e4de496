// Package types holds the identifiers and data models shared across the
// parser, index, watcher, and server.
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type ClientID string
type DeliveryID string
type HolderID string

func NewDeliveryID() DeliveryID {
	return DeliveryID(uuid.New().String())
}

func NewHolderID() HolderID {
	return HolderID(uuid.New().String())
}

// ParseSessionID validates that raw is a UUID and returns it as a SessionID.
// Log files whose names are not UUIDs are rejected at ingestion so they can
// never enter the index, subscriptions, or broadcasts.
func ParseSessionID(raw string) (SessionID, bool) {
	if _, err := uuid.Parse(raw); err != nil {
		return "", false
	}
	return SessionID(raw), true
}
