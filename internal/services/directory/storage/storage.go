// Package storage defines persistence contracts for the room directory.
package storage

import (
	"context"
	"time"
)

// Entry is one room's last reported occupancy.
type Entry struct {
	RoomID      string
	OnlineCount int
	HostName    string
	UpdatedAt   time.Time
}

// EntryStore persists directory entries keyed by room id.
type EntryStore interface {
	PutEntry(ctx context.Context, entry Entry) error
	DeleteEntry(ctx context.Context, roomID string) error
	// DeleteEntriesBefore drops entries last updated before cutoff.
	DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// ListEntries returns entries ordered by most recent update first.
	ListEntries(ctx context.Context) ([]Entry, error)
}
