// Package storage defines persistence contracts for room state.
//
// Each room is stored as one opaque blob, the serialized RoomState, written
// in full after every mutation. Backends never interpret the blob.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates a requested room record is missing.
var ErrNotFound = errors.New("record not found")

// RoomStore persists one blob per room id with last-write-wins semantics.
type RoomStore interface {
	LoadRoom(ctx context.Context, roomID string) ([]byte, error)
	SaveRoom(ctx context.Context, roomID string, blob []byte) error
	Close() error
}
