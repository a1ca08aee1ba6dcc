// Package memory provides an in-process room store for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/louisbranch/breakpoint/internal/services/rooms/storage"
)

// Store keeps room blobs in a map.
type Store struct {
	mu    sync.Mutex
	rooms map[string][]byte
	fail  bool
}

// New returns an empty store.
func New() *Store {
	return &Store{rooms: make(map[string][]byte)}
}

// LoadRoom returns a copy of the stored blob.
func (s *Store) LoadRoom(ctx context.Context, roomID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.rooms[strings.TrimSpace(roomID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// SaveRoom replaces the stored blob.
func (s *Store) SaveRoom(ctx context.Context, roomID string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("save room %s: store unavailable", roomID)
	}
	s.rooms[roomID] = append([]byte(nil), blob...)
	return nil
}

// SetFailSaves makes SaveRoom fail until reset.
func (s *Store) SetFailSaves(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
