// Package bbolt provides a BoltDB-backed room storage implementation.
package bbolt

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/breakpoint/internal/services/rooms/storage"
	"go.etcd.io/bbolt"
)

const roomBucket = "rooms"

// Store keeps one blob per room in a single bucket.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRoom replaces the blob stored for roomID.
func (s *Store) SaveRoom(ctx context.Context, roomID string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("room id is required")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(roomBucket))
		if bucket == nil {
			return fmt.Errorf("room bucket is missing")
		}
		return bucket.Put(roomKey(roomID), blob)
	})
}

// LoadRoom fetches the blob stored for roomID.
func (s *Store) LoadRoom(ctx context.Context, roomID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("room id is required")
	}

	var blob []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(roomBucket))
		if bucket == nil {
			return fmt.Errorf("room bucket is missing")
		}
		payload := bucket.Get(roomKey(roomID))
		if payload == nil {
			return storage.ErrNotFound
		}
		// Bolt values are only valid inside the transaction.
		blob = append([]byte(nil), payload...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(roomBucket)); err != nil {
			return fmt.Errorf("create room bucket: %w", err)
		}
		return nil
	})
}

func roomKey(roomID string) []byte {
	return []byte(strings.TrimSpace(roomID))
}
