// Package redis provides a Redis-backed room storage implementation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/breakpoint/internal/services/rooms/storage"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "breakpoint:room:"

// Options selects the Redis server and logical database.
type Options struct {
	Addr string
	DB   int
}

// Store keeps each room blob under its own key.
type Store struct {
	rdb *goredis.Client
}

// Open connects to Redis and verifies connectivity.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// Close shuts down the Redis client.
func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// LoadRoom returns the blob stored for roomID.
func (s *Store) LoadRoom(ctx context.Context, roomID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.rdb == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("room id is required")
	}
	blob, err := s.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return blob, nil
}

// SaveRoom overwrites the blob for roomID.
func (s *Store) SaveRoom(ctx context.Context, roomID string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.rdb == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("room id is required")
	}
	if err := s.rdb.Set(ctx, roomKey(roomID), blob, 0).Err(); err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

func roomKey(roomID string) string {
	return keyPrefix + strings.TrimSpace(roomID)
}
