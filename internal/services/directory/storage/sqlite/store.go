// Package sqlite provides a SQLite-backed directory storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/breakpoint/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/breakpoint/internal/services/directory/storage"
	"github.com/louisbranch/breakpoint/internal/services/directory/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists directory entries in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite directory store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutEntry upserts one entry.
func (s *Store) PutEntry(ctx context.Context, entry storage.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	roomID := strings.TrimSpace(entry.RoomID)
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	if entry.OnlineCount < 0 {
		return fmt.Errorf("online count must not be negative")
	}
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO directory_entries (room_id, online_count, host_name, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET
		   online_count = excluded.online_count,
		   host_name = excluded.host_name,
		   updated_at = excluded.updated_at`,
		roomID,
		entry.OnlineCount,
		strings.TrimSpace(entry.HostName),
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("put directory entry: %w", err)
	}
	return nil
}

// DeleteEntry removes one entry; missing entries are not an error.
func (s *Store) DeleteEntry(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM directory_entries WHERE room_id = ?`, strings.TrimSpace(roomID)); err != nil {
		return fmt.Errorf("delete directory entry: %w", err)
	}
	return nil
}

// DeleteEntriesBefore removes entries last updated before cutoff.
func (s *Store) DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM directory_entries WHERE updated_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete stale directory entries: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count stale directory entries: %w", err)
	}
	return removed, nil
}

// ListEntries returns all entries, newest first.
func (s *Store) ListEntries(ctx context.Context) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT room_id, online_count, host_name, updated_at
		 FROM directory_entries
		 ORDER BY updated_at DESC, room_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list directory entries: %w", err)
	}
	defer rows.Close()

	entries := make([]storage.Entry, 0)
	for rows.Next() {
		var (
			entry     storage.Entry
			updatedAt int64
		)
		if err := rows.Scan(&entry.RoomID, &entry.OnlineCount, &entry.HostName, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan directory entry: %w", err)
		}
		entry.UpdatedAt = fromMillis(updatedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directory entries: %w", err)
	}
	return entries, nil
}
