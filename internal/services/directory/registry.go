package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/breakpoint/internal/services/directory/storage"
)

// DefaultStaleAfter is how long an entry stays listed without a report.
const DefaultStaleAfter = 5 * time.Minute

// Occupancy is what a room reports about itself.
type Occupancy struct {
	RoomID      string
	OnlineCount int
	HostName    string
}

// Listing is one room as returned to clients.
type Listing struct {
	RoomID      string `json:"roomId"`
	OnlineCount int    `json:"onlineCount"`
	HostName    string `json:"hostName,omitempty"`
	LastUpdated int64  `json:"lastUpdated"`
}

// Registry records room occupancy reports.
type Registry struct {
	store      storage.EntryStore
	staleAfter time.Duration
	now        func() time.Time
}

// NewRegistry builds a registry over store.
func NewRegistry(store storage.EntryStore, staleAfter time.Duration) (*Registry, error) {
	if store == nil {
		return nil, errors.New("directory store is required")
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Registry{store: store, staleAfter: staleAfter, now: time.Now}, nil
}

// Report upserts a room's occupancy. Empty rooms are removed.
func (r *Registry) Report(ctx context.Context, occupancy Occupancy) error {
	roomID := strings.TrimSpace(occupancy.RoomID)
	if roomID == "" {
		return errors.New("room id is required")
	}
	if occupancy.OnlineCount <= 0 {
		return r.Remove(ctx, roomID)
	}
	return r.store.PutEntry(ctx, storage.Entry{
		RoomID:      roomID,
		OnlineCount: occupancy.OnlineCount,
		HostName:    occupancy.HostName,
		UpdatedAt:   r.now(),
	})
}

// Remove drops a room from the directory.
func (r *Registry) Remove(ctx context.Context, roomID string) error {
	return r.store.DeleteEntry(ctx, roomID)
}

// List prunes stale entries and returns the rest, newest first.
func (r *Registry) List(ctx context.Context) ([]Listing, error) {
	if _, err := r.store.DeleteEntriesBefore(ctx, r.now().Add(-r.staleAfter)); err != nil {
		return nil, fmt.Errorf("prune directory: %w", err)
	}
	entries, err := r.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	listings := make([]Listing, 0, len(entries))
	for _, entry := range entries {
		listings = append(listings, Listing{
			RoomID:      entry.RoomID,
			OnlineCount: entry.OnlineCount,
			HostName:    entry.HostName,
			LastUpdated: entry.UpdatedAt.UnixMilli(),
		})
	}
	return listings, nil
}

// ServeList writes {"rooms": [...]} for GET requests.
func (r *Registry) ServeList(w http.ResponseWriter, req *http.Request) {
	listings, err := r.List(req.Context())
	if err != nil {
		log.Printf("directory: list failed err=%v", err)
		http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Rooms []Listing `json:"rooms"`
	}{Rooms: listings})
}
