// Package domain models one room's authoritative state and the rules that
// mutate it. Nothing here performs I/O; callers persist and broadcast.
package domain

import (
	"encoding/json"
	"fmt"
)

// ActivityKind names the closed set of shared activities a host can start.
type ActivityKind string

const (
	KindDrinkWheel ActivityKind = "drink_wheel"
	KindFoodWheel  ActivityKind = "food_wheel"
	KindQuickPoll  ActivityKind = "quick_poll"
	KindSwipeMatch ActivityKind = "swipe_match"
)

// Valid reports whether k is a known activity kind.
func (k ActivityKind) Valid() bool {
	switch k {
	case KindDrinkWheel, KindFoodWheel, KindQuickPoll, KindSwipeMatch:
		return true
	default:
		return false
	}
}

// Promotable reports whether activities of this kind receive the room's
// promoted options when they start.
func (k ActivityKind) Promotable() bool {
	switch k {
	case KindDrinkWheel, KindFoodWheel, KindSwipeMatch:
		return true
	default:
		return false
	}
}

// ActivityStatus is the open/closed lifecycle flag of an activity.
type ActivityStatus string

const (
	StatusOpen   ActivityStatus = "open"
	StatusClosed ActivityStatus = "closed"
)

// Valid reports whether s is open or closed.
func (s ActivityStatus) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// Member is a participant known to the room, online or not.
type Member struct {
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	Busy        bool   `json:"busy"`
	Online      bool   `json:"online"`
	JoinedAt    int64  `json:"joinedAt"`
	LastSeenAt  int64  `json:"lastSeenAt"`
}

// Activity is the single shared activity of a room. Payload is an open JSON
// object whose shape depends on Kind.
type Activity struct {
	ID        string         `json:"id"`
	Kind      ActivityKind   `json:"kind"`
	Status    ActivityStatus `json:"status"`
	CreatedBy string         `json:"createdBy"`
	CreatedAt float64        `json:"createdAt"`
	Payload   map[string]any `json:"payload"`
}

// RoomState is everything persisted for one room.
type RoomState struct {
	RoomID          string            `json:"roomId"`
	HostClientID    string            `json:"hostClientId,omitempty"`
	Members         map[string]Member `json:"members"`
	Activity        *Activity         `json:"activity,omitempty"`
	PromotedOptions []Option          `json:"promotedOptions"`
	UpdatedAt       int64             `json:"updatedAt,omitempty"`
}

// NewRoomState returns an empty room.
func NewRoomState(roomID string) RoomState {
	return RoomState{
		RoomID:          roomID,
		Members:         make(map[string]Member),
		PromotedOptions: []Option{},
	}
}

// Encode serializes the state as the persisted blob.
func Encode(state RoomState) ([]byte, error) {
	state.normalize()
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal room state: %w", err)
	}
	return blob, nil
}

// Decode restores a state from a persisted blob.
func Decode(blob []byte) (RoomState, error) {
	var state RoomState
	if err := json.Unmarshal(blob, &state); err != nil {
		return RoomState{}, fmt.Errorf("unmarshal room state: %w", err)
	}
	state.normalize()
	return state, nil
}

func (s *RoomState) normalize() {
	if s.Members == nil {
		s.Members = make(map[string]Member)
	}
	if s.PromotedOptions == nil {
		s.PromotedOptions = []Option{}
	}
	if s.Activity != nil && s.Activity.Payload == nil {
		s.Activity.Payload = map[string]any{}
	}
}

// Clone returns a deep copy that shares no mutable data with s.
func (s RoomState) Clone() RoomState {
	out := RoomState{
		RoomID:          s.RoomID,
		HostClientID:    s.HostClientID,
		Members:         make(map[string]Member, len(s.Members)),
		PromotedOptions: make([]Option, 0, len(s.PromotedOptions)),
		UpdatedAt:       s.UpdatedAt,
	}
	for id, member := range s.Members {
		out.Members[id] = member
	}
	for _, option := range s.PromotedOptions {
		out.PromotedOptions = append(out.PromotedOptions, Option(cloneObject(option)))
	}
	if s.Activity != nil {
		activity := *s.Activity
		activity.Payload = cloneObject(s.Activity.Payload)
		out.Activity = &activity
	}
	return out
}

// OnlineCount returns the number of online members.
func (s RoomState) OnlineCount() int {
	count := 0
	for _, member := range s.Members {
		if member.Online {
			count++
		}
	}
	return count
}

// HostName returns the host's display name, or "" without a host.
func (s RoomState) HostName() string {
	if s.HostClientID == "" {
		return ""
	}
	return s.Members[s.HostClientID].DisplayName
}

// IsHost reports whether clientID is the current host.
func (s RoomState) IsHost(clientID string) bool {
	return clientID != "" && s.HostClientID == clientID
}

func cloneObject(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneObject(v)
	case Option:
		return Option(cloneObject(v))
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
