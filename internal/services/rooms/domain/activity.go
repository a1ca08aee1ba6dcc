package domain

import (
	"fmt"

	apperrors "github.com/louisbranch/breakpoint/internal/platform/errors"
)

// Payload keys shared with clients.
const (
	payloadVotes           = "votes"
	payloadOptions         = "options"
	payloadRestaurants     = "restaurants"
	payloadPromotedOptions = "promotedOptions"
	payloadResult          = "result"
)

// Vote keys that reference a candidate option.
var voteOptionKeys = []string{"optionId", "restaurantId"}

// SpinResult is the server-drawn outcome of a wheel spin.
type SpinResult struct {
	Winner string `json:"winner"`
	Index  int    `json:"index"`
}

// StartActivity replaces the current activity. Promotable kinds receive a
// copy of the room's promoted options in payload.promotedOptions.
func (s *RoomState) StartActivity(activity Activity, now int64) {
	if activity.Payload == nil {
		activity.Payload = map[string]any{}
	}
	if activity.Kind.Promotable() && len(s.PromotedOptions) > 0 {
		promoted := make([]any, 0, len(s.PromotedOptions))
		for _, option := range s.PromotedOptions {
			promoted = append(promoted, cloneObject(option))
		}
		activity.Payload[payloadPromotedOptions] = promoted
	}
	s.Activity = &activity
	s.UpdatedAt = now
}

// CurrentActivity returns the activity with id, optionally requiring it open.
func (s *RoomState) CurrentActivity(id string, requireOpen bool) (*Activity, error) {
	if s.Activity == nil || s.Activity.ID != id {
		return nil, apperrors.New(apperrors.CodeNoActivity)
	}
	if requireOpen && s.Activity.Status != StatusOpen {
		return nil, apperrors.New(apperrors.CodeNoActivity)
	}
	return s.Activity, nil
}

// MergePayload shallow-merges patch into the activity payload.
func (a *Activity) MergePayload(patch map[string]any) {
	if a.Payload == nil {
		a.Payload = map[string]any{}
	}
	for key, value := range patch {
		a.Payload[key] = cloneValue(value)
	}
}

// RecordVote stores clientID's vote, replacing any earlier one, and applies
// the promotion rule: when more than threshold distinct members reference the
// same candidate option and it is not promoted yet, the option's descriptor
// is appended to PromotedOptions and returned.
func (s *RoomState) RecordVote(clientID string, vote map[string]any, threshold int, now int64) (Option, bool) {
	activity := s.Activity
	votes, ok := asObject(activity.Payload[payloadVotes])
	if !ok {
		votes = map[string]any{}
	}
	votes[clientID] = cloneObject(vote)
	activity.Payload[payloadVotes] = votes
	s.UpdatedAt = now

	ref, ok := voteReference(vote)
	if !ok {
		return nil, false
	}
	count := 0
	for _, value := range votes {
		other, ok := asObject(value)
		if !ok {
			continue
		}
		if otherRef, ok := voteReference(other); ok && otherRef == ref {
			count++
		}
	}
	if count <= threshold || s.isPromoted(ref) {
		return nil, false
	}
	candidate, ok := findCandidate(activity.Payload, ref)
	if !ok {
		return nil, false
	}
	promoted := Option(cloneObject(candidate))
	s.PromotedOptions = append(s.PromotedOptions, promoted)
	return promoted, true
}

// Spin draws a winner from payload.options, which must be a non-empty list
// of strings, and records it in payload.result.
func (a *Activity) Spin(draw func(n int) (int, error)) (SpinResult, error) {
	raw, ok := a.Payload[payloadOptions].([]any)
	if !ok || len(raw) == 0 {
		return SpinResult{}, apperrors.New(apperrors.CodeNoOptions)
	}
	options := make([]string, len(raw))
	for i, value := range raw {
		option, ok := value.(string)
		if !ok {
			return SpinResult{}, apperrors.New(apperrors.CodeNoOptions)
		}
		options[i] = option
	}
	index, err := draw(len(options))
	if err != nil {
		return SpinResult{}, fmt.Errorf("draw spin index: %w", err)
	}
	if index < 0 || index >= len(options) {
		return SpinResult{}, fmt.Errorf("draw spin index: %d out of range", index)
	}
	result := SpinResult{Winner: options[index], Index: index}
	a.Payload[payloadResult] = map[string]any{
		"winner": result.Winner,
		"index":  float64(result.Index),
	}
	return result, nil
}

// Close marks the activity closed. A supplied result replaces
// payload.result and a copy of it is returned.
func (a *Activity) Close(result map[string]any) map[string]any {
	a.Status = StatusClosed
	if result == nil {
		return nil
	}
	a.Payload[payloadResult] = cloneObject(result)
	return cloneObject(result)
}

// AddPollOption appends option to the poll's candidate list unless an entry
// with the same id or name exists. A list of plain strings stays a list of
// strings and receives the option's name. It reports whether the list changed.
func (a *Activity) AddPollOption(option Option) bool {
	key := payloadOptions
	if _, ok := a.Payload[payloadRestaurants].([]any); ok {
		key = payloadRestaurants
	}
	list, _ := a.Payload[key].([]any)

	id, hasID := option.ID()
	name := option.Name()
	plain := len(list) > 0
	for _, value := range list {
		if label, ok := value.(string); ok {
			if label == name || (hasID && label == id) {
				return false
			}
			continue
		}
		plain = false
		existing, ok := asObject(value)
		if !ok {
			continue
		}
		if existingID, ok := Option(existing).ID(); ok && hasID && existingID == id {
			return false
		}
		if name != "" && Option(existing).Name() == name {
			return false
		}
	}
	if plain {
		label := name
		if label == "" {
			label = id
		}
		if label == "" {
			return false
		}
		a.Payload[key] = append(list, label)
		return true
	}
	a.Payload[key] = append(list, cloneObject(option))
	return true
}

func (s RoomState) isPromoted(ref string) bool {
	for _, option := range s.PromotedOptions {
		if id, ok := option.ID(); ok && id == ref {
			return true
		}
	}
	return false
}

func voteReference(vote map[string]any) (string, bool) {
	for _, key := range voteOptionKeys {
		if ref, ok := valueKey(vote[key]); ok {
			return ref, true
		}
	}
	return "", false
}

func findCandidate(payload map[string]any, ref string) (map[string]any, bool) {
	for _, key := range []string{payloadRestaurants, payloadOptions} {
		list, ok := payload[key].([]any)
		if !ok {
			continue
		}
		for _, value := range list {
			candidate, ok := asObject(value)
			if !ok {
				continue
			}
			if id, ok := Option(candidate).ID(); ok && id == ref {
				return candidate, true
			}
		}
	}
	return nil, false
}
