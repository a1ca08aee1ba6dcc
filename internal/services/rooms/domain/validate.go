package domain

import (
	"encoding/json"
	"regexp"
	"unicode/utf8"

	apperrors "github.com/louisbranch/breakpoint/internal/platform/errors"
)

const (
	maxClientIDRunes    = 64
	maxDisplayNameRunes = 50
	maxAvatarRunes      = 8
	maxActivityIDRunes  = 80
)

var (
	roomIDPattern   = regexp.MustCompile(`^[A-Z0-9_-]{3,16}$`)
	clientIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidRoomID reports whether id is 3-16 characters of [A-Z0-9_-].
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// Identity is the payload of an identification request.
type Identity struct {
	ClientID    string
	DisplayName string
	Avatar      string
	Busy        *bool
}

// Validate checks clientId, then displayName, then avatar.
func (i Identity) Validate() error {
	if n := utf8.RuneCountInString(i.ClientID); n == 0 || n > maxClientIDRunes || !clientIDPattern.MatchString(i.ClientID) {
		return apperrors.New(apperrors.CodeBadClientID)
	}
	if err := ValidateDisplayName(i.DisplayName); err != nil {
		return err
	}
	return ValidateAvatar(i.Avatar)
}

// ValidateDisplayName requires 1-50 characters.
func ValidateDisplayName(name string) error {
	if n := utf8.RuneCountInString(name); n == 0 || n > maxDisplayNameRunes {
		return apperrors.New(apperrors.CodeBadDisplayName)
	}
	return nil
}

// ValidateAvatar requires 1-8 characters.
func ValidateAvatar(avatar string) error {
	if n := utf8.RuneCountInString(avatar); n == 0 || n > maxAvatarRunes {
		return apperrors.New(apperrors.CodeBadAvatar)
	}
	return nil
}

// ValidActivityID reports whether id is 1-80 characters.
func ValidActivityID(id string) bool {
	n := utf8.RuneCountInString(id)
	return n > 0 && n <= maxActivityIDRunes
}

// ParseActivity decodes and validates an activity proposed by host. Fields
// are checked in order: shape, id, kind, status, createdBy, createdAt, payload.
func ParseActivity(raw json.RawMessage, host string) (Activity, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Activity{}, apperrors.New(apperrors.CodeBadActivity)
	}

	id, ok := stringField(fields, "id")
	if !ok || !ValidActivityID(id) {
		return Activity{}, apperrors.New(apperrors.CodeBadActivityID)
	}
	kind, ok := stringField(fields, "kind")
	if !ok || !ActivityKind(kind).Valid() {
		return Activity{}, apperrors.New(apperrors.CodeBadActivityKind)
	}
	status, ok := stringField(fields, "status")
	if !ok || !ActivityStatus(status).Valid() {
		return Activity{}, apperrors.New(apperrors.CodeBadActivityStatus)
	}
	createdBy, ok := stringField(fields, "createdBy")
	if !ok || createdBy != host {
		return Activity{}, apperrors.New(apperrors.CodeBadActivityCreatedBy)
	}
	createdAt, ok := numberField(fields, "createdAt")
	if !ok {
		return Activity{}, apperrors.New(apperrors.CodeBadActivityCreatedAt)
	}
	payload, ok := objectFromRaw(fields["payload"])
	if !ok {
		return Activity{}, apperrors.New(apperrors.CodeBadActivityPayload)
	}

	return Activity{
		ID:        id,
		Kind:      ActivityKind(kind),
		Status:    ActivityStatus(status),
		CreatedBy: createdBy,
		CreatedAt: createdAt,
		Payload:   payload,
	}, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

func numberField(fields map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, false
	}
	number, ok := value.(float64)
	return number, ok
}

func objectFromRaw(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil || value == nil {
		return nil, false
	}
	return value, true
}
