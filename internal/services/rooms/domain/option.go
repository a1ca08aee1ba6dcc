package domain

import (
	"strconv"
	"strings"
)

// Option is an open option descriptor, at least {"id": ...} and usually a
// "name". Ids may arrive as strings or numbers.
type Option map[string]any

// ID returns the option id in canonical string form.
func (o Option) ID() (string, bool) {
	return valueKey(o["id"])
}

// Name returns the option's display name, or "".
func (o Option) Name() string {
	name, _ := o["name"].(string)
	return name
}

// Label returns the best human label for notifications.
func (o Option) Label() string {
	if name := strings.TrimSpace(o.Name()); name != "" {
		return name
	}
	if id, ok := o.ID(); ok {
		return id
	}
	return "option"
}

func valueKey(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

func asObject(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, v != nil
	case Option:
		return map[string]any(v), v != nil
	default:
		return nil, false
	}
}
