package webhook

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Path walks nested objects of document along keys. Missing or non-object
// intermediates yield (nil, false).
func Path(document map[string]any, keys ...string) (any, bool) {
	var current any = document
	for _, key := range keys {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[key]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// PathString returns the string at keys. Numbers are rendered in decimal.
func PathString(document map[string]any, keys ...string) (string, bool) {
	value, ok := Path(document, keys...)
	if !ok {
		return "", false
	}
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		return trimmed, trimmed != ""
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	default:
		return "", false
	}
}

// PathInt returns the integer at keys. Numeric strings are accepted;
// fractional values are rejected.
func PathInt(document map[string]any, keys ...string) (int64, bool) {
	value, ok := Path(document, keys...)
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed, true
		}
		return 0, false
	case float64:
		if typed != math.Trunc(typed) || math.Abs(typed) > math.MaxInt64 {
			return 0, false
		}
		return int64(typed), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// FirstString returns the first non-empty string among paths.
func FirstString(document map[string]any, paths ...[]string) string {
	for _, path := range paths {
		if value, ok := PathString(document, path...); ok {
			return value
		}
	}
	return ""
}

// FirstInt returns the first integer among paths.
func FirstInt(document map[string]any, paths ...[]string) (int64, bool) {
	for _, path := range paths {
		if value, ok := PathInt(document, path...); ok {
			return value, true
		}
	}
	return 0, false
}

func keys(parts ...string) []string {
	return parts
}
