// Package codec translates structured-container fields between their opaque
// text form in the store and real lists/objects at the API boundary. Which
// fields it touches, and what a failed parse falls back to, comes from the
// entity catalog rather than from inspecting values at runtime.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"chronoline/internal/schema"
)

// Decode parses every structured column of rec that holds text starting with
// '[' or '{'. A parse failure never reaches the caller: the raw text is kept
// as-is, or replaced with an empty list for entities configured that way.
// Columns outside the entity's structured set are untouched.
func Decode(e schema.Entity, rec map[string]any) map[string]any {
	for _, col := range e.Structured {
		raw, ok := rec[col]
		if !ok {
			continue
		}
		text, ok := raw.(string)
		if !ok {
			continue
		}
		parsed, ok := decodeText(text)
		if ok {
			rec[col] = parsed
			continue
		}
		if looksStructured(text) && e.Fallback == schema.FallbackEmptyList {
			rec[col] = []any{}
		}
	}
	return rec
}

// Encode serializes every structured column of rec that holds a container.
// Text values pass through unmodified; they are never re-parsed or
// re-validated on the way in.
func Encode(e schema.Entity, rec map[string]any) (map[string]any, error) {
	for _, col := range e.Structured {
		v, ok := rec[col]
		if !ok || v == nil {
			continue
		}
		if _, isText := v.(string); isText {
			continue
		}
		if !isContainer(v) {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", e.Kind, col, err)
		}
		rec[col] = string(data)
	}
	return rec, nil
}

// DecodeList parses stored text into a string list, applying the entity's
// fallback policy. Used by typed readers for list-of-string columns.
func DecodeList(e schema.Entity, text string) []string {
	if text == "" {
		if e.Fallback == schema.FallbackEmptyList {
			return []string{}
		}
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		if e.Fallback == schema.FallbackEmptyList {
			return []string{}
		}
		return nil
	}
	return out
}

// DecodeObjectList parses stored text into a list of objects, applying the
// entity's fallback policy.
func DecodeObjectList(e schema.Entity, text string) []map[string]any {
	if text == "" {
		if e.Fallback == schema.FallbackEmptyList {
			return []map[string]any{}
		}
		return nil
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		if e.Fallback == schema.FallbackEmptyList {
			return []map[string]any{}
		}
		return nil
	}
	return out
}

// EncodeValue serializes a container to its stored text form.
func EncodeValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeText(text string) (any, bool) {
	if !looksStructured(text) {
		return nil, false
	}
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

func looksStructured(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{")
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any, []string, []map[string]any:
		return true
	default:
		return false
	}
}
