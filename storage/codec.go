package storage

import (
	json "github.com/goccy/go-json"
)

// List columns (image URLs, inclusions, highlights, tags) are stored as JSON
// text. encodeList and decodeList are the only place that encoding lives.

func encodeList[T any](items []T) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeList never fails: malformed or empty input yields an empty slice.
func decodeList[T any](raw string) []T {
	out := []T{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []T{}
	}
	return out
}
