package query

import (
	"bytes"
	"encoding/json"

	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/request"
)

// NormalizeList extracts a list from the response shapes the API uses, in
// order of precedence: an "items" array, a "data" array, a bare array.
// Anything else yields an empty list.
func NormalizeList[T any](body request.Body) ([]T, error) {
	list := []T{}

	if body.Kind != request.KindJSON {
		return list, nil
	}

	raw := bytes.TrimSpace(body.Raw())
	if isArray(raw) {
		return decodeList[T](raw)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return list, nil
	}

	for _, field := range []string{"items", "data"} {
		if v, ok := envelope[field]; ok && isArray(v) {
			return decodeList[T](v)
		}
	}

	return list, nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func decodeList[T any](raw json.RawMessage) ([]T, error) {
	list := []T{}
	if err := json.Unmarshal(raw, &list); err != nil {
		return []T{}, apierror.Parse(err)
	}
	return list, nil
}
