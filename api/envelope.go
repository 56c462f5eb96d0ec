package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// PAYLOAD ENVELOPES
// =============================================================================

// Upstream systems wrap record lists in different envelopes. These are the
// only shapes accepted, tried in order. A bare array is always accepted.
var envelopePaths = [][]string{
	{"data"},
	{"Data"},
	{"items"},
	{"Items"},
	{"results"},
	{"body", "data"},
	{"body", "items"},
	{"data", "items"},
}

// ErrUnrecognizedEnvelope is returned for a body that is neither an array
// nor one of the known envelopes. It counts as caller misuse.
var ErrUnrecognizedEnvelope = fmt.Errorf("unrecognized payload envelope: %w", budget.ErrInvalidArgument)

// UnwrapEnvelope returns the JSON array inside body.
func UnwrapEnvelope(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrUnrecognizedEnvelope
	}
	if trimmed[0] == '[' {
		return trimmed, nil
	}
	if trimmed[0] != '{' {
		return nil, ErrUnrecognizedEnvelope
	}

	for _, path := range envelopePaths {
		if arr, ok := lookup(trimmed, path); ok {
			return arr, nil
		}
	}
	return nil, ErrUnrecognizedEnvelope
}

// lookup walks path through nested objects and reports whether it ends at
// an array.
func lookup(raw json.RawMessage, path []string) (json.RawMessage, bool) {
	for _, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, false
		}
		next, ok := obj[key]
		if !ok {
			return nil, false
		}
		raw = bytes.TrimSpace(next)
	}
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	return raw, true
}

// DecodeList unwraps body and decodes its array into []T.
func DecodeList[T any](body []byte) ([]T, error) {
	arr, err := UnwrapEnvelope(body)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(arr, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}
