package docsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidPatch = errors.New("changes must be a JSON object")

// Patch is a coarse partial-document update keyed by top-level field
// (content, sketchData, url, metadata, ...). A later value for a key replaces
// the earlier one wholesale; nested objects are not merged.
type Patch map[string]json.RawMessage

func DecodePatch(raw json.RawMessage) (Patch, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Patch{}, nil
	}
	var p Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if p == nil {
		return nil, ErrInvalidPatch
	}
	return p, nil
}

// PatchOf builds a Patch from plain Go values.
func PatchOf(fields map[string]any) (Patch, error) {
	p := make(Patch, len(fields))
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		p[k] = b
	}
	return p, nil
}

func (p Patch) Encode() json.RawMessage {
	if p == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(map[string]json.RawMessage(p))
	if err != nil {
		// RawMessage 值在 Decode/PatchOf 时已经校验过
		return json.RawMessage("{}")
	}
	return b
}

func (p Patch) Clone() Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge returns base with every key of patch applied on top. Neither input is modified.
func Merge(base, patch Patch) Patch {
	out := make(Patch, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Changes reports whether applying patch to base would alter any field.
func Changes(base, patch Patch) bool {
	for k, v := range patch {
		cur, ok := base[k]
		if !ok || !sameJSON(cur, v) {
			return true
		}
	}
	return false
}

func Equal(a, b Patch) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !sameJSON(v, w) {
			return false
		}
	}
	return true
}

// sameJSON compares two values by their canonical encoding, so key order and
// whitespace do not count as a difference.
func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	ca, errA := canonical(a)
	cb, errB := canonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func canonical(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
