// Package doc defines the document value model shared by the planner,
// constraint engine, and store: schemaless JSON-shaped rows, a total
// ordering across value types, and an order-preserving key encoding used
// for index entries and pagination cursors.
//
// Values inside a Doc are restricted to the JSON-compatible kinds:
// nil, bool, int64, float64, string, []any, and map[string]any. Integers
// read back from JSON are normalized to int64.
package doc

import (
	"encoding/json"
	"fmt"
)

// IDField is the reserved field every stored document carries.
const IDField = "id"

// ID identifies a document within one table.
type ID string

// Doc is a single schemaless document. Field access on a missing key
// yields nil; callers never distinguish "absent" from "null" except via
// Has.
type Doc map[string]any

// ID returns the document's id, or "" if unset.
func (d Doc) ID() ID {
	s, _ := d[IDField].(string)
	return ID(s)
}

// Get returns the value of a field, or nil when the field is absent.
func (d Doc) Get(field string) any {
	return d[field]
}

// Has reports whether the field is present, even if its value is nil.
func (d Doc) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// Clone returns a deep copy. Mutating the copy never affects the
// original, including nested arrays and objects.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a copy of d with every field from patch applied on top.
// A nil value in patch sets the field to null rather than removing it.
func (d Doc) Merge(patch Doc) Doc {
	out := d.Clone()
	if out == nil {
		out = make(Doc, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// ByteSize estimates the document's wire size. Used for byte budgets;
// precision beyond JSON length is not required.
func (d Doc) ByteSize() int {
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return 0
	}
	return len(b)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case Doc:
		return map[string]any(val.Clone())
	default:
		return val
	}
}

// Normalize rewrites a decoded JSON value into the restricted kinds:
// json.Number and small integer types become int64 when exact, float64
// otherwise. Unknown types are rejected.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", val)
		}
		return f, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case Doc:
		n, err := Normalize(map[string]any(val))
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// NormalizeDoc applies Normalize to every field of a document.
func NormalizeDoc(d Doc) (Doc, error) {
	out := make(Doc, len(d))
	for k, v := range d {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
