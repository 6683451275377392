// Package doctree defines the document tree model shared by the codec and
// the store adapters: string-keyed maps, ordered sequences, and a small
// closed set of scalar kinds.
//
// Scalars are normalized to string, int64, float64, bool, time.Time and
// nil. Flat paths address positions inside a tree using dot notation with
// numeric segments for sequence indexes ("items.0.sku").
package doctree

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reserved document keys. Every stored record document carries KeyType;
// persisted documents additionally carry KeyID, KeyVersion and
// KeyLastModified.
const (
	KeyType         = "_type"
	KeyID           = "_id"
	KeyVersion      = "_version"
	KeyLastModified = "_last_modified"
)

// LegacySuffix marks a renamed field's old wire name. Readers fall back
// to `name__legacy__` when the exact name is absent.
const LegacySuffix = "__legacy__"

// keyEscape stands in for periods inside map keys so flat paths stay
// unambiguous under dot-splitting.
const keyEscape = "|||"

// EscapeKey replaces periods in a map key with the escape sequence.
func EscapeKey(k string) string {
	return strings.ReplaceAll(k, ".", keyEscape)
}

// UnescapeKey reverses EscapeKey.
func UnescapeKey(k string) string {
	return strings.ReplaceAll(k, keyEscape, ".")
}

// IsScalar reports whether v is one of the tree scalar kinds.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, string, int64, float64, bool, time.Time:
		return true
	}
	return false
}

// Normalize returns v with every scalar converted to its canonical kind:
// integer kinds widen to int64, float32 to float64, maps and slices are
// rebuilt as map[string]any and []any. Unsupported kinds are returned
// unchanged for the caller to reject.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool, time.Time:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Normalize(val)
		}
		return out
	}
	return v
}

// Clone deep-copies a tree value. Scalars are returned as-is.
func Clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Clone(val)
		}
		return out
	}
	return v
}

// CloneDoc deep-copies a document map.
func CloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return Clone(doc).(map[string]any)
}

// Get resolves a flat dot path inside doc. Numeric segments index into
// sequences. The second return is false when any segment is absent or of
// the wrong shape.
func Get(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at a flat dot path inside doc, creating intermediate
// maps for missing map segments. Sequence segments must already exist;
// indexing past the end of a sequence is an error.
func Set(doc map[string]any, path string, value any) error {
	segs := strings.Split(path, ".")
	var cur any = doc
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[seg] = value
				return nil
			}
			next, ok := node[seg]
			if !ok {
				child := map[string]any{}
				node[seg] = child
				cur = child
				continue
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return fmt.Errorf("path %q: segment %q indexes a sequence", path, seg)
			}
			if idx < 0 || idx >= len(node) {
				return fmt.Errorf("path %q: index %d out of range (len %d)", path, idx, len(node))
			}
			if last {
				node[idx] = value
				return nil
			}
			cur = node[idx]
		default:
			return fmt.Errorf("path %q: segment %q addresses into a scalar", path, seg)
		}
	}
	return nil
}

// Increment adds by to the int64 at a flat dot path, treating an absent
// terminal key as zero.
func Increment(doc map[string]any, path string, by int64) error {
	cur, ok := Get(doc, path)
	if !ok {
		return Set(doc, path, by)
	}
	n, ok := cur.(int64)
	if !ok {
		return fmt.Errorf("path %q: cannot increment %T", path, cur)
	}
	return Set(doc, path, n+by)
}
