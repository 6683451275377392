// Package pipeline evaluates filters and mongo-style aggregation
// stages over document trees in doctree normal form. Store adapters
// that process documents in memory share these semantics, so a query
// behaves the same no matter which store is wired in.
package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/artpar/docmap/pkg/doctree"
	"github.com/artpar/docmap/ports"
)

// Run evaluates a pipeline of $match, $sort, $skip, $limit and $count
// stages over a snapshot of documents. $sort directions follow the
// mongo convention: negative means descending; multiple keys apply in
// lexical field order. The collection name only labels errors.
func Run(collection string, docs []map[string]any, pipeline []map[string]any) ([]map[string]any, error) {
	for _, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("aggregate %s: stage must have exactly one operator, got %d", collection, len(stage))
		}
		var err error
		for op, arg := range stage {
			docs, err = applyStage(collection, docs, op, arg)
		}
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func applyStage(collection string, docs []map[string]any, op string, arg any) ([]map[string]any, error) {
	switch op {
	case "$match":
		cond, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("aggregate %s: $match wants a filter document, got %T", collection, arg)
		}
		var out []map[string]any
		for _, doc := range docs {
			if Matches(doc, ports.Filter(cond)) {
				out = append(out, doc)
			}
		}
		return out, nil
	case "$sort":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("aggregate %s: $sort wants a direction document, got %T", collection, arg)
		}
		fields := make([]ports.SortField, 0, len(spec))
		for _, f := range sortedKeys(spec) {
			dir, ok := asInt64(spec[f])
			if !ok {
				return nil, fmt.Errorf("aggregate %s: $sort direction for %q must be numeric", collection, f)
			}
			fields = append(fields, ports.SortField{Field: f, Desc: dir < 0})
		}
		Sort(docs, fields)
		return docs, nil
	case "$skip":
		n, ok := asInt64(arg)
		if !ok {
			return nil, fmt.Errorf("aggregate %s: $skip wants a number, got %T", collection, arg)
		}
		return Window(docs, n, 0), nil
	case "$limit":
		n, ok := asInt64(arg)
		if !ok {
			return nil, fmt.Errorf("aggregate %s: $limit wants a number, got %T", collection, arg)
		}
		return Window(docs, 0, n), nil
	case "$count":
		name, ok := arg.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("aggregate %s: $count wants a field name", collection)
		}
		return []map[string]any{{name: int64(len(docs))}}, nil
	}
	return nil, fmt.Errorf("aggregate %s: unsupported stage %q", collection, op)
}

// Matches reports whether doc satisfies every clause of the filter.
// A clause on an absent path never matches, even a clause comparing
// against nil: only an explicit null satisfies that.
func Matches(doc map[string]any, filter ports.Filter) bool {
	for path, want := range filter {
		got, ok := doctree.Get(doc, path)
		if !ok {
			return false
		}
		if in, isIn := want.(ports.In); isIn {
			hit := false
			for _, cand := range in {
				if equal(got, doctree.Normalize(cand)) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
			continue
		}
		if !equal(got, doctree.Normalize(want)) {
			return false
		}
	}
	return true
}

// equal compares two stored scalars. Numbers compare across int64 and
// float64; times compare by instant.
func equal(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if af, ok := asFloat(a); ok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

// Compare orders two stored values: nil first, then numbers, strings,
// bools and times; values of different shapes keep their relative
// input order.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case !ab && bb:
				return -1
			case ab && !bb:
				return 1
			}
			return 0
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			}
			return 0
		}
	}
	return 0
}

// Sort orders docs in place by the given fields. The sort is stable,
// so equal keys keep their input order.
func Sort(docs []map[string]any, fields []ports.SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, sf := range fields {
			av, _ := doctree.Get(docs[i], sf.Field)
			bv, _ := doctree.Get(docs[j], sf.Field)
			c := Compare(av, bv)
			if sf.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// Window slices docs to skip leading entries and cap the remainder.
// A limit of zero means unlimited.
func Window(docs []map[string]any, skip, limit int64) []map[string]any {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
