// Package fieldpath implements typed paths into registered record
// values: a string form with field, index and key segments, checked
// construction against record specs, and navigation over live
// instances. A path addresses a single position inside a document, for
// pointer references and independent field updates.
package fieldpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/docmap/pkg/doctree"
)

// Path is the string form of a field path. The leading run names the
// root record identity; `.name` descends into a field, `[3]` into a
// sequence element and `{key}` into a dict entry. Dict keys appear with
// periods escaped as `|||` so the flat store rendering stays
// unambiguous.
//
//	order.items[0].sku
//	profile.labels{env|||prod}
type Path string

// PathError reports a path that cannot be parsed or does not fit the
// type it was resolved against.
type PathError struct {
	Path    Path
	Segment string
	Reason  string
}

func (e *PathError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("path %q: %s", string(e.Path), e.Reason)
	}
	return fmt.Sprintf("path %q at %q: %s", string(e.Path), e.Segment, e.Reason)
}

func (p Path) errf(seg string, format string, args ...any) *PathError {
	return &PathError{Path: p, Segment: seg, Reason: fmt.Sprintf(format, args...)}
}

// segKind discriminates path segments.
type segKind int

const (
	segField segKind = iota
	segIndex
	segKey
)

// Segment is one step of a path: a field descent, a sequence index or a
// dict key.
type Segment struct {
	kind  segKind
	name  string
	index int
	key   string
}

// Field returns a field descent segment for a wire field name.
func Field(name string) Segment { return Segment{kind: segField, name: name} }

// Index returns a sequence index segment.
func Index(i int) Segment { return Segment{kind: segIndex, index: i} }

// Key returns a dict key segment. The key is given unescaped.
func Key(k string) Segment { return Segment{kind: segKey, key: k} }

// String renders the segment in path form.
func (s Segment) String() string {
	switch s.kind {
	case segIndex:
		return "[" + strconv.Itoa(s.index) + "]"
	case segKey:
		return "{" + doctree.EscapeKey(s.key) + "}"
	}
	return "." + s.name
}

// flat renders the segment as one element of the flat store path.
func (s Segment) flat() string {
	switch s.kind {
	case segIndex:
		return strconv.Itoa(s.index)
	case segKey:
		return doctree.EscapeKey(s.key)
	}
	return s.name
}

// check rejects segment payloads that cannot round-trip through the
// string form.
func (s Segment) check() error {
	switch s.kind {
	case segField:
		if s.name == "" || strings.ContainsAny(s.name, ".[]{}") {
			return fmt.Errorf("field name %q is not addressable", s.name)
		}
	case segIndex:
		if s.index < 0 {
			return fmt.Errorf("index %d is negative", s.index)
		}
	case segKey:
		if strings.ContainsAny(s.key, "{}") {
			return fmt.Errorf("key %q contains a brace", s.key)
		}
	}
	return nil
}

func render(root string, segs []Segment) Path {
	var b strings.Builder
	b.WriteString(root)
	for _, sg := range segs {
		b.WriteString(sg.String())
	}
	return Path(b.String())
}

func isDelim(c byte) bool {
	return c == '.' || c == '[' || c == ']' || c == '{' || c == '}'
}

// parse splits the path into its root identity and segments.
func (p Path) parse() (string, []Segment, error) {
	s := string(p)
	i := 0
	for i < len(s) && !isDelim(s[i]) {
		i++
	}
	root := s[:i]
	if root == "" {
		return "", nil, p.errf("", "missing root identity")
	}
	var segs []Segment
	for i < len(s) {
		switch s[i] {
		case '.':
			j := i + 1
			for j < len(s) && !isDelim(s[j]) {
				j++
			}
			name := s[i+1 : j]
			if name == "" {
				return "", nil, p.errf(s[i:], "empty field name")
			}
			segs = append(segs, Field(name))
			i = j
		case '[':
			j := strings.IndexByte(s[i:], ']')
			if j < 0 {
				return "", nil, p.errf(s[i:], "unterminated index segment")
			}
			raw := s[i+1 : i+j]
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 || strings.HasPrefix(raw, "+") {
				return "", nil, p.errf(s[i:i+j+1], "index must be a non-negative integer")
			}
			segs = append(segs, Index(n))
			i += j + 1
		case '{':
			j := strings.IndexByte(s[i:], '}')
			if j < 0 {
				return "", nil, p.errf(s[i:], "unterminated key segment")
			}
			raw := s[i+1 : i+j]
			if strings.ContainsRune(raw, '{') {
				return "", nil, p.errf(s[i:i+j+1], "key contains a brace")
			}
			segs = append(segs, Key(doctree.UnescapeKey(raw)))
			i += j + 1
		default:
			return "", nil, p.errf(s[i:], "unexpected character %q", s[i])
		}
	}
	return root, segs, nil
}

// CheckSyntax verifies that the path parses. It consults no registry;
// Resolve adds the type checks.
func (p Path) CheckSyntax() error {
	_, _, err := p.parse()
	return err
}

// Root returns the root record identity, or "" for a malformed path.
func (p Path) Root() string {
	root, _, err := p.parse()
	if err != nil {
		return ""
	}
	return root
}

// Flat renders the segments in store form: field names, indexes and
// escaped keys joined with periods, without the root identity.
//
//	order.items[0].sku -> items.0.sku
func (p Path) Flat() (string, error) {
	_, segs, err := p.parse()
	if err != nil {
		return "", err
	}
	if len(segs) == 0 {
		return "", p.errf("", "path names no field")
	}
	parts := make([]string, len(segs))
	for i, sg := range segs {
		parts[i] = sg.flat()
	}
	return strings.Join(parts, "."), nil
}

func (p Path) String() string { return string(p) }
