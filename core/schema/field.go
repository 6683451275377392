package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// FieldSchema describes one declared field of a record type.
type FieldSchema struct {
	// Name is the wire name carried in serialized documents.
	Name string

	// GoName is the struct field name.
	GoName string

	// Declaring is the identity of the record type declaring the field.
	Declaring string

	// Expect is the type expectation, resolved at registry build.
	Expect TypeExpectation

	// Config governs defaults, keyword-only placement and validation.
	Config SchemaConfig

	// Doc carries the independent-update contract. Nil for fields never
	// declared with one; such fields cannot be updated on their own.
	Doc *DocumentFieldConfig

	index []int
}

// Updatable reports whether the field permits independent updates.
func (f *FieldSchema) Updatable() bool {
	return f.Doc != nil && f.Doc.AllowIndependentUpdate
}

// get returns the field's reflect value inside a struct value.
func (f *FieldSchema) get(structVal reflect.Value) reflect.Value {
	return structVal.FieldByIndex(f.index)
}

// Reflect returns the field's reflect value inside a struct value, for
// callers that walk live instances.
func (f *FieldSchema) Reflect(structVal reflect.Value) reflect.Value {
	return f.get(structVal)
}

// TagKey is the struct tag inspected when gathering record fields.
const TagKey = "docmap"

// parsedTag is the decoded form of a docmap struct tag.
type parsedTag struct {
	name       string
	skip       bool
	defLiteral string
	hasDefault bool
	zero       bool
	update     bool
	kwonly     bool
	nullable   bool
	extra      bool
	ref        string
}

// parseTag decodes a docmap tag. The first element is the wire name;
// flags follow comma-separated.
func parseTag(tag string) (parsedTag, error) {
	var pt parsedTag
	if tag == "" {
		return pt, nil
	}
	parts := strings.Split(tag, ",")
	pt.name = strings.TrimSpace(parts[0])
	if pt.name == "-" && len(parts) == 1 {
		pt.skip = true
		return pt, nil
	}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		switch {
		case p == "update":
			pt.update = true
		case p == "kwonly":
			pt.kwonly = true
		case p == "nullable":
			pt.nullable = true
		case p == "extra":
			pt.extra = true
		case p == "zero":
			pt.zero = true
		case strings.HasPrefix(p, "default "):
			pt.defLiteral = strings.TrimPrefix(p, "default ")
			pt.hasDefault = true
		case strings.HasPrefix(p, "ref "):
			pt.ref = strings.TrimSpace(strings.TrimPrefix(p, "ref "))
		case p == "":
			// trailing comma
		default:
			return pt, fmt.Errorf("unknown tag flag %q", p)
		}
	}
	return pt, nil
}

// parseDefaultLiteral turns a tag default into a value of the field's
// type. Pointer wrappers resolve to their element type.
func parseDefaultLiteral(lit string, t reflect.Type) (any, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(lit).Convert(t).Interface(), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return nil, fmt.Errorf("default %q is not a bool", lit)
		}
		return reflect.ValueOf(b).Convert(t).Interface(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("default %q is not an integer", lit)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Float32, reflect.Float64:
		fv, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, fmt.Errorf("default %q is not a number", lit)
		}
		return reflect.ValueOf(fv).Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("default literals are not supported for %s", t)
}
