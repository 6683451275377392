// Package codec turns registered record values into wire documents and
// back. A wire document is a map[string]any tree of primitive scalars
// carrying the record identity under the `_type` key; dict keys appear
// in canonical string form with periods escaped. The decoder dispatches
// polymorphically on `_type`, falls back to legacy field names, applies
// declared defaults and routes unknown keys to the catch-all field when
// the type declares one.
package codec

import (
	"fmt"
	"reflect"
	"time"

	"github.com/artpar/docmap/core/registry"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/pkg/doctree"
)

var timeType = reflect.TypeOf(time.Time{})

// Encoder renders registered record values as wire documents.
type Encoder struct {
	reg *registry.Registry
}

// NewEncoder returns an encoder over the given registry.
func NewEncoder(reg *registry.Registry) *Encoder {
	return &Encoder{reg: reg}
}

// Encode renders a record value, given by value or pointer, as a wire
// document carrying its identity under `_type`.
func (e *Encoder) Encode(value any) (map[string]any, error) {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, fmt.Errorf("encode: nil value")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("encode: %T is not a record value", value)
	}
	rs, ok := e.reg.RecordByType(rv.Type())
	if !ok {
		return nil, fmt.Errorf("encode: struct type %s is not registered", rv.Type())
	}
	return e.encodeRecord(rs, rv)
}

// EncodeValue renders a single value in wire form, exactly as it would
// appear inside an encoded document: records become maps with a `_type`
// key, pseudo-primitives their base scalar, dict keys are escaped.
func (e *Encoder) EncodeValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	return e.encodeValue(reflect.ValueOf(value))
}

func (e *Encoder) encodeRecord(rs *schema.RecordSpec, rv reflect.Value) (map[string]any, error) {
	out := make(map[string]any, len(rs.Fields())+1)
	out[doctree.KeyType] = rs.Identity()
	for _, f := range rs.Fields() {
		v, err := e.encodeValue(f.Reflect(rv))
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", rs.Identity(), f.Name, err)
		}
		out[f.Name] = v
	}
	// Undeclared keys ride along at the document top level. Declared
	// fields win on collision.
	for k, v := range rs.Extra(rv.Interface()) {
		if _, taken := out[k]; taken {
			continue
		}
		out[k] = doctree.Normalize(v)
	}
	return out, nil
}

func (e *Encoder) encodeValue(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	t := rv.Type()

	switch rv.Kind() {
	case reflect.Struct:
		if t == timeType {
			return rv.Interface(), nil
		}
		if rs, ok := e.reg.RecordByType(t); ok {
			return e.encodeRecord(rs, rv)
		}
		return nil, fmt.Errorf("struct type %s is not registered", t)
	case reflect.Map:
		if ds, ok := e.reg.DictByType(t); ok {
			return e.encodeDict(ds, rv)
		}
		if m, ok := rv.Interface().(map[string]any); ok {
			return e.encodeUntyped(m)
		}
		return nil, fmt.Errorf("map type %s is not registered", t)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			v, err := e.encodeValue(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	// Named scalar types are registered pseudo-primitives; both they and
	// the plain scalars render as their canonical wire kind.
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("cannot encode %s", t)
}

func (e *Encoder) encodeDict(ds *schema.DictSpec, rv reflect.Value) (map[string]any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		ks, err := ds.KeyString(iter.Key().Interface())
		if err != nil {
			return nil, err
		}
		v, err := e.encodeValue(iter.Value())
		if err != nil {
			return nil, err
		}
		out[doctree.EscapeKey(ks)] = v
	}
	return out, nil
}

func (e *Encoder) encodeUntyped(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		ev, err := e.encodeValue(reflect.ValueOf(v))
		if err != nil {
			return nil, err
		}
		out[doctree.EscapeKey(k)] = ev
	}
	return out, nil
}
