package codec

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/docmap/core/registry"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/pkg/doctree"
)

// Decoder builds record values from wire documents.
type Decoder struct {
	reg *registry.Registry
	log zerolog.Logger

	// Observer, when set, is told about every legacy-name fallback the
	// decoder performs.
	Observer func(identity, field string)
}

// NewDecoder returns a decoder over the given registry.
func NewDecoder(reg *registry.Registry, log zerolog.Logger) *Decoder {
	return &Decoder{reg: reg, log: log}
}

// Decode builds the record value a document describes, dispatching on
// its `_type` key. The result is a pointer to the concrete struct,
// fully validated.
func (d *Decoder) Decode(doc map[string]any) (any, error) {
	raw, ok := doc[doctree.KeyType]
	if !ok {
		return nil, fmt.Errorf("decode: document has no %s key", doctree.KeyType)
	}
	id, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("decode: %s must be a string, got %T", doctree.KeyType, raw)
	}
	rs, err := d.reg.Record(id)
	if err != nil {
		return nil, err
	}
	return d.finish(rs, doc)
}

// DecodeAs builds a record value checked against an expected identity,
// which may be abstract. A `_type` key in the document must name the
// expected type or, for abstract expectations, one of its implementers.
func (d *Decoder) DecodeAs(doc map[string]any, identity string) (any, error) {
	rs, err := d.reg.Record(identity)
	if err != nil {
		return nil, err
	}
	return d.finish(rs, doc)
}

func (d *Decoder) finish(expected *schema.RecordSpec, doc map[string]any) (any, error) {
	out, actual, err := d.decodeRecord(expected, doc)
	if err != nil {
		return nil, err
	}
	if err := actual.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// dispatch picks the concrete spec for a document: the `_type` key when
// present, the expected spec otherwise. Abstract expectations require a
// `_type` naming an implementer.
func (d *Decoder) dispatch(expected *schema.RecordSpec, m map[string]any) (*schema.RecordSpec, error) {
	actual := expected
	if raw, ok := m[doctree.KeyType]; ok {
		id, sok := raw.(string)
		if !sok {
			return nil, fmt.Errorf("%s must be a string, got %T", doctree.KeyType, raw)
		}
		rs, err := d.reg.Record(id)
		if err != nil {
			return nil, err
		}
		if rs != expected {
			if !expected.Abstract() {
				return nil, fmt.Errorf("document is %q, expected %q", id, expected.Identity())
			}
			if _, ok := expected.Implementer(rs.GoType()); !ok {
				return nil, fmt.Errorf("%q does not satisfy %q", id, expected.Identity())
			}
		}
		actual = rs
	} else if expected.Abstract() {
		return nil, fmt.Errorf("cannot decode into abstract %q without a %s key", expected.Identity(), doctree.KeyType)
	}
	if actual.Abstract() {
		return nil, fmt.Errorf("%s names abstract type %q", doctree.KeyType, actual.Identity())
	}
	return actual, nil
}

func (d *Decoder) decodeRecord(expected *schema.RecordSpec, m map[string]any) (any, *schema.RecordSpec, error) {
	actual, err := d.dispatch(expected, m)
	if err != nil {
		return nil, nil, err
	}
	out := actual.New()
	rv := reflect.ValueOf(out).Elem()
	used := map[string]bool{doctree.KeyType: true}

	for _, f := range actual.Fields() {
		raw, ok := m[f.Name]
		if ok {
			used[f.Name] = true
		} else if lv, lok := m[f.Name+doctree.LegacySuffix]; lok {
			raw, ok = lv, true
			used[f.Name+doctree.LegacySuffix] = true
			d.log.Info().
				Str("type", actual.Identity()).
				Str("field", f.Name).
				Msg("decoded field from legacy name")
			if d.Observer != nil {
				d.Observer(actual.Identity(), f.Name)
			}
		}
		if !ok {
			if f.Config.Defaulted() {
				if err := actual.SetField(out, f, f.Config.DefaultValue()); err != nil {
					return nil, nil, fmt.Errorf("%s.%s: %w", actual.Identity(), f.Name, err)
				}
				continue
			}
			return nil, nil, &schema.ValidationError{
				Identity: actual.Identity(), Field: f.Name, Reason: "missing required field",
			}
		}
		val, err := d.decodeValue(f.Expect, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", actual.Identity(), f.Name, err)
		}
		fv := f.Reflect(rv)
		av, err := schema.Coerce(fv.Type(), val)
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", actual.Identity(), f.Name, err)
		}
		fv.Set(av)
	}

	var extra map[string]any
	for k, v := range m {
		if used[k] {
			continue
		}
		if actual.HasExtra() {
			if extra == nil {
				extra = map[string]any{}
			}
			extra[k] = doctree.Normalize(v)
			continue
		}
		d.log.Debug().
			Str("type", actual.Identity()).
			Str("key", k).
			Msg("dropping unknown document key")
	}
	actual.SetExtra(out, extra)
	return out, actual, nil
}

func (d *Decoder) decodeValue(expect schema.TypeExpectation, v any) (any, error) {
	if v == nil {
		if expect.Nullable {
			return nil, nil
		}
		return nil, &schema.ValidationError{Reason: "null is not permitted here"}
	}
	ti := &expect.Type
	switch ti.Kind() {
	case schema.KindPrimitive:
		return decodePrimitive(ti.Primitive(), v)
	case schema.KindPseudo:
		return decodePseudo(ti.Pseudo(), v)
	case schema.KindRecord, schema.KindAbstract:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected a document map, got %T", v)
		}
		out, _, err := d.decodeRecord(ti.Record(), m)
		return out, err
	case schema.KindDict:
		return d.decodeDict(ti.Dict(), v)
	case schema.KindSequence:
		return d.decodeSequence(ti, v)
	}
	return nil, fmt.Errorf("unresolved expectation for %s", ti.Base)
}

func (d *Decoder) decodeDict(ds *schema.DictSpec, v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a dict map, got %T", v)
	}
	out := reflect.MakeMapWithSize(ds.GoType(), len(m))
	for k, raw := range m {
		key, err := ds.ParseKey(doctree.UnescapeKey(k))
		if err != nil {
			return nil, err
		}
		dv, err := d.decodeValue(ds.Value, raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		ev, err := schema.Coerce(ds.GoType().Elem(), dv)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out.SetMapIndex(reflect.ValueOf(key), ev)
	}
	return out.Interface(), nil
}

func (d *Decoder) decodeSequence(ti *schema.TypeInfo, v any) (any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a sequence, got %T", v)
	}
	var out reflect.Value
	switch ti.Base.Kind() {
	case reflect.Array:
		if len(list) != ti.Base.Len() {
			return nil, fmt.Errorf("expected %d elements, got %d", ti.Base.Len(), len(list))
		}
		out = reflect.New(ti.Base).Elem()
	default:
		out = reflect.MakeSlice(ti.Base, len(list), len(list))
	}
	for i, item := range list {
		ev, err := d.decodeValue(*ti.Param, item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		av, err := schema.Coerce(ti.Base.Elem(), ev)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out.Index(i).Set(av)
	}
	return out.Interface(), nil
}

// decodePrimitive converts a wire value to its canonical scalar kind.
// Integral floats are accepted in integer positions because JSON
// round-trips carry every number as a float.
func decodePrimitive(primID string, v any) (any, error) {
	v = doctree.Normalize(v)
	switch primID {
	case schema.PrimitiveString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.PrimitiveBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.PrimitiveInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
			return nil, fmt.Errorf("%v is not an integer", n)
		}
	case schema.PrimitiveFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case schema.PrimitiveDateTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("%q is not a datetime: %v", t, err)
			}
			return ts, nil
		}
	case schema.PrimitiveDict:
		if m, ok := v.(map[string]any); ok {
			tree := unescapeTree(m)
			if err := schema.CheckPrimitiveTree(tree); err != nil {
				return nil, err
			}
			return tree, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", primID, v)
}

func decodePseudo(ps *schema.PseudoSpec, v any) (any, error) {
	nv := doctree.Normalize(v)
	if ps.Primitive() == schema.PrimitiveInt {
		if f, ok := nv.(float64); ok && f == math.Trunc(f) {
			nv = int64(f)
		}
	}
	return ps.Coerce(nv)
}

// unescapeTree reverses the key escaping inside untyped dict values.
func unescapeTree(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[doctree.UnescapeKey(k)] = unescapeTree(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = unescapeTree(val)
		}
		return out
	}
	return doctree.Normalize(v)
}
