package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// RecordSpec describes a registered record type: its identity, its
// gathered fields, and for document types the collection it persists to.
// Abstract specs describe registered interfaces and carry no fields of
// their own; concrete implementers link in at registry build.
type RecordSpec struct {
	identity   string
	goType     reflect.Type
	collection string
	frozen     bool
	abstract   bool

	fields     []*FieldSchema
	byName     map[string]*FieldSchema
	extraIndex []int

	implementers map[reflect.Type]*RecordSpec
}

// NewRecordSpec gathers a struct type into a record spec.
func NewRecordSpec(identity string, goType reflect.Type, opts ...RecordOption) (*RecordSpec, error) {
	return newRecordSpec(identity, goType, "", opts)
}

// NewDocumentSpec gathers a struct type into a persisted record spec
// bound to a collection.
func NewDocumentSpec(identity string, goType reflect.Type, collection string, opts ...RecordOption) (*RecordSpec, error) {
	if collection == "" {
		return nil, Setupf("document type %q: empty collection name", identity)
	}
	return newRecordSpec(identity, goType, collection, opts)
}

// NewAbstractSpec registers an interface type under an identity. Concrete
// record types implementing it dispatch polymorphically through fields
// declared with the interface.
func NewAbstractSpec(identity string, ifaceType reflect.Type) (*RecordSpec, error) {
	if identity == "" {
		return nil, Setupf("abstract type %s: empty identity", ifaceType)
	}
	if ifaceType.Kind() != reflect.Interface {
		return nil, Setupf("abstract type %q: %s is not an interface type", identity, ifaceType)
	}
	return &RecordSpec{
		identity:     identity,
		goType:       ifaceType,
		abstract:     true,
		implementers: map[reflect.Type]*RecordSpec{},
	}, nil
}

func newRecordSpec(identity string, goType reflect.Type, collection string, opts []RecordOption) (*RecordSpec, error) {
	if identity == "" {
		return nil, Setupf("record type %s: empty identity", goType)
	}
	if goType.Kind() != reflect.Struct {
		return nil, Setupf("record type %q: %s is not a struct type", identity, goType)
	}

	var ro recordOptions
	for _, opt := range opts {
		opt(&ro)
	}

	s := &RecordSpec{
		identity:   identity,
		goType:     goType,
		collection: collection,
		frozen:     ro.frozen,
		byName:     map[string]*FieldSchema{},
	}
	if err := s.gather(goType, nil, &ro); err != nil {
		return nil, err
	}
	for name := range ro.fields {
		if _, ok := s.byName[name]; !ok {
			return nil, Setupf("record type %q: option for unknown field %q", identity, name)
		}
	}
	return s, nil
}

// gather walks struct fields, flattening anonymous embedded structs, and
// builds the field schemas in declaration order.
func (s *RecordSpec) gather(t reflect.Type, prefix []int, ro *recordOptions) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int{}, prefix...), i)

		if sf.Anonymous {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				return Setupf("record type %q: embedded pointer field %s", s.identity, sf.Name)
			}
			if ft.Kind() == reflect.Interface {
				return Setupf("record type %q: embedded interface field %s", s.identity, sf.Name)
			}
			if ft.Kind() == reflect.Struct && sf.Tag.Get(TagKey) == "" {
				if err := s.gather(ft, index, ro); err != nil {
					return err
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		pt, err := parseTag(sf.Tag.Get(TagKey))
		if err != nil {
			return Setupf("record type %q: field %s: %v", s.identity, sf.Name, err)
		}
		if pt.skip {
			continue
		}
		if pt.extra {
			if sf.Type != anyMapType {
				return Setupf("record type %q: extra field %s must be map[string]any", s.identity, sf.Name)
			}
			if s.extraIndex != nil {
				return Setupf("record type %q: duplicate extra field %s", s.identity, sf.Name)
			}
			s.extraIndex = index
			continue
		}

		name := pt.name
		if name == "" {
			name = sf.Name
		}
		if _, dup := s.byName[name]; dup {
			return Setupf("record type %q: duplicate field name %q", s.identity, name)
		}
		if strings.ContainsAny(name, ".[]{}") {
			return Setupf("record type %q: field name %q contains a path delimiter", s.identity, name)
		}
		if name == "_type" {
			return Setupf("record type %q: field name %q is reserved", s.identity, name)
		}

		where := fmt.Sprintf("record %q field %q", s.identity, name)
		expect, err := expectationOf(sf.Type, pt.ref, where)
		if err != nil {
			return err
		}
		if pt.nullable {
			expect.Nullable = true
		}

		f := &FieldSchema{
			Name:      name,
			GoName:    sf.Name,
			Declaring: s.identity,
			Expect:    expect,
			Config:    SchemaConfig{KeywordOnly: pt.kwonly},
			index:     index,
		}
		if pt.hasDefault {
			def, err := parseDefaultLiteral(pt.defLiteral, sf.Type)
			if err != nil {
				return Setupf("%s: %v", where, err)
			}
			f.Config.Default = def
			f.Config.HasDefault = true
		}
		if pt.zero {
			if f.Config.HasDefault {
				return Setupf("%s: zero flag conflicts with an explicit default", where)
			}
			if expect.Nullable {
				f.Config.Default = nil
			} else {
				f.Config.Default = reflect.Zero(sf.Type).Interface()
			}
			f.Config.HasDefault = true
		}
		if pt.update {
			f.Doc = &DocumentFieldConfig{AllowIndependentUpdate: true}
		}

		if fo, ok := ro.fields[name]; ok {
			applyFieldOptions(f, fo)
		}
		if f.Config.HasDefault && f.Config.DefaultFactory != nil {
			return Setupf("%s: default value and default factory are mutually exclusive", where)
		}

		s.fields = append(s.fields, f)
		s.byName[name] = f
	}
	return nil
}

func applyFieldOptions(f *FieldSchema, fo *fieldOptions) {
	if fo.hasDefault {
		f.Config.Default = fo.def
		f.Config.HasDefault = true
	}
	if fo.factory != nil {
		f.Config.DefaultFactory = fo.factory
	}
	if fo.validate != nil {
		f.Config.Validate = fo.validate
	}
	if fo.updatable || fo.updateValidate != nil || fo.insertValidate != nil {
		if f.Doc == nil {
			f.Doc = &DocumentFieldConfig{}
		}
		if fo.hasUpdatable {
			f.Doc.AllowIndependentUpdate = fo.updatable
		} else if fo.updatable {
			f.Doc.AllowIndependentUpdate = true
		}
		if fo.updateValidate != nil {
			f.Doc.UpdateValidate = fo.updateValidate
		}
		if fo.insertValidate != nil {
			f.Doc.InsertValidate = fo.insertValidate
		}
	}
}

// Identity returns the registered identity.
func (s *RecordSpec) Identity() string { return s.identity }

// GoType returns the struct type, or the interface type for abstract
// specs.
func (s *RecordSpec) GoType() reflect.Type { return s.goType }

// Collection returns the collection name; empty for plain records.
func (s *RecordSpec) Collection() string { return s.collection }

// IsDocument reports whether the type persists to a collection.
func (s *RecordSpec) IsDocument() bool { return s.collection != "" }

// Frozen reports whether in-place mutation is forbidden.
func (s *RecordSpec) Frozen() bool { return s.frozen }

// Abstract reports whether the spec describes an interface.
func (s *RecordSpec) Abstract() bool { return s.abstract }

// Fields returns the field schemas in declaration order.
func (s *RecordSpec) Fields() []*FieldSchema { return s.fields }

// Field looks a field schema up by wire name.
func (s *RecordSpec) Field(name string) (*FieldSchema, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// HasExtra reports whether the type declares an undeclared-key catch-all.
func (s *RecordSpec) HasExtra() bool { return s.extraIndex != nil }

// AddImplementer links a concrete record spec to an abstract spec. The
// registry calls it while building.
func (s *RecordSpec) AddImplementer(rs *RecordSpec) error {
	if !s.abstract {
		return Setupf("type %q is not abstract", s.identity)
	}
	s.implementers[rs.goType] = rs
	return nil
}

// Implementer resolves a concrete Go type through an abstract spec.
// Pointer types resolve through their element.
func (s *RecordSpec) Implementer(t reflect.Type) (*RecordSpec, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	rs, ok := s.implementers[t]
	return rs, ok
}

// Implementers returns the concrete specs linked to an abstract spec.
func (s *RecordSpec) Implementers() []*RecordSpec {
	out := make([]*RecordSpec, 0, len(s.implementers))
	for _, rs := range s.implementers {
		out = append(out, rs)
	}
	return out
}

// Resolve classifies every field expectation against the registry and
// validates declared defaults. The registry calls it once at build.
func (s *RecordSpec) Resolve(r Resolver) error {
	if s.abstract {
		return nil
	}
	for _, f := range s.fields {
		where := fmt.Sprintf("record %q field %q", s.identity, f.Name)
		if err := f.Expect.resolve(r, where); err != nil {
			return err
		}
		if f.Config.HasDefault {
			if err := s.checkValue(f, f.Config.Default); err != nil {
				return Setupf("%s: default value rejected: %v", where, err)
			}
		}
	}
	return nil
}

// checkValue runs the expectation and the field validation hook.
func (s *RecordSpec) checkValue(f *FieldSchema, v any) error {
	if err := f.Expect.Check(v); err != nil {
		return fieldErr(s.identity, f.Name, err)
	}
	if f.Config.Validate != nil {
		if v != nil || !f.Expect.Nullable {
			if err := f.Config.Validate(v); err != nil {
				return fieldErr(s.identity, f.Name, err)
			}
		}
	}
	return nil
}

// New returns a pointer to a fresh zero value of the record's struct.
func (s *RecordSpec) New() any {
	return reflect.New(s.goType).Interface()
}

// Instantiate constructs a record instance from positional and keyword
// arguments, applying defaults and validating every field. Missing
// required fields, unknown keywords, surplus positional arguments and
// keyword-only violations all fail here, never at first use. The result
// is a pointer to the struct.
func (s *RecordSpec) Instantiate(args []any, kwargs map[string]any) (any, error) {
	if s.abstract {
		return nil, Setupf("abstract type %q cannot be instantiated", s.identity)
	}
	rv := reflect.New(s.goType)
	used := make(map[string]bool, len(kwargs))

	posIdx := 0
	for _, f := range s.fields {
		var v any
		var have bool

		if !f.Config.KeywordOnly && posIdx < len(args) {
			v = args[posIdx]
			posIdx++
			have = true
			if _, dup := kwargs[f.Name]; dup {
				return nil, &ValidationError{Identity: s.identity, Field: f.Name, Reason: "supplied both positionally and by keyword"}
			}
		} else if kv, ok := kwargs[f.Name]; ok {
			v = kv
			have = true
			used[f.Name] = true
		} else if f.Config.Defaulted() {
			v = f.Config.DefaultValue()
			have = true
		}

		if !have {
			return nil, &ValidationError{Identity: s.identity, Field: f.Name, Reason: "missing required field"}
		}
		if err := s.setField(rv.Elem(), f, v); err != nil {
			return nil, err
		}
	}
	if posIdx < len(args) {
		return nil, &ValidationError{Identity: s.identity, Reason: fmt.Sprintf("%d surplus positional arguments", len(args)-posIdx)}
	}
	for name := range kwargs {
		if !used[name] {
			return nil, &ValidationError{Identity: s.identity, Field: name, Reason: "unknown field"}
		}
	}
	return rv.Interface(), nil
}

// SetField validates v and writes it into a record instance, which must
// be a pointer to the record's struct type.
func (s *RecordSpec) SetField(instance any, f *FieldSchema, v any) error {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Pointer || rv.Elem().Type() != s.goType {
		return fmt.Errorf("instance must be *%s, got %T", s.goType, instance)
	}
	return s.setField(rv.Elem(), f, v)
}

func (s *RecordSpec) setField(structVal reflect.Value, f *FieldSchema, v any) error {
	if err := s.checkValue(f, v); err != nil {
		return err
	}
	target := f.get(structVal)
	av, err := coerceAssign(target.Type(), v)
	if err != nil {
		return fieldErr(s.identity, f.Name, err)
	}
	target.Set(av)
	return nil
}

// FieldValue reads a field from a record instance (struct or pointer).
func (s *RecordSpec) FieldValue(instance any, f *FieldSchema) (any, error) {
	rv := reflect.ValueOf(instance)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Type() != s.goType {
		return nil, fmt.Errorf("instance must be %s, got %T", s.goType, instance)
	}
	fv := f.get(rv)
	if fv.Kind() == reflect.Pointer && fv.IsNil() {
		return nil, nil
	}
	if fv.Kind() == reflect.Pointer {
		return fv.Elem().Interface(), nil
	}
	return fv.Interface(), nil
}

// Extra returns the instance's undeclared-key map, nil when the type
// declares none or the map is empty.
func (s *RecordSpec) Extra(instance any) map[string]any {
	if s.extraIndex == nil {
		return nil
	}
	rv := reflect.ValueOf(instance)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	m, _ := rv.FieldByIndex(s.extraIndex).Interface().(map[string]any)
	return m
}

// SetExtra stores undeclared keys on an instance that declares a
// catch-all; it is a no-op otherwise.
func (s *RecordSpec) SetExtra(instance any, extra map[string]any) {
	if s.extraIndex == nil || len(extra) == 0 {
		return
	}
	rv := reflect.ValueOf(instance)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	rv.FieldByIndex(s.extraIndex).Set(reflect.ValueOf(extra))
}

// Validate checks every field of a live instance: expectations and hooks
// first, then nested records, sequences and dicts in depth.
func (s *RecordSpec) Validate(instance any) error {
	rv := reflect.ValueOf(instance)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return &ValidationError{Identity: s.identity, Reason: "nil instance"}
		}
		rv = rv.Elem()
	}
	if rv.Type() != s.goType {
		return &ValidationError{Identity: s.identity, Reason: fmt.Sprintf("expected %s, got %s", s.goType, rv.Type())}
	}
	for _, f := range s.fields {
		v, err := s.FieldValue(rv.Interface(), f)
		if err != nil {
			return err
		}
		if err := s.checkValue(f, v); err != nil {
			return err
		}
		if err := deepValidate(&f.Expect, v); err != nil {
			return fieldErr(s.identity, f.Name, err)
		}
	}
	return nil
}

// deepValidate recurses into nested records so a whole tree is validated
// before persistence.
func deepValidate(e *TypeExpectation, v any) error {
	if v == nil {
		return nil
	}
	switch e.Type.Kind() {
	case KindRecord:
		return e.Type.Record().Validate(v)
	case KindAbstract:
		rs, ok := e.Type.Record().Implementer(reflect.TypeOf(v))
		if !ok {
			return &ValidationError{Reason: fmt.Sprintf("%T does not satisfy %s", v, e.Type.Record().Identity())}
		}
		return rs.Validate(v)
	case KindSequence:
		rv := reflect.ValueOf(v)
		for i := 0; i < rv.Len(); i++ {
			if err := deepValidate(e.Type.Param, rv.Index(i).Interface()); err != nil {
				return fieldErr("", fmt.Sprintf("[%d]", i), err)
			}
		}
	case KindDict:
		rv := reflect.ValueOf(v)
		iter := rv.MapRange()
		for iter.Next() {
			if err := deepValidate(&e.Type.Dict().Value, iter.Value().Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

// coerceAssign converts a validated value to the declared field type:
// pointer wrapping for nullable fields, named-type conversion for
// primitives and pseudo-primitives, dereference for record values held
// as pointers.
func coerceAssign(target reflect.Type, v any) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(target), nil
	}
	rv := reflect.ValueOf(v)

	if target.Kind() == reflect.Pointer {
		inner := rv
		if inner.Kind() == reflect.Pointer {
			inner = inner.Elem()
		}
		av, err := coerceAssign(target.Elem(), inner.Interface())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(target.Elem())
		p.Elem().Set(av)
		return p, nil
	}

	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	if rv.Kind() == reflect.Pointer && rv.Elem().Type().AssignableTo(target) {
		return rv.Elem(), nil
	}
	if target.Kind() == reflect.Interface {
		// Prefer the value form so decoded pointers and constructed
		// values compare equal.
		if rv.Kind() == reflect.Pointer && rv.Elem().Type().Implements(target) {
			return rv.Elem(), nil
		}
		if rv.Type().Implements(target) {
			return rv, nil
		}
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		if p.Type().Implements(target) {
			return p, nil
		}
		return reflect.Value{}, Invalidf("%s does not satisfy %s", rv.Type(), target)
	}
	if rv.Type().ConvertibleTo(target) && sameScalarClass(rv.Type(), target) {
		return rv.Convert(target), nil
	}
	if rv.Kind() == reflect.Pointer && rv.Elem().Type().ConvertibleTo(target) && sameScalarClass(rv.Elem().Type(), target) {
		return rv.Elem().Convert(target), nil
	}
	return reflect.Value{}, Invalidf("cannot store %T into %s", v, target)
}

// Coerce converts a validated value to a declared type the way field
// assignment does: pointer wrapping for nullable positions, named-type
// conversion within a scalar class, interface boxing for abstract
// positions.
func Coerce(target reflect.Type, v any) (reflect.Value, error) {
	return coerceAssign(target, v)
}

// sameScalarClass guards Convert against cross-class conversions like
// string to int.
func sameScalarClass(from, to reflect.Type) bool {
	class := func(k reflect.Kind) int {
		switch k {
		case reflect.String:
			return 1
		case reflect.Bool:
			return 2
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return 3
		case reflect.Float32, reflect.Float64:
			return 4
		}
		return 0
	}
	fc, tc := class(from.Kind()), class(to.Kind())
	if fc == 0 || tc == 0 {
		return false
	}
	// ints widen into floats, never the reverse
	return fc == tc || (fc == 3 && tc == 4)
}
