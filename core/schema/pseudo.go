package schema

import (
	"fmt"
	"reflect"
)

// PseudoSpec describes a registered pseudo-primitive: a named Go type
// with a primitive underlying kind, optionally validated and optionally
// closed over an enumerated value set.
type PseudoSpec struct {
	identity string
	goType   reflect.Type
	primID   string
	validate func(any) error
	values   map[any]struct{}
}

// NewPseudoSpec builds the spec for a pseudo-primitive type.
func NewPseudoSpec(identity string, goType reflect.Type, opts ...PseudoOption) (*PseudoSpec, error) {
	if identity == "" {
		return nil, Setupf("pseudo-primitive %s: empty identity", goType)
	}
	if goType.PkgPath() == "" {
		return nil, Setupf("pseudo-primitive %q: %s is not a named type", identity, goType)
	}
	var primID string
	switch goType.Kind() {
	case reflect.String:
		primID = PrimitiveString
	case reflect.Bool:
		primID = PrimitiveBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		primID = PrimitiveInt
	case reflect.Float32, reflect.Float64:
		primID = PrimitiveFloat
	default:
		return nil, Setupf("pseudo-primitive %q: underlying kind %s is not primitive", identity, goType.Kind())
	}

	var po pseudoOptions
	for _, opt := range opts {
		opt(&po)
	}

	spec := &PseudoSpec{
		identity: identity,
		goType:   goType,
		primID:   primID,
		validate: po.validate,
	}
	if len(po.values) > 0 {
		spec.values = make(map[any]struct{}, len(po.values))
		for _, v := range po.values {
			cv, err := spec.coerce(v)
			if err != nil {
				return nil, Setupf("pseudo-primitive %q: enum value %v: %v", identity, v, err)
			}
			spec.values[cv] = struct{}{}
		}
	}
	return spec, nil
}

// Identity returns the registered identity.
func (p *PseudoSpec) Identity() string { return p.identity }

// GoType returns the named Go type.
func (p *PseudoSpec) GoType() reflect.Type { return p.goType }

// Primitive returns the underlying primitive identity.
func (p *PseudoSpec) Primitive() string { return p.primID }

// coerce converts v to the named type when its primitive class matches.
func (p *PseudoSpec) coerce(v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Type() == p.goType {
		return v, nil
	}
	got, ok := PrimitiveIdentity(rv.Type())
	if !ok || (got != p.primID && !(p.primID == PrimitiveFloat && got == PrimitiveInt)) {
		return nil, &ValidationError{Reason: fmt.Sprintf("expected %s, got %T", p.identity, v)}
	}
	return rv.Convert(p.goType).Interface(), nil
}

// CheckValue verifies a live value: either the named type itself or a
// plain primitive of the matching class, then the validation hook, then
// enum membership. Accepting the plain class is deliberate — wire
// decoding and stored defaults deliver untyped primitives, which are
// converted to the named type only after they pass every check here.
func (p *PseudoSpec) CheckValue(rv reflect.Value) error {
	cv, err := p.coerce(rv.Interface())
	if err != nil {
		return err
	}
	if p.validate != nil {
		if err := p.validate(cv); err != nil {
			return fieldErr(p.identity, "", err)
		}
	}
	if p.values != nil {
		if _, ok := p.values[cv]; !ok {
			return &ValidationError{Identity: p.identity, Reason: fmt.Sprintf("%v is not a permitted value", rv.Interface())}
		}
	}
	return nil
}

// Coerce validates v and returns it converted to the named type. The
// decoder uses it to turn wire primitives back into typed values.
func (p *PseudoSpec) Coerce(v any) (any, error) {
	cv, err := p.coerce(v)
	if err != nil {
		return nil, err
	}
	if err := p.CheckValue(reflect.ValueOf(cv)); err != nil {
		return nil, err
	}
	return cv, nil
}
