package schema

import (
	"fmt"
	"reflect"
	"strconv"
)

// DictSpec describes a registered dict-container type: a named map whose
// key type is primitive or pseudo-primitive (keys serialize to strings)
// and whose value type is any registered expectation, abstract included.
type DictSpec struct {
	identity string
	goType   reflect.Type

	// Key is the declared key expectation. Never nullable.
	Key TypeExpectation

	// Value is the declared value expectation.
	Value TypeExpectation

	limitKeys map[string]struct{}
	rawLimit  []any
}

// NewDictSpec builds the spec for a dict-container type.
func NewDictSpec(identity string, goType reflect.Type, opts ...DictOption) (*DictSpec, error) {
	if identity == "" {
		return nil, Setupf("dict type %s: empty identity", goType)
	}
	if goType.Kind() != reflect.Map || goType.PkgPath() == "" {
		return nil, Setupf("dict type %q: %s is not a named map type", identity, goType)
	}

	key, err := expectationOf(goType.Key(), "", fmt.Sprintf("dict %q key", identity))
	if err != nil {
		return nil, err
	}
	if key.Nullable {
		return nil, Setupf("dict type %q: keys cannot be nullable", identity)
	}
	value, err := expectationOf(goType.Elem(), "", fmt.Sprintf("dict %q value", identity))
	if err != nil {
		return nil, err
	}

	var do dictOptions
	for _, opt := range opts {
		opt(&do)
	}
	return &DictSpec{
		identity: identity,
		goType:   goType,
		Key:      key,
		Value:    value,
		rawLimit: do.limitKeys,
	}, nil
}

// Identity returns the registered identity.
func (d *DictSpec) Identity() string { return d.identity }

// GoType returns the named map type.
func (d *DictSpec) GoType() reflect.Type { return d.goType }

// Resolve classifies key and value expectations and materializes the
// permitted key set. The registry calls it once at build.
func (d *DictSpec) Resolve(r Resolver) error {
	if err := d.Key.resolve(r, fmt.Sprintf("dict %q key", d.identity)); err != nil {
		return err
	}
	switch d.Key.Type.Kind() {
	case KindPrimitive:
		if d.Key.Type.Primitive() == PrimitiveDict || d.Key.Type.Primitive() == PrimitiveDateTime {
			return Setupf("dict %q: key type %s does not serialize to a string", d.identity, d.Key.Type.Base)
		}
	case KindPseudo:
		// fine: underlying primitive serializes
	default:
		return Setupf("dict %q: key type %s must be primitive or pseudo-primitive", d.identity, d.Key.Type.Base)
	}
	if err := d.Value.resolve(r, fmt.Sprintf("dict %q value", d.identity)); err != nil {
		return err
	}

	if len(d.rawLimit) > 0 {
		d.limitKeys = make(map[string]struct{}, len(d.rawLimit))
		for _, k := range d.rawLimit {
			if err := d.Key.Check(k); err != nil {
				return Setupf("dict %q: permitted key %v: %v", d.identity, k, err)
			}
			ks, err := d.KeyString(k)
			if err != nil {
				return Setupf("dict %q: permitted key %v: %v", d.identity, k, err)
			}
			d.limitKeys[ks] = struct{}{}
		}
	}
	return nil
}

// KeyString renders a key value in its canonical string form.
func (d *DictSpec) KeyString(k any) (string, error) {
	rv := reflect.ValueOf(k)
	if rv.Type() != d.goType.Key() {
		if !rv.Type().ConvertibleTo(d.goType.Key()) {
			return "", &ValidationError{Identity: d.identity, Reason: fmt.Sprintf("%T is not a valid key", k)}
		}
		rv = rv.Convert(d.goType.Key())
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	}
	return "", &ValidationError{Identity: d.identity, Reason: fmt.Sprintf("%T is not a valid key", k)}
}

// ParseKey converts a canonical key string back to the declared key type.
func (d *DictSpec) ParseKey(s string) (any, error) {
	kt := d.goType.Key()
	var raw any
	var err error
	switch kt.Kind() {
	case reflect.String:
		raw = s
	case reflect.Bool:
		raw, err = strconv.ParseBool(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		raw, err = strconv.ParseInt(s, 10, 64)
	case reflect.Float32, reflect.Float64:
		raw, err = strconv.ParseFloat(s, 64)
	default:
		err = fmt.Errorf("unsupported key kind %s", kt.Kind())
	}
	if err != nil {
		return nil, &ValidationError{Identity: d.identity, Reason: fmt.Sprintf("%q is not a valid key: %v", s, err)}
	}
	rv := reflect.ValueOf(raw)
	if !rv.Type().ConvertibleTo(kt) {
		return nil, &ValidationError{Identity: d.identity, Reason: fmt.Sprintf("%q is not a valid key", s)}
	}
	key := rv.Convert(kt).Interface()
	if err := d.CheckKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// CheckKey verifies a single key against the key expectation and the
// permitted key set.
func (d *DictSpec) CheckKey(k any) error {
	if err := d.Key.Check(k); err != nil {
		return fieldErr(d.identity, "", err)
	}
	if d.limitKeys != nil {
		ks, err := d.KeyString(k)
		if err != nil {
			return err
		}
		if _, ok := d.limitKeys[ks]; !ok {
			return &ValidationError{Identity: d.identity, Reason: fmt.Sprintf("%v is not a permitted key", k)}
		}
	}
	return nil
}

// CheckValue verifies every entry of a live map value.
func (d *DictSpec) CheckValue(rv reflect.Value) error {
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key().Interface()
		if err := d.CheckKey(k); err != nil {
			return err
		}
		if err := d.Value.Check(iter.Value().Interface()); err != nil {
			ks, _ := d.KeyString(k)
			return fieldErr(d.identity, "{"+ks+"}", err)
		}
	}
	return nil
}
