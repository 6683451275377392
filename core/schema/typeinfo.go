package schema

import (
	"fmt"
	"reflect"
	"time"
)

// Kind classifies how the engine handles a declared type.
type Kind int

const (
	KindInvalid Kind = iota

	// KindPrimitive covers the exact scalar types and the untyped
	// primitive dict. Classification by exact type, never by subtype.
	KindPrimitive

	// KindPseudo covers registered named types whose underlying kind is
	// primitive; the named-type relationship is honored.
	KindPseudo

	// KindRecord covers registered struct types.
	KindRecord

	// KindAbstract covers registered interface types; concrete record
	// types implementing the interface dispatch through it.
	KindAbstract

	// KindDict covers registered named map types.
	KindDict

	// KindSequence covers slices and arrays. Sequences are structural and
	// never registered; their element type is.
	KindSequence
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindPseudo:
		return "pseudo-primitive"
	case KindRecord:
		return "record"
	case KindAbstract:
		return "abstract"
	case KindDict:
		return "dict"
	case KindSequence:
		return "sequence"
	}
	return "invalid"
}

// Primitive identities, pre-registered in every registry.
const (
	PrimitiveString   = "str"
	PrimitiveInt      = "int"
	PrimitiveFloat    = "float"
	PrimitiveBool     = "bool"
	PrimitiveDateTime = "datetime"
	PrimitiveDict     = "dict"
)

var (
	timeType   = reflect.TypeOf(time.Time{})
	anyMapType = reflect.TypeOf(map[string]any{})
)

// PrimitiveIdentity returns the primitive identity for t. Only exact
// matches qualify: named wrappers around a primitive kind report false and
// must be registered as pseudo-primitives.
func PrimitiveIdentity(t reflect.Type) (string, bool) {
	if t == timeType {
		return PrimitiveDateTime, true
	}
	if t == anyMapType {
		return PrimitiveDict, true
	}
	if t.PkgPath() != "" || t.Name() == "" {
		return "", false
	}
	switch t.Kind() {
	case reflect.String:
		return PrimitiveString, true
	case reflect.Bool:
		return PrimitiveBool, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return PrimitiveInt, true
	case reflect.Float32, reflect.Float64:
		return PrimitiveFloat, true
	}
	return "", false
}

// Resolver resolves Go types and identities to their registered specs.
// The registry implements it while building.
type Resolver interface {
	RecordByType(t reflect.Type) (*RecordSpec, bool)
	RecordByIdentity(identity string) (*RecordSpec, bool)
	DictByType(t reflect.Type) (*DictSpec, bool)
	PseudoByType(t reflect.Type) (*PseudoSpec, bool)
}

// TypeInfo names a declared type and, for parameterized positions, the
// parameter it carries: the element type of a sequence, the value type of
// a dict, or the record targeted by a typed reference.
type TypeInfo struct {
	// Base is the declared Go type with any pointer wrapper removed.
	Base reflect.Type

	// Param is the parameter expectation, filled during resolution.
	Param *TypeExpectation

	// RefName is the record identity named by a ref tag. The target spec
	// lands in Param once resolved.
	RefName string

	kind   Kind
	primID string
	record *RecordSpec
	dict   *DictSpec
	pseudo *PseudoSpec
}

// Kind reports the resolved classification.
func (ti *TypeInfo) Kind() Kind { return ti.kind }

// Primitive returns the primitive identity for KindPrimitive infos.
func (ti *TypeInfo) Primitive() string { return ti.primID }

// Record returns the linked spec for KindRecord and KindAbstract infos.
func (ti *TypeInfo) Record() *RecordSpec { return ti.record }

// Dict returns the linked spec for KindDict infos.
func (ti *TypeInfo) Dict() *DictSpec { return ti.dict }

// Pseudo returns the linked spec for KindPseudo infos.
func (ti *TypeInfo) Pseudo() *PseudoSpec { return ti.pseudo }

// TypeExpectation is what a declared position accepts: a single type, or
// that type plus null. Wider unions cannot be declared.
type TypeExpectation struct {
	Type     TypeInfo
	Nullable bool
}

// ExpectRecord returns a resolved expectation for a registered record or
// abstract spec, used as the start state when walking field paths.
func ExpectRecord(rs *RecordSpec) TypeExpectation {
	kind := KindRecord
	if rs.Abstract() {
		kind = KindAbstract
	}
	return TypeExpectation{Type: TypeInfo{Base: rs.GoType(), kind: kind, record: rs}}
}

// expectationOf derives the structural expectation for a declared Go
// type. Classification against registered specs happens later, in resolve.
func expectationOf(t reflect.Type, refName string, where string) (TypeExpectation, error) {
	e := TypeExpectation{}
	if t.Kind() == reflect.Pointer {
		if t.Elem().Kind() == reflect.Pointer {
			return e, Setupf("%s: pointer to pointer is not a declarable type", where)
		}
		e.Nullable = true
		t = t.Elem()
	}
	if t.Kind() == reflect.Chan || t.Kind() == reflect.Func || t.Kind() == reflect.UnsafePointer ||
		t.Kind() == reflect.Complex64 || t.Kind() == reflect.Complex128 || t.Kind() == reflect.Uintptr {
		return e, Setupf("%s: %s is not a declarable type", where, t)
	}
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		if t.Elem().Kind() == reflect.Uint8 {
			return e, Setupf("%s: binary fields are not supported, store an encoded string", where)
		}
		elem, err := expectationOf(t.Elem(), "", where+" element")
		if err != nil {
			return e, err
		}
		e.Type.Param = &elem
	}
	if t.Kind() == reflect.Map && t != anyMapType && t.Name() == "" {
		return e, Setupf("%s: unnamed map type %s must be a registered dict type or map[string]any", where, t)
	}
	e.Type.Base = t
	e.Type.RefName = refName
	return e, nil
}

// resolve classifies the expectation against the registered specs and
// links the matching spec into the TypeInfo. where names the declaration
// site for error messages.
func (e *TypeExpectation) resolve(r Resolver, where string) error {
	ti := &e.Type
	t := ti.Base

	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		ti.kind = KindSequence
		if err := ti.Param.resolve(r, where+" element"); err != nil {
			return err
		}
		return e.resolveRef(r, where)
	}

	if id, ok := PrimitiveIdentity(t); ok {
		ti.kind = KindPrimitive
		ti.primID = id
		return e.resolveRef(r, where)
	}
	if ps, ok := r.PseudoByType(t); ok {
		ti.kind = KindPseudo
		ti.pseudo = ps
		return e.resolveRef(r, where)
	}
	if ds, ok := r.DictByType(t); ok {
		ti.kind = KindDict
		ti.dict = ds
		ti.Param = &ds.Value
		return e.resolveRef(r, where)
	}
	if rs, ok := r.RecordByType(t); ok {
		if rs.Abstract() {
			ti.kind = KindAbstract
		} else {
			ti.kind = KindRecord
		}
		ti.record = rs
		return e.resolveRef(r, where)
	}
	return Setupf("%s: type %s is not registered", where, t)
}

// resolveRef resolves a ref tag to its target record spec. Only
// string-kinded fields may carry references.
func (e *TypeExpectation) resolveRef(r Resolver, where string) error {
	ti := &e.Type
	if ti.RefName == "" {
		return nil
	}
	if ti.Base.Kind() != reflect.String {
		return Setupf("%s: ref %q on non-identifier type %s", where, ti.RefName, ti.Base)
	}
	target, ok := r.RecordByIdentity(ti.RefName)
	if !ok {
		return Setupf("%s: ref %q does not resolve to a registered record type", where, ti.RefName)
	}
	if !target.IsDocument() {
		return Setupf("%s: ref %q targets a non-document record type", where, ti.RefName)
	}
	pe := TypeExpectation{Type: TypeInfo{Base: target.GoType(), kind: KindRecord, record: target}}
	ti.Param = &pe
	return nil
}

// Check verifies a live value against the expectation: nullability first,
// then the resolved classification, recursing through containers. Record
// values are checked by type only; deep field validation belongs to
// RecordSpec.Validate.
func (e *TypeExpectation) Check(v any) error {
	if v == nil {
		if e.Nullable {
			return nil
		}
		return &ValidationError{Reason: "null is not permitted here"}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			if e.Nullable {
				return nil
			}
			return &ValidationError{Reason: "null is not permitted here"}
		}
		rv = rv.Elem()
	}
	return e.Type.check(rv)
}

func (ti *TypeInfo) check(rv reflect.Value) error {
	switch ti.kind {
	case KindPrimitive:
		return ti.checkPrimitive(rv)
	case KindPseudo:
		return ti.pseudo.CheckValue(rv)
	case KindRecord:
		if rv.Type() != ti.Base {
			return &ValidationError{Reason: fmt.Sprintf("expected %s, got %s", ti.record.Identity(), rv.Type())}
		}
		return nil
	case KindAbstract:
		if _, ok := ti.record.Implementer(rv.Type()); !ok {
			return &ValidationError{Reason: fmt.Sprintf("%s does not satisfy %s", rv.Type(), ti.record.Identity())}
		}
		return nil
	case KindDict:
		if rv.Type() != ti.Base {
			return &ValidationError{Reason: fmt.Sprintf("expected %s, got %s", ti.dict.Identity(), rv.Type())}
		}
		return ti.dict.CheckValue(rv)
	case KindSequence:
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return &ValidationError{Reason: fmt.Sprintf("expected a sequence, got %s", rv.Type())}
		}
		for i := 0; i < rv.Len(); i++ {
			if err := ti.Param.Check(rv.Index(i).Interface()); err != nil {
				return fieldErr("", fmt.Sprintf("[%d]", i), err)
			}
		}
		return nil
	}
	return fmt.Errorf("unresolved type expectation for %s", ti.Base)
}

func (ti *TypeInfo) checkPrimitive(rv reflect.Value) error {
	got, ok := PrimitiveIdentity(rv.Type())
	if !ok {
		return &ValidationError{Reason: fmt.Sprintf("expected %s, got %s", ti.primID, rv.Type())}
	}
	if got == ti.primID || (ti.primID == PrimitiveFloat && got == PrimitiveInt) {
		if ti.primID == PrimitiveDict {
			return checkPrimitiveTree(rv.Interface())
		}
		return nil
	}
	return &ValidationError{Reason: fmt.Sprintf("expected %s, got %s", ti.primID, got)}
}

// checkPrimitiveTree enforces that an untyped dict holds only primitive
// scalars, nested untyped dicts, and sequences of the same.
func checkPrimitiveTree(v any) error {
	switch x := v.(type) {
	case nil, string, bool, float64, float32, time.Time,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case map[string]any:
		for k, val := range x {
			if err := checkPrimitiveTree(val); err != nil {
				return fieldErr("", k, err)
			}
		}
		return nil
	case []any:
		for i, val := range x {
			if err := checkPrimitiveTree(val); err != nil {
				return fieldErr("", fmt.Sprintf("[%d]", i), err)
			}
		}
		return nil
	}
	return &ValidationError{Reason: fmt.Sprintf("%T is not a primitive value", v)}
}

// CheckPrimitiveTree verifies that a value reachable inside an untyped
// dict is a primitive scalar, an untyped dict, or a sequence of the same.
func CheckPrimitiveTree(v any) error { return checkPrimitiveTree(v) }
