// Package registry assembles and holds the type registry: the
// bidirectional mapping between stable identity strings and Go types,
// together with the resolved specs for record, dict and pseudo-primitive
// types. A Builder accumulates registrations at startup; Build checks the
// whole set and returns the immutable Registry handle used everywhere
// else.
package registry

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/artpar/docmap/core/fieldpath"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/domain/docid"
	"github.com/artpar/docmap/domain/safetext"
)

// Identities of the pre-seeded types every builder starts with.
const (
	IdentityDocumentID   = "document_id"
	IdentityFieldPath    = "field_path"
	IdentitySafeText     = "safe_text"
	IdentityFieldPointer = "field_pointer"
)

// Builder accumulates type registrations. It is not safe for concurrent
// use: registration is a startup activity, finished by a single Build
// call.
type Builder struct {
	records     map[string]*schema.RecordSpec
	pseudos     map[string]*schema.PseudoSpec
	dicts       map[string]*schema.DictSpec
	byType      map[reflect.Type]string
	collections map[string]string
	order       []string
}

// NewBuilder returns a builder pre-seeded with the built-in
// pseudo-primitives (document IDs, field paths, safe text) and the field
// pointer record type.
func NewBuilder() *Builder {
	b := &Builder{
		records:     map[string]*schema.RecordSpec{},
		pseudos:     map[string]*schema.PseudoSpec{},
		dicts:       map[string]*schema.DictSpec{},
		byType:      map[reflect.Type]string{},
		collections: map[string]string{},
	}

	// Seeding cannot fail: the seeded types are fixed.
	must := func(err error) {
		if err != nil {
			panic(fmt.Sprintf("registry: seeding built-in types: %v", err))
		}
	}
	must(b.Pseudo(IdentityDocumentID, docid.ID(""),
		schema.WithPseudoValidate(func(v any) error {
			if id := v.(docid.ID); id != docid.Nil && !docid.Valid(id) {
				return fmt.Errorf("%q is not a valid document id", id)
			}
			return nil
		})))
	must(b.Pseudo(IdentityFieldPath, fieldpath.Path(""),
		schema.WithPseudoValidate(func(v any) error {
			return fieldpath.Path(v.(fieldpath.Path)).CheckSyntax()
		})))
	must(b.Pseudo(IdentitySafeText, safetext.String(""),
		schema.WithPseudoValidate(func(v any) error {
			return safetext.Validate(string(v.(safetext.String)))
		})))
	must(b.Record(IdentityFieldPointer, fieldpath.Pointer{}))
	return b
}

// claim reserves an identity and a Go type, rejecting duplicates of
// either.
func (b *Builder) claim(identity string, t reflect.Type) error {
	if identity == "" {
		return schema.Setupf("empty type identity")
	}
	if strings.ContainsAny(identity, ".[]{}") {
		return schema.Setupf("identity %q contains a path delimiter", identity)
	}
	if _, dup := b.records[identity]; dup {
		return schema.Setupf("identity %q already registered", identity)
	}
	if _, dup := b.pseudos[identity]; dup {
		return schema.Setupf("identity %q already registered", identity)
	}
	if _, dup := b.dicts[identity]; dup {
		return schema.Setupf("identity %q already registered", identity)
	}
	if prev, dup := b.byType[t]; dup {
		return schema.Setupf("type %s already registered as %q", t, prev)
	}
	b.byType[t] = identity
	b.order = append(b.order, identity)
	return nil
}

// Record registers a plain (non-persisted) record type. value is a zero
// value of the struct.
func (b *Builder) Record(identity string, value any, opts ...schema.RecordOption) error {
	t := reflect.TypeOf(value)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return schema.Setupf("record %q: nil value", identity)
	}
	spec, err := schema.NewRecordSpec(identity, t, opts...)
	if err != nil {
		return err
	}
	if err := b.claim(identity, t); err != nil {
		return err
	}
	b.records[identity] = spec
	return nil
}

// Document registers a persisted record type bound to a collection.
// Collection names are unique across the registry.
func (b *Builder) Document(identity string, value any, collection string, opts ...schema.RecordOption) error {
	t := reflect.TypeOf(value)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return schema.Setupf("document %q: nil value", identity)
	}
	spec, err := schema.NewDocumentSpec(identity, t, collection, opts...)
	if err != nil {
		return err
	}
	if prev, dup := b.collections[collection]; dup {
		return schema.Setupf("collection %q already claimed by %q", collection, prev)
	}
	if err := b.claim(identity, t); err != nil {
		return err
	}
	b.collections[collection] = identity
	b.records[identity] = spec
	return nil
}

// Abstract registers an interface type under an identity. Pass a nil
// pointer to the interface: b.Abstract("shape", (*Shape)(nil)).
func (b *Builder) Abstract(identity string, ifacePtr any) error {
	t := reflect.TypeOf(ifacePtr)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Interface {
		return schema.Setupf("abstract %q: pass a nil pointer to the interface type", identity)
	}
	it := t.Elem()
	spec, err := schema.NewAbstractSpec(identity, it)
	if err != nil {
		return err
	}
	if err := b.claim(identity, it); err != nil {
		return err
	}
	b.records[identity] = spec
	return nil
}

// Pseudo registers a pseudo-primitive: a named type with a primitive
// underlying kind.
func (b *Builder) Pseudo(identity string, value any, opts ...schema.PseudoOption) error {
	t := reflect.TypeOf(value)
	if t == nil {
		return schema.Setupf("pseudo-primitive %q: nil value", identity)
	}
	spec, err := schema.NewPseudoSpec(identity, t, opts...)
	if err != nil {
		return err
	}
	if err := b.claim(identity, t); err != nil {
		return err
	}
	b.pseudos[identity] = spec
	return nil
}

// Dict registers a dict-container type: a named map with string-
// serializable keys.
func (b *Builder) Dict(identity string, value any, opts ...schema.DictOption) error {
	t := reflect.TypeOf(value)
	if t == nil {
		return schema.Setupf("dict %q: nil value", identity)
	}
	spec, err := schema.NewDictSpec(identity, t, opts...)
	if err != nil {
		return err
	}
	if err := b.claim(identity, t); err != nil {
		return err
	}
	b.dicts[identity] = spec
	return nil
}

// Build resolves every registered spec against the full set, links
// abstract implementers, and returns the immutable registry. Any
// misdeclaration surfaces here as a setup error.
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		records:       make(map[string]*schema.RecordSpec, len(b.records)),
		pseudos:       make(map[string]*schema.PseudoSpec, len(b.pseudos)),
		dicts:         make(map[string]*schema.DictSpec, len(b.dicts)),
		recordsByType: map[reflect.Type]*schema.RecordSpec{},
		pseudosByType: map[reflect.Type]*schema.PseudoSpec{},
		dictsByType:   map[reflect.Type]*schema.DictSpec{},
		collections:   map[string]*schema.RecordSpec{},
		identities:    append([]string{}, b.order...),
	}
	for id, s := range b.pseudos {
		r.pseudos[id] = s
		r.pseudosByType[s.GoType()] = s
	}
	for id, s := range b.dicts {
		r.dicts[id] = s
		r.dictsByType[s.GoType()] = s
	}
	for id, s := range b.records {
		r.records[id] = s
		r.recordsByType[s.GoType()] = s
		if s.IsDocument() {
			r.collections[s.Collection()] = s
			r.documents = append(r.documents, s)
		}
	}

	// Link concrete implementers into abstract specs before field
	// resolution so abstract expectations can dispatch.
	for _, s := range r.records {
		if !s.Abstract() {
			continue
		}
		iface := s.GoType()
		for _, c := range r.records {
			if c.Abstract() {
				continue
			}
			ct := c.GoType()
			if ct.Implements(iface) || reflect.PointerTo(ct).Implements(iface) {
				if err := s.AddImplementer(c); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, s := range r.dicts {
		if err := s.Resolve(r); err != nil {
			return nil, err
		}
	}
	for _, s := range r.records {
		if err := s.Resolve(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}
