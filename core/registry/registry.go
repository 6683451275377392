package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/artpar/docmap/core/schema"
)

// ErrNotRegistered marks resolution failures: an identity, Go type or
// collection with no registered spec.
var ErrNotRegistered = errors.New("not registered")

// Registry is the immutable handle produced by Build. It has no mutating
// methods and is safe for concurrent use.
type Registry struct {
	records       map[string]*schema.RecordSpec
	pseudos       map[string]*schema.PseudoSpec
	dicts         map[string]*schema.DictSpec
	recordsByType map[reflect.Type]*schema.RecordSpec
	pseudosByType map[reflect.Type]*schema.PseudoSpec
	dictsByType   map[reflect.Type]*schema.DictSpec
	collections   map[string]*schema.RecordSpec
	documents     []*schema.RecordSpec
	identities    []string
}

// Record resolves a record or abstract spec by identity.
func (r *Registry) Record(identity string) (*schema.RecordSpec, error) {
	s, ok := r.records[identity]
	if !ok {
		return nil, fmt.Errorf("record type %q: %w", identity, ErrNotRegistered)
	}
	return s, nil
}

// RecordOf resolves the spec for a live value (struct or pointer to
// struct).
func (r *Registry) RecordOf(value any) (*schema.RecordSpec, error) {
	t := reflect.TypeOf(value)
	if t == nil {
		return nil, fmt.Errorf("nil value: %w", ErrNotRegistered)
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s, ok := r.recordsByType[t]
	if !ok {
		return nil, fmt.Errorf("type %s: %w", t, ErrNotRegistered)
	}
	return s, nil
}

// Pseudo resolves a pseudo-primitive spec by identity.
func (r *Registry) Pseudo(identity string) (*schema.PseudoSpec, error) {
	s, ok := r.pseudos[identity]
	if !ok {
		return nil, fmt.Errorf("pseudo-primitive %q: %w", identity, ErrNotRegistered)
	}
	return s, nil
}

// Dict resolves a dict-container spec by identity.
func (r *Registry) Dict(identity string) (*schema.DictSpec, error) {
	s, ok := r.dicts[identity]
	if !ok {
		return nil, fmt.Errorf("dict type %q: %w", identity, ErrNotRegistered)
	}
	return s, nil
}

// Collection resolves the document spec persisting to a collection.
func (r *Registry) Collection(name string) (*schema.RecordSpec, error) {
	s, ok := r.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", name, ErrNotRegistered)
	}
	return s, nil
}

// Documents returns every registered document spec, ordered by identity.
func (r *Registry) Documents() []*schema.RecordSpec {
	out := append([]*schema.RecordSpec{}, r.documents...)
	sort.Slice(out, func(i, j int) bool { return out[i].Identity() < out[j].Identity() })
	return out
}

// Identities returns every registered identity in registration order.
func (r *Registry) Identities() []string {
	return append([]string{}, r.identities...)
}

// RecordByType implements schema.Resolver.
func (r *Registry) RecordByType(t reflect.Type) (*schema.RecordSpec, bool) {
	s, ok := r.recordsByType[t]
	return s, ok
}

// RecordByIdentity implements schema.Resolver.
func (r *Registry) RecordByIdentity(identity string) (*schema.RecordSpec, bool) {
	s, ok := r.records[identity]
	return s, ok
}

// DictByType implements schema.Resolver.
func (r *Registry) DictByType(t reflect.Type) (*schema.DictSpec, bool) {
	s, ok := r.dictsByType[t]
	return s, ok
}

// PseudoByType implements schema.Resolver.
func (r *Registry) PseudoByType(t reflect.Type) (*schema.PseudoSpec, bool) {
	s, ok := r.pseudosByType[t]
	return s, ok
}

var _ schema.Resolver = (*Registry)(nil)
