package fieldpath

import (
	"reflect"

	"github.com/artpar/docmap/core/schema"
)

// Navigate reads the value at the path inside a live instance of the
// root record type, given by value or pointer. Nullable terminals
// holding null report a nil value.
func (p Path) Navigate(r schema.Resolver, instance any) (any, error) {
	rs, segs, rv, err := p.begin(r, instance, false)
	if err != nil {
		return nil, err
	}
	w := walker{p: p, res: Resolution{Expect: schema.ExpectRecord(rs), Record: rs}}
	for _, sg := range segs {
		prev := w.res
		if err := w.step(sg); err != nil {
			return nil, err
		}
		rv, err = p.descend(rv, sg, prev, w.res)
		if err != nil {
			return nil, err
		}
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	return rv.Interface(), nil
}

// Apply writes a value at the path inside a live instance. The instance
// must be a non-nil pointer to the root record type. The value is
// checked against the terminal expectation and the terminal field's
// validation hook before anything is written; direct field sets on
// frozen record types are refused.
func (p Path) Apply(r schema.Resolver, instance any, value any) error {
	rs, segs, rv, err := p.begin(r, instance, true)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return p.errf("", "path names no field")
	}
	res, err := resolveFrom(p, rs, segs)
	if err != nil {
		return err
	}
	if err := res.CheckValue(value); err != nil {
		return p.errf(segs[len(segs)-1].String(), "%v", err)
	}
	last := segs[len(segs)-1]
	if last.kind == segField {
		if res.Record.Frozen() {
			return p.errf(last.String(), "type %q is frozen", res.Record.Identity())
		}
		if res.Field.Config.Validate != nil && !(value == nil && res.Expect.Nullable) {
			if err := res.Field.Config.Validate(value); err != nil {
				return p.errf(last.String(), "%v", err)
			}
		}
	}
	w := walker{p: p, res: Resolution{Expect: schema.ExpectRecord(rs), Record: rs}}
	return p.applySegs(&w, rv, segs, value)
}

// begin parses the path, resolves the root spec and unwraps the
// instance. Writes require a pointer so the chain stays addressable.
func (p Path) begin(r schema.Resolver, instance any, write bool) (*schema.RecordSpec, []Segment, reflect.Value, error) {
	root, segs, err := p.parse()
	if err != nil {
		return nil, nil, reflect.Value{}, err
	}
	rs, ok := r.RecordByIdentity(root)
	if !ok {
		return nil, nil, reflect.Value{}, p.errf("", "root identity %q is not registered", root)
	}
	rv := reflect.ValueOf(instance)
	if write && (rv.Kind() != reflect.Pointer || rv.IsNil()) {
		return nil, nil, reflect.Value{}, p.errf("", "instance must be a non-nil pointer to %s", rs.GoType())
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil, reflect.Value{}, p.errf("", "nil instance")
		}
		rv = rv.Elem()
	}
	if rv.Type() != rs.GoType() {
		return nil, nil, reflect.Value{}, p.errf("", "instance is %s, path roots at %q", rv.Type(), root)
	}
	return rs, segs, rv, nil
}

// concrete unwraps pointer and interface boxes on the way down,
// reporting null hit mid-path.
func (p Path) concrete(cur reflect.Value, sg Segment) (reflect.Value, error) {
	for cur.Kind() == reflect.Pointer || cur.Kind() == reflect.Interface {
		if cur.IsNil() {
			return reflect.Value{}, p.errf(sg.String(), "null value on the way")
		}
		cur = cur.Elem()
	}
	return cur, nil
}

// descend reads one segment deep. prev is the resolution before the
// step, holding the dict spec for key segments; next the one after,
// holding the field schema for field segments.
func (p Path) descend(cur reflect.Value, sg Segment, prev, next Resolution) (reflect.Value, error) {
	cur, err := p.concrete(cur, sg)
	if err != nil {
		return reflect.Value{}, err
	}
	switch sg.kind {
	case segField:
		if cur.Kind() != reflect.Struct {
			return reflect.Value{}, p.errf(sg.String(), "value at segment is %s, not a record", cur.Type())
		}
		return next.Field.Reflect(cur), nil
	case segIndex:
		if cur.Kind() != reflect.Slice && cur.Kind() != reflect.Array {
			return reflect.Value{}, p.errf(sg.String(), "value at segment is %s, not a sequence", cur.Type())
		}
		if sg.index >= cur.Len() {
			return reflect.Value{}, p.errf(sg.String(), "index %d out of range, length %d", sg.index, cur.Len())
		}
		return cur.Index(sg.index), nil
	case segKey:
		if cur.Kind() != reflect.Map {
			return reflect.Value{}, p.errf(sg.String(), "value at segment is %s, not a dict", cur.Type())
		}
		k, err := keyValue(prev, sg)
		if err != nil {
			return reflect.Value{}, p.errf(sg.String(), "%v", err)
		}
		ev := cur.MapIndex(reflect.ValueOf(k))
		if !ev.IsValid() {
			return reflect.Value{}, p.errf(sg.String(), "key is not present")
		}
		return ev, nil
	}
	return reflect.Value{}, p.errf(sg.String(), "unhandled segment")
}

// applySegs walks to the terminal segment and performs the write. cur
// must already be concrete; map-held values are copied on the way down
// and written back after the recursive set.
func (p Path) applySegs(w *walker, cur reflect.Value, segs []Segment, value any) error {
	sg := segs[0]
	prev := w.res
	if err := w.step(sg); err != nil {
		return err
	}
	switch sg.kind {
	case segField:
		if cur.Kind() != reflect.Struct {
			return p.errf(sg.String(), "value at segment is %s, not a record", cur.Type())
		}
		fv := w.res.Field.Reflect(cur)
		if len(segs) == 1 {
			return p.setLeaf(sg, fv, value)
		}
		child, err := p.concrete(fv, sg)
		if err != nil {
			return err
		}
		return p.applySegs(w, child, segs[1:], value)
	case segIndex:
		if cur.Kind() != reflect.Slice && cur.Kind() != reflect.Array {
			return p.errf(sg.String(), "value at segment is %s, not a sequence", cur.Type())
		}
		if sg.index >= cur.Len() {
			return p.errf(sg.String(), "index %d out of range, length %d", sg.index, cur.Len())
		}
		ev := cur.Index(sg.index)
		if len(segs) == 1 {
			return p.setLeaf(sg, ev, value)
		}
		child, err := p.concrete(ev, sg)
		if err != nil {
			return err
		}
		return p.applySegs(w, child, segs[1:], value)
	case segKey:
		if cur.Kind() != reflect.Map {
			return p.errf(sg.String(), "value at segment is %s, not a dict", cur.Type())
		}
		if cur.IsNil() {
			return p.errf(sg.String(), "null value on the way")
		}
		k, err := keyValue(prev, sg)
		if err != nil {
			return p.errf(sg.String(), "%v", err)
		}
		kv := reflect.ValueOf(k)
		if len(segs) == 1 {
			ev, err := schema.Coerce(cur.Type().Elem(), value)
			if err != nil {
				return p.errf(sg.String(), "%v", err)
			}
			cur.SetMapIndex(kv, ev)
			return nil
		}
		held := cur.MapIndex(kv)
		if !held.IsValid() {
			return p.errf(sg.String(), "key is not present")
		}
		cp := reflect.New(held.Type()).Elem()
		cp.Set(held)
		child, err := p.concrete(cp, sg)
		if err != nil {
			return err
		}
		if err := p.applySegs(w, child, segs[1:], value); err != nil {
			return err
		}
		cur.SetMapIndex(kv, cp)
		return nil
	}
	return p.errf(sg.String(), "unhandled segment")
}

// setLeaf assigns the checked value at the terminal position.
func (p Path) setLeaf(sg Segment, target reflect.Value, value any) error {
	if !target.CanSet() {
		return p.errf(sg.String(), "value at segment is not settable")
	}
	av, err := schema.Coerce(target.Type(), value)
	if err != nil {
		return p.errf(sg.String(), "%v", err)
	}
	target.Set(av)
	return nil
}
