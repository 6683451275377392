package fieldpath

import (
	"github.com/artpar/docmap/core/schema"
)

// Resolution is the outcome of checking a path against its root spec:
// the innermost field traversed, the spec declaring it, and the
// expectation a value at the terminal position must satisfy. Dynamic is
// set when the terminal lies inside an untyped dict, where only the
// primitive-tree rule applies.
type Resolution struct {
	Field   *schema.FieldSchema
	Record  *schema.RecordSpec
	Expect  schema.TypeExpectation
	Dynamic bool
}

// CheckValue verifies a candidate value for the terminal position.
func (res Resolution) CheckValue(v any) error {
	if res.Dynamic {
		return schema.CheckPrimitiveTree(v)
	}
	return res.Expect.Check(v)
}

// walker steps a resolution through path segments.
type walker struct {
	p   Path
	res Resolution
}

func (w *walker) step(sg Segment) error {
	if w.res.Dynamic {
		if sg.kind == segField {
			return w.p.errf(sg.String(), "untyped dict entries are addressed with {key}, not field names")
		}
		return nil
	}
	ti := &w.res.Expect.Type
	switch sg.kind {
	case segField:
		switch ti.Kind() {
		case schema.KindRecord:
			rs := ti.Record()
			f, ok := rs.Field(sg.name)
			if !ok {
				return w.p.errf(sg.String(), "type %q has no field %q", rs.Identity(), sg.name)
			}
			w.res.Field = f
			w.res.Record = rs
			w.res.Expect = f.Expect
		case schema.KindAbstract:
			return w.p.errf(sg.String(), "cannot traverse abstract type %q, address the concrete document", ti.Record().Identity())
		default:
			if ti.Kind() == schema.KindPrimitive && ti.Primitive() == schema.PrimitiveDict {
				return w.p.errf(sg.String(), "untyped dict entries are addressed with {key}, not field names")
			}
			return w.p.errf(sg.String(), "%s is not a record type", describe(ti))
		}
	case segIndex:
		if ti.Kind() != schema.KindSequence {
			return w.p.errf(sg.String(), "%s is not a sequence", describe(ti))
		}
		w.res.Expect = *ti.Param
	case segKey:
		switch {
		case ti.Kind() == schema.KindDict:
			ds := ti.Dict()
			if _, err := ds.ParseKey(sg.key); err != nil {
				return w.p.errf(sg.String(), "%v", err)
			}
			w.res.Expect = ds.Value
		case ti.Kind() == schema.KindPrimitive && ti.Primitive() == schema.PrimitiveDict:
			w.res.Dynamic = true
		default:
			return w.p.errf(sg.String(), "%s is not a dict type", describe(ti))
		}
	}
	return nil
}

func describe(ti *schema.TypeInfo) string {
	switch ti.Kind() {
	case schema.KindPrimitive:
		return ti.Primitive()
	case schema.KindPseudo:
		return ti.Pseudo().Identity()
	case schema.KindRecord, schema.KindAbstract:
		return ti.Record().Identity()
	case schema.KindDict:
		return ti.Dict().Identity()
	case schema.KindSequence:
		return "sequence"
	}
	return ti.Base.String()
}

func resolveFrom(p Path, root *schema.RecordSpec, segs []Segment) (Resolution, error) {
	w := walker{p: p, res: Resolution{Expect: schema.ExpectRecord(root), Record: root}}
	for _, sg := range segs {
		if err := w.step(sg); err != nil {
			return Resolution{}, err
		}
	}
	return w.res, nil
}

// For builds a checked path rooted at a record spec. Every segment is
// verified against the declared types along the way, so a Path obtained
// here always resolves.
func For(root *schema.RecordSpec, segs ...Segment) (Path, error) {
	base := Path(root.Identity())
	for _, sg := range segs {
		if err := sg.check(); err != nil {
			return "", base.errf("", "%v", err)
		}
	}
	p := render(root.Identity(), segs)
	if _, err := resolveFrom(p, root, segs); err != nil {
		return "", err
	}
	return p, nil
}

// Extend appends one checked segment, re-verifying the whole path.
func (p Path) Extend(r schema.Resolver, sg Segment) (Path, error) {
	root, segs, err := p.parse()
	if err != nil {
		return "", err
	}
	rs, ok := r.RecordByIdentity(root)
	if !ok {
		return "", p.errf("", "root identity %q is not registered", root)
	}
	return For(rs, append(segs, sg)...)
}

// Resolve checks the path against the registered specs and returns the
// terminal resolution. A root-only path resolves with a nil Field.
func (p Path) Resolve(r schema.Resolver) (Resolution, error) {
	root, segs, err := p.parse()
	if err != nil {
		return Resolution{}, err
	}
	rs, ok := r.RecordByIdentity(root)
	if !ok {
		return Resolution{}, p.errf("", "root identity %q is not registered", root)
	}
	return resolveFrom(p, rs, segs)
}

// ResolveField is Resolve restricted to paths that name a field.
func (p Path) ResolveField(r schema.Resolver) (Resolution, error) {
	res, err := p.Resolve(r)
	if err != nil {
		return res, err
	}
	if res.Field == nil {
		return res, p.errf("", "path names no field")
	}
	return res, nil
}

// keyValue converts a key segment to the live key for the dict at the
// position described by res: the declared key type for a registered
// dict, a plain string inside untyped dicts.
func keyValue(res Resolution, sg Segment) (any, error) {
	ti := &res.Expect.Type
	if !res.Dynamic && ti.Kind() == schema.KindDict {
		return ti.Dict().ParseKey(sg.key)
	}
	return sg.key, nil
}
