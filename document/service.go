package document

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/docmap/adapters/clock"
	"github.com/artpar/docmap/adapters/idgen"
	"github.com/artpar/docmap/adapters/metrics"
	"github.com/artpar/docmap/core/codec"
	"github.com/artpar/docmap/core/fieldpath"
	"github.com/artpar/docmap/core/registry"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/domain/docid"
	"github.com/artpar/docmap/pkg/doctree"
	"github.com/artpar/docmap/ports"
)

// Service runs the persistence protocol over a document store. Every
// operation is scoped by document type: reads and writes always filter
// on the `_type` key inside the type's collection.
type Service struct {
	reg     *registry.Registry
	store   ports.DocumentStore
	clock   ports.Clock
	idgen   ports.IDGenerator
	enc     *codec.Encoder
	dec     *codec.Decoder
	metrics *metrics.Collector
	log     zerolog.Logger

	metaIndex map[reflect.Type][]int
}

// Deps contains dependencies for Service. Store is required; a nil
// Clock or IDGen falls back to the real clock and random hex ids. A
// nil Metrics disables instrumentation, and Logger may be
// zerolog.Nop().
type Deps struct {
	Store   ports.DocumentStore
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Metrics *metrics.Collector
	Logger  zerolog.Logger
}

var (
	ownedType = reflect.TypeOf((*Owned)(nil)).Elem()
	metaType  = reflect.TypeOf(Meta{})
)

// NewService verifies every registered document type against the
// protocol's requirements and returns the service. A document type
// must embed Meta and satisfy Owned; a violation is a setup error.
func NewService(reg *registry.Registry, deps Deps) (*Service, error) {
	if reg == nil {
		return nil, schema.Setupf("document service: nil registry")
	}
	if deps.Store == nil {
		return nil, schema.Setupf("document service: nil store")
	}
	s := &Service{
		reg:       reg,
		store:     deps.Store,
		clock:     deps.Clock,
		idgen:     deps.IDGen,
		enc:       codec.NewEncoder(reg),
		dec:       codec.NewDecoder(reg, deps.Logger),
		metrics:   deps.Metrics,
		log:       deps.Logger,
		metaIndex: map[reflect.Type][]int{},
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.idgen == nil {
		s.idgen = idgen.Hex{}
	}
	if m := deps.Metrics; m != nil {
		s.dec.Observer = func(identity, field string) {
			m.LegacyFallbacks.WithLabelValues(identity, field).Inc()
		}
	}
	for _, spec := range reg.Documents() {
		t := spec.GoType()
		if !reflect.PointerTo(t).Implements(ownedType) {
			return nil, schema.Setupf("document %q: %s does not satisfy document.Owned", spec.Identity(), t)
		}
		idx, ok := findMeta(t, nil)
		if !ok {
			return nil, schema.Setupf("document %q: %s does not embed document.Meta", spec.Identity(), t)
		}
		s.metaIndex[t] = idx
	}
	return s, nil
}

// Registry returns the registry the service operates over.
func (s *Service) Registry() *registry.Registry { return s.reg }

// findMeta locates the embedded Meta field, recursing through
// anonymous structs the way field gathering does.
func findMeta(t reflect.Type, prefix []int) ([]int, bool) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.Anonymous {
			continue
		}
		idx := append(append([]int{}, prefix...), i)
		if sf.Type == metaType {
			return idx, true
		}
		if sf.Type.Kind() == reflect.Struct {
			if found, ok := findMeta(sf.Type, idx); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// meta returns the embedded Meta of a verified document instance.
func (s *Service) meta(doc any) *Meta {
	rv := reflect.ValueOf(doc).Elem()
	return rv.FieldByIndex(s.metaIndex[rv.Type()]).Addr().Interface().(*Meta)
}

// specOf resolves the document spec for a live instance. Mutation
// methods write metadata back through the instance, so only non-nil
// pointers are accepted.
func (s *Service) specOf(doc any) (*schema.RecordSpec, error) {
	if rv := reflect.ValueOf(doc); rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("document instance must be a non-nil pointer, got %T", doc)
	}
	spec, err := s.reg.RecordOf(doc)
	if err != nil {
		return nil, err
	}
	if !spec.IsDocument() {
		return nil, fmt.Errorf("%q is not a document type", spec.Identity())
	}
	return spec, nil
}

// docSpec resolves an identity that must name a document type.
func (s *Service) docSpec(identity string) (*schema.RecordSpec, error) {
	spec, err := s.reg.Record(identity)
	if err != nil {
		return nil, err
	}
	if !spec.IsDocument() {
		return nil, fmt.Errorf("%q is not a document type", identity)
	}
	return spec, nil
}

// classFilter scopes a filter to one document type. Values are
// normalized so named scalars compare equal to their stored form.
func classFilter(spec *schema.RecordSpec, extra ports.Filter) ports.Filter {
	f := ports.Filter{doctree.KeyType: spec.Identity()}
	for k, v := range extra {
		f[k] = doctree.Normalize(v)
	}
	return f
}

// stamp returns the current time as epoch seconds.
func (s *Service) stamp() float64 {
	return float64(s.clock.Now().UnixNano()) / 1e9
}

// observe records one operation outcome on the collector.
func (s *Service) observe(op, collection string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	var ve *schema.ValidationError
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound) || errors.Is(err, ports.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrConflict):
		outcome = "conflict"
	case errors.Is(err, ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, ErrReferenced):
		outcome = "referenced"
	case errors.As(err, &ve):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	s.metrics.StoreOps.WithLabelValues(op, collection, outcome).Inc()
	s.metrics.StoreOpDuration.WithLabelValues(op, collection).Observe(time.Since(start).Seconds())
}

// countInvalid bumps the validation failure counter for one type.
func (s *Service) countInvalid(spec *schema.RecordSpec) {
	if s.metrics != nil {
		s.metrics.ValidationFailures.WithLabelValues(spec.Identity()).Inc()
	}
}

// prepare runs the pre-write ladder: per-field insert hooks, the full
// record validation, the class-level gate, then BeforeSave.
func (s *Service) prepare(spec *schema.RecordSpec, doc any, method UpdateMethod) error {
	if method == MethodInsert {
		for _, f := range spec.Fields() {
			if f.Doc == nil || f.Doc.InsertValidate == nil {
				continue
			}
			v, err := spec.FieldValue(doc, f)
			if err != nil {
				return err
			}
			if v == nil && f.Expect.Nullable {
				continue
			}
			if err := f.Doc.InsertValidate(v); err != nil {
				s.countInvalid(spec)
				return &schema.ValidationError{Identity: spec.Identity(), Field: f.Name, Reason: err.Error()}
			}
		}
	}
	if err := spec.Validate(doc); err != nil {
		s.countInvalid(spec)
		return err
	}
	if v, ok := doc.(Validator); ok {
		if err := v.Validate(); err != nil {
			s.countInvalid(spec)
			return err
		}
	}
	if h, ok := doc.(BeforeSaver); ok {
		if err := h.BeforeSave(method); err != nil {
			return fmt.Errorf("before save %s: %w", spec.Identity(), err)
		}
	}
	return nil
}

// decode builds the typed instance from a stored tree and runs the
// class-level validation gate on the result.
func (s *Service) decode(spec *schema.RecordSpec, tree map[string]any) (any, error) {
	out, err := s.dec.DecodeAs(tree, spec.Identity())
	if err != nil {
		return nil, err
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			s.countInvalid(spec)
			return nil, err
		}
	}
	return out, nil
}

// load fetches and decodes one document by id within its class query.
func (s *Service) load(ctx context.Context, spec *schema.RecordSpec, id docid.ID) (any, error) {
	tree, err := s.store.FindOne(ctx, spec.Collection(), classFilter(spec, ports.Filter{doctree.KeyID: string(id)}))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%s %s: %w", spec.Identity(), id, ErrNotFound)
		}
		return nil, fmt.Errorf("load %s %s: %w", spec.Identity(), id, err)
	}
	return s.decode(spec, tree)
}

// Insert persists a new document: validation ladder, id assignment,
// write, then a re-read of the authoritative stored state. The passed
// instance gets its assigned id; the returned instance is the decoded
// stored document.
func (s *Service) Insert(ctx context.Context, doc any) (any, error) {
	spec, err := s.specOf(doc)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.insert(ctx, spec, doc)
	s.observe("insert", spec.Collection(), start, err)
	return out, err
}

func (s *Service) insert(ctx context.Context, spec *schema.RecordSpec, doc any) (any, error) {
	tree, id, err := s.stage(spec, doc)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.InsertOne(ctx, spec.Collection(), tree); err != nil {
		return nil, fmt.Errorf("insert %s: %w", spec.Identity(), err)
	}
	s.log.Debug().
		Str("collection", spec.Collection()).
		Str("id", string(id)).
		Msg("document inserted")
	return s.load(ctx, spec, id)
}

// stage runs the insert ladder on one document and returns its encoded
// tree and assigned id.
func (s *Service) stage(spec *schema.RecordSpec, doc any) (map[string]any, docid.ID, error) {
	if err := s.prepare(spec, doc, MethodInsert); err != nil {
		return nil, docid.Nil, err
	}
	m := s.meta(doc)
	if m.ID == docid.Nil {
		m.ID = docid.ID(s.idgen.New())
	}
	if !docid.Valid(m.ID) {
		return nil, docid.Nil, &schema.ValidationError{
			Identity: spec.Identity(), Field: doctree.KeyID,
			Reason: fmt.Sprintf("%q is not a valid document id", m.ID),
		}
	}
	now := s.stamp()
	m.LastModified = &now
	tree, err := s.enc.Encode(doc)
	if err != nil {
		return nil, docid.Nil, err
	}
	return tree, m.ID, nil
}

// InsertMany persists a batch of documents of one type with the same
// per-document discipline as Insert, in a single store call. The
// instances get their assigned ids; the stored state is not re-read.
func (s *Service) InsertMany(ctx context.Context, docs ...any) error {
	if len(docs) == 0 {
		return nil
	}
	spec, err := s.specOf(docs[0])
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.insertMany(ctx, spec, docs)
	s.observe("insert_many", spec.Collection(), start, err)
	return err
}

func (s *Service) insertMany(ctx context.Context, spec *schema.RecordSpec, docs []any) error {
	trees := make([]map[string]any, len(docs))
	for i, doc := range docs {
		ds, err := s.specOf(doc)
		if err != nil {
			return err
		}
		if ds != spec {
			return fmt.Errorf("insert batch mixes %q and %q", spec.Identity(), ds.Identity())
		}
		tree, _, err := s.stage(spec, doc)
		if err != nil {
			return err
		}
		trees[i] = tree
	}
	if err := s.store.InsertMany(ctx, spec.Collection(), trees); err != nil {
		return fmt.Errorf("insert %s batch: %w", spec.Identity(), err)
	}
	s.log.Debug().
		Str("collection", spec.Collection()).
		Int("count", len(trees)).
		Msg("documents inserted")
	return nil
}

// Require loads a document by identity and id; absence is ErrNotFound.
func (s *Service) Require(ctx context.Context, identity string, id docid.ID) (any, error) {
	spec, err := s.docSpec(identity)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.load(ctx, spec, id)
	s.observe("find_one", spec.Collection(), start, err)
	return out, err
}

// Find returns all documents of one type matching the filter, shaped
// by opts. The filter is merged into the class query.
func (s *Service) Find(ctx context.Context, identity string, filter ports.Filter, opts ports.FindOptions) ([]any, error) {
	spec, err := s.docSpec(identity)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	trees, err := s.store.Find(ctx, spec.Collection(), classFilter(spec, filter), opts)
	s.observe("find", spec.Collection(), start, err)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", identity, err)
	}
	out := make([]any, len(trees))
	for i, tree := range trees {
		v, err := s.decode(spec, tree)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Count counts documents of one type matching the filter.
func (s *Service) Count(ctx context.Context, identity string, filter ports.Filter) (int64, error) {
	spec, err := s.docSpec(identity)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := s.store.Count(ctx, spec.Collection(), classFilter(spec, filter))
	s.observe("count", spec.Collection(), start, err)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", identity, err)
	}
	return n, nil
}

// Replace overwrites the stored document with the instance's current
// state. The match is keyed on id and type; the version is written as
// the instance carries it, not consulted. Zero matches report
// ErrNotFound.
func (s *Service) Replace(ctx context.Context, doc any) error {
	spec, err := s.specOf(doc)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.replace(ctx, spec, doc)
	s.observe("replace", spec.Collection(), start, err)
	return err
}

func (s *Service) replace(ctx context.Context, spec *schema.RecordSpec, doc any) error {
	if err := s.prepare(spec, doc, MethodUpdate); err != nil {
		return err
	}
	m := s.meta(doc)
	if m.ID == docid.Nil {
		return fmt.Errorf("replace %s: document has no id", spec.Identity())
	}
	now := s.stamp()
	m.LastModified = &now
	tree, err := s.enc.Encode(doc)
	if err != nil {
		return err
	}
	matched, err := s.store.ReplaceOne(ctx, spec.Collection(), classFilter(spec, ports.Filter{doctree.KeyID: string(m.ID)}), tree)
	if err != nil {
		return fmt.Errorf("replace %s: %w", spec.Identity(), err)
	}
	if matched == 0 {
		return fmt.Errorf("update failed: %s %s: %w", spec.Identity(), m.ID, ErrNotFound)
	}
	s.log.Debug().
		Str("collection", spec.Collection()).
		Str("id", string(m.ID)).
		Msg("document replaced")
	return nil
}

// UpdateField writes one field of a stored document atomically. The
// path must terminate in a field declared independently updatable; the
// instance re-passes class-level validation, and the value passes the
// declared expectation, the field validation hook and the update hook
// before anything is written. The write is a
// compare-and-set on the instance's version: a miss reports
// ErrConflict. On success the instance is refreshed from the stored
// post-update state, so its version is exactly one greater.
func (s *Service) UpdateField(ctx context.Context, doc any, path fieldpath.Path, value any) error {
	spec, err := s.specOf(doc)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.updateFieldInstance(ctx, spec, doc, path, value)
	s.observe("update_field", spec.Collection(), start, err)
	return err
}

func (s *Service) updateFieldInstance(ctx context.Context, spec *schema.RecordSpec, doc any, path fieldpath.Path, value any) error {
	m := s.meta(doc)
	if m.ID == docid.Nil {
		return fmt.Errorf("update %s: document has no id", spec.Identity())
	}
	// The owning instance passes the class-level gate before a single
	// field of it changes.
	if err := spec.Validate(doc); err != nil {
		s.countInvalid(spec)
		return err
	}
	if v, ok := doc.(Validator); ok {
		if err := v.Validate(); err != nil {
			s.countInvalid(spec)
			return err
		}
	}
	post, err := s.applyFieldUpdate(ctx, spec, m.ID, path, value, m.Version, true)
	if err != nil {
		return err
	}
	fresh, err := s.decode(spec, post)
	if err != nil {
		return err
	}
	reflect.ValueOf(doc).Elem().Set(reflect.ValueOf(fresh).Elem())
	return nil
}

// UpdateFieldByID writes one field of a stored document addressed by
// id alone: the document is loaded first, the same checks run, and the
// write matches on id and type without a version clause. The decoded
// post-update document is returned.
func (s *Service) UpdateFieldByID(ctx context.Context, id docid.ID, path fieldpath.Path, value any) (any, error) {
	spec, err := s.docSpec(path.Root())
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.updateFieldByID(ctx, spec, id, path, value)
	s.observe("update_field", spec.Collection(), start, err)
	return out, err
}

func (s *Service) updateFieldByID(ctx context.Context, spec *schema.RecordSpec, id docid.ID, path fieldpath.Path, value any) (any, error) {
	if _, err := s.load(ctx, spec, id); err != nil {
		return nil, err
	}
	post, err := s.applyFieldUpdate(ctx, spec, id, path, value, 0, false)
	if err != nil {
		return nil, err
	}
	return s.decode(spec, post)
}

// applyFieldUpdate is the shared single-field write: path and value
// discipline, then one atomic Set+Inc round-trip. With cas set the
// match includes the version and a miss is ErrConflict; without it the
// match is id-keyed and a miss is ErrNotFound.
func (s *Service) applyFieldUpdate(ctx context.Context, spec *schema.RecordSpec, id docid.ID, path fieldpath.Path, value any, version int64, cas bool) (map[string]any, error) {
	if path.Root() != spec.Identity() {
		return nil, fmt.Errorf("path %s does not address %q", path, spec.Identity())
	}
	res, err := path.ResolveField(s.reg)
	if err != nil {
		return nil, err
	}
	if spec.Frozen() || res.Record.Frozen() {
		return nil, fmt.Errorf("%q is frozen, updates must construct a new value", res.Record.Identity())
	}
	if !res.Field.Updatable() {
		return nil, fmt.Errorf("field %q of %q does not permit independent updates", res.Field.Name, res.Field.Declaring)
	}
	if err := res.CheckValue(value); err != nil {
		s.countInvalid(spec)
		return nil, err
	}
	if hook := res.Field.Config.Validate; hook != nil && (value != nil || !res.Expect.Nullable) {
		if err := hook(value); err != nil {
			s.countInvalid(spec)
			return nil, &schema.ValidationError{Identity: res.Field.Declaring, Field: res.Field.Name, Reason: err.Error()}
		}
	}
	if hook := res.Field.Doc.UpdateValidate; hook != nil {
		ref := schema.UpdateRef{DocumentID: string(id), Path: string(path)}
		if err := hook(ref, value); err != nil {
			s.countInvalid(spec)
			return nil, &schema.ValidationError{Identity: res.Field.Declaring, Field: res.Field.Name, Reason: err.Error()}
		}
	}

	wire, err := s.enc.EncodeValue(value)
	if err != nil {
		return nil, err
	}
	flat, err := path.Flat()
	if err != nil {
		return nil, err
	}
	filter := ports.Filter{doctree.KeyID: string(id)}
	if cas {
		filter[doctree.KeyVersion] = version
	}
	post, err := s.store.UpdateOne(ctx, spec.Collection(), classFilter(spec, filter), ports.Update{
		Set: map[string]any{flat: wire, doctree.KeyLastModified: s.stamp()},
		Inc: map[string]int64{doctree.KeyVersion: 1},
	})
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			if cas {
				return nil, fmt.Errorf("%s %s at version %d: %w", spec.Identity(), id, version, ErrConflict)
			}
			return nil, fmt.Errorf("%s %s: %w", spec.Identity(), id, ErrNotFound)
		}
		return nil, fmt.Errorf("update %s.%s: %w", spec.Identity(), flat, err)
	}
	s.log.Debug().
		Str("collection", spec.Collection()).
		Str("id", string(id)).
		Str("path", flat).
		Msg("field updated")
	return post, nil
}

// Aggregate runs a store pipeline over one document type. A $match
// stage scoping the pipeline to the class query is prepended, so
// stages only ever see documents of this type. Results are raw trees:
// aggregation output need not be decodable.
func (s *Service) Aggregate(ctx context.Context, identity string, pipeline []map[string]any) ([]map[string]any, error) {
	spec, err := s.docSpec(identity)
	if err != nil {
		return nil, err
	}
	scoped := make([]map[string]any, 0, len(pipeline)+1)
	scoped = append(scoped, map[string]any{"$match": map[string]any{doctree.KeyType: spec.Identity()}})
	scoped = append(scoped, pipeline...)
	start := time.Now()
	out, err := s.store.Aggregate(ctx, spec.Collection(), scoped)
	s.observe("aggregate", spec.Collection(), start, err)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", identity, err)
	}
	return out, nil
}

// Delete removes a stored document. A BeforeDelete refusal surfaces as
// ErrReferenced; zero matches report ErrNotFound.
func (s *Service) Delete(ctx context.Context, doc any) error {
	spec, err := s.specOf(doc)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.delete(ctx, spec, doc)
	s.observe("delete", spec.Collection(), start, err)
	return err
}

func (s *Service) delete(ctx context.Context, spec *schema.RecordSpec, doc any) error {
	m := s.meta(doc)
	if m.ID == docid.Nil {
		return fmt.Errorf("delete %s: document has no id", spec.Identity())
	}
	if h, ok := doc.(BeforeDeleter); ok {
		if err := h.BeforeDelete(ctx); err != nil {
			return fmt.Errorf("delete %s %s: %s: %w", spec.Identity(), m.ID, err, ErrReferenced)
		}
	}
	removed, err := s.store.DeleteOne(ctx, spec.Collection(), classFilter(spec, ports.Filter{doctree.KeyID: string(m.ID)}))
	if err != nil {
		return fmt.Errorf("delete %s: %w", spec.Identity(), err)
	}
	if removed == 0 {
		return fmt.Errorf("%s %s: %w", spec.Identity(), m.ID, ErrNotFound)
	}
	s.log.Debug().
		Str("collection", spec.Collection()).
		Str("id", string(m.ID)).
		Msg("document deleted")
	return nil
}

// DeleteForOwner removes every document of one type whose stored owner
// field matches owner, and reports how many were removed. Types that
// compute their owner without storing it are never matched.
func (s *Service) DeleteForOwner(ctx context.Context, identity string, owner docid.ID) (int64, error) {
	spec, err := s.docSpec(identity)
	if err != nil {
		return 0, err
	}
	if !owner.Assigned() {
		return 0, fmt.Errorf("delete for owner: no owner given")
	}
	start := time.Now()
	n, err := s.store.DeleteMany(ctx, spec.Collection(), classFilter(spec, ports.Filter{OwnerField: string(owner)}))
	s.observe("delete_many", spec.Collection(), start, err)
	if err != nil {
		return 0, fmt.Errorf("delete %s for owner: %w", identity, err)
	}
	return n, nil
}

// PurgeOwner removes an account's documents across every registered
// document type and reports the total removed. Sentinel owners are
// refused: shared documents are not purgeable.
func (s *Service) PurgeOwner(ctx context.Context, owner docid.ID) (int64, error) {
	if !owner.Assigned() || owner.Sentinel() {
		return 0, fmt.Errorf("purge: %q is not an account id", owner)
	}
	var total int64
	for _, spec := range s.reg.Documents() {
		start := time.Now()
		n, err := s.store.DeleteMany(ctx, spec.Collection(), classFilter(spec, ports.Filter{OwnerField: string(owner)}))
		s.observe("delete_many", spec.Collection(), start, err)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", spec.Collection(), err)
		}
		total += n
	}
	s.log.Info().
		Str("owner", string(owner)).
		Int64("documents", total).
		Msg("owner purged")
	return total, nil
}
