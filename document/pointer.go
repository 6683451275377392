package document

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/docmap/core/fieldpath"
	"github.com/artpar/docmap/domain/docid"
)

// authorize applies the ownership gate. Public owners admit anyone;
// everything else requires an exact match between caller and owner,
// with unassigned identities on either side failing closed. The error
// carries no detail about what was denied.
func authorize(caller, owner docid.ID) error {
	if owner == docid.Public {
		return nil
	}
	if !owner.Assigned() || !caller.Assigned() {
		return ErrUnauthorized
	}
	if caller != owner {
		return ErrUnauthorized
	}
	return nil
}

// fetchTarget loads and gates the document a pointer addresses. The
// ownership check runs before any field of the target is touched.
func (s *Service) fetchTarget(ctx context.Context, caller docid.ID, ptr fieldpath.Pointer) (any, error) {
	spec, err := s.docSpec(ptr.Path.Root())
	if err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, spec, ptr.DocumentID)
	if err != nil {
		return nil, err
	}
	owned, ok := doc.(Owned)
	if !ok {
		return nil, ErrUnauthorized
	}
	if err := authorize(caller, owned.Owner()); err != nil {
		return nil, err
	}
	return doc, nil
}

// Dereference resolves a pointer on behalf of a caller and returns the
// value at the addressed field. The target document must belong to the
// caller or be public.
func (s *Service) Dereference(ctx context.Context, caller docid.ID, ptr fieldpath.Pointer) (any, error) {
	spec, err := s.docSpec(ptr.Path.Root())
	if err != nil {
		return nil, err
	}
	start := time.Now()
	v, err := s.dereference(ctx, caller, ptr)
	s.observe("dereference", spec.Collection(), start, err)
	return v, err
}

func (s *Service) dereference(ctx context.Context, caller docid.ID, ptr fieldpath.Pointer) (any, error) {
	doc, err := s.fetchTarget(ctx, caller, ptr)
	if err != nil {
		return nil, err
	}
	v, err := ptr.Path.Navigate(s.reg, doc)
	if err != nil {
		return nil, fmt.Errorf("dereference %s: %w", ptr, err)
	}
	return v, nil
}

// UpdateByPointer writes the addressed field on behalf of a caller,
// under the same ownership gate as Dereference and the same field
// discipline as UpdateFieldByID. The decoded post-update document is
// returned.
func (s *Service) UpdateByPointer(ctx context.Context, caller docid.ID, ptr fieldpath.Pointer, value any) (any, error) {
	spec, err := s.docSpec(ptr.Path.Root())
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.updateByPointer(ctx, caller, ptr, value)
	s.observe("update_field", spec.Collection(), start, err)
	return out, err
}

func (s *Service) updateByPointer(ctx context.Context, caller docid.ID, ptr fieldpath.Pointer, value any) (any, error) {
	if _, err := s.fetchTarget(ctx, caller, ptr); err != nil {
		return nil, err
	}
	spec, err := s.docSpec(ptr.Path.Root())
	if err != nil {
		return nil, err
	}
	post, err := s.applyFieldUpdate(ctx, spec, ptr.DocumentID, ptr.Path, value, 0, false)
	if err != nil {
		return nil, err
	}
	return s.decode(spec, post)
}
