package document

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/artpar/docmap/core/fieldpath"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/domain/docid"
	"github.com/artpar/docmap/ports"
)

// Collection is the typed view of one document class. It wraps the
// service's any-valued operations so callers keep their concrete
// struct type end to end.
type Collection[T any] struct {
	svc  *Service
	spec *schema.RecordSpec
}

// CollectionOf binds a service to the document type T, which must be
// a registered document struct.
func CollectionOf[T any](svc *Service) (*Collection[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	spec, ok := svc.reg.RecordByType(t)
	if !ok {
		return nil, fmt.Errorf("%s is not a registered record type", t)
	}
	if !spec.IsDocument() {
		return nil, fmt.Errorf("%q is not a document type", spec.Identity())
	}
	return &Collection[T]{svc: svc, spec: spec}, nil
}

// Identity returns the document type's registered identity.
func (c *Collection[T]) Identity() string { return c.spec.Identity() }

// Name returns the backing collection name.
func (c *Collection[T]) Name() string { return c.spec.Collection() }

// Path builds a checked field path rooted at this document type.
func (c *Collection[T]) Path(segs ...fieldpath.Segment) (fieldpath.Path, error) {
	return fieldpath.For(c.spec, segs...)
}

// Insert persists doc and returns the decoded stored state.
func (c *Collection[T]) Insert(ctx context.Context, doc *T) (*T, error) {
	out, err := c.svc.Insert(ctx, doc)
	if err != nil {
		return nil, err
	}
	return out.(*T), nil
}

// InsertMany persists a batch in one store call.
func (c *Collection[T]) InsertMany(ctx context.Context, docs ...*T) error {
	anys := make([]any, len(docs))
	for i, d := range docs {
		anys[i] = d
	}
	return c.svc.InsertMany(ctx, anys...)
}

// Get loads a document by id; a missing document reports ok=false
// with a nil error.
func (c *Collection[T]) Get(ctx context.Context, id docid.ID) (*T, bool, error) {
	out, err := c.svc.Require(ctx, c.spec.Identity(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return out.(*T), true, nil
}

// Require loads a document by id; absence is ErrNotFound.
func (c *Collection[T]) Require(ctx context.Context, id docid.ID) (*T, error) {
	out, err := c.svc.Require(ctx, c.spec.Identity(), id)
	if err != nil {
		return nil, err
	}
	return out.(*T), nil
}

// Find returns all matching documents shaped by opts.
func (c *Collection[T]) Find(ctx context.Context, filter ports.Filter, opts ports.FindOptions) ([]*T, error) {
	outs, err := c.svc.Find(ctx, c.spec.Identity(), filter, opts)
	if err != nil {
		return nil, err
	}
	docs := make([]*T, len(outs))
	for i, o := range outs {
		docs[i] = o.(*T)
	}
	return docs, nil
}

// FindOne returns the first match under opts; absence is ErrNotFound.
func (c *Collection[T]) FindOne(ctx context.Context, filter ports.Filter, opts ports.FindOptions) (*T, error) {
	opts.Limit = 1
	docs, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", c.spec.Identity(), ErrNotFound)
	}
	return docs[0], nil
}

// Count counts matching documents.
func (c *Collection[T]) Count(ctx context.Context, filter ports.Filter) (int64, error) {
	return c.svc.Count(ctx, c.spec.Identity(), filter)
}

// Replace overwrites the stored document with doc's current state.
func (c *Collection[T]) Replace(ctx context.Context, doc *T) error {
	return c.svc.Replace(ctx, doc)
}

// UpdateField writes one field atomically and refreshes doc from the
// stored post-update state.
func (c *Collection[T]) UpdateField(ctx context.Context, doc *T, path fieldpath.Path, value any) error {
	return c.svc.UpdateField(ctx, doc, path, value)
}

// Delete removes the stored document.
func (c *Collection[T]) Delete(ctx context.Context, doc *T) error {
	return c.svc.Delete(ctx, doc)
}
