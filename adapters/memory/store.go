// Package memory provides an in-memory implementation of
// ports.DocumentStore. It backs tests and single-process deployments;
// documents are cloned on the way in and on the way out, so callers
// never share tree memory with the store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/docmap/pkg/doctree"
	"github.com/artpar/docmap/pkg/pipeline"
	"github.com/artpar/docmap/ports"
)

// Store holds collections of document trees behind one mutex.
// Insertion order is preserved, so unsorted queries are deterministic.
type Store struct {
	mu    sync.RWMutex
	colls map[string][]map[string]any
}

// NewStore creates an empty in-memory document store.
func NewStore() *Store {
	return &Store{colls: make(map[string][]map[string]any)}
}

// FindOne returns the first document matching the filter.
func (s *Store) FindOne(ctx context.Context, collection string, filter ports.Filter) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.colls[collection] {
		if pipeline.Matches(doc, filter) {
			return doctree.CloneDoc(doc), nil
		}
	}
	return nil, ports.ErrNotFound
}

// Find returns all documents matching the filter, shaped by opts.
func (s *Store) Find(ctx context.Context, collection string, filter ports.Filter, opts ports.FindOptions) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []map[string]any
	for _, doc := range s.colls[collection] {
		if pipeline.Matches(doc, filter) {
			out = append(out, doc)
		}
	}
	pipeline.Sort(out, opts.Sort)
	out = pipeline.Window(out, opts.Skip, opts.Limit)

	cloned := make([]map[string]any, len(out))
	for i, doc := range out {
		cloned[i] = doctree.CloneDoc(doc)
	}
	return cloned, nil
}

// Count returns the number of documents matching the filter.
func (s *Store) Count(ctx context.Context, collection string, filter ports.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, doc := range s.colls[collection] {
		if pipeline.Matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

// InsertOne stores a new document and returns its id.
func (s *Store) InsertOne(ctx context.Context, collection string, doc map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(collection, doc)
}

// InsertMany stores multiple documents in one call. The batch is not
// atomic on failure: documents before the offending one stay stored.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if _, err := s.insert(collection, doc); err != nil {
			return err
		}
	}
	return nil
}

// insert appends one cloned document, enforcing id uniqueness. Callers
// hold the write lock.
func (s *Store) insert(collection string, doc map[string]any) (string, error) {
	id, _ := doc[doctree.KeyID].(string)
	if id == "" {
		return "", fmt.Errorf("insert into %s: document has no %s", collection, doctree.KeyID)
	}
	for _, existing := range s.colls[collection] {
		if existing[doctree.KeyID] == id {
			return "", fmt.Errorf("insert into %s: duplicate id %s", collection, id)
		}
	}
	s.colls[collection] = append(s.colls[collection], doctree.CloneDoc(doc))
	return id, nil
}

// ReplaceOne overwrites the first document matching the filter.
func (s *Store) ReplaceOne(ctx context.Context, collection string, filter ports.Filter, doc map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.colls[collection]
	for i, existing := range coll {
		if pipeline.Matches(existing, filter) {
			coll[i] = doctree.CloneDoc(doc)
			return 1, nil
		}
	}
	return 0, nil
}

// UpdateOne applies Set and Inc to the first document matching the
// filter, under the write lock, and returns the post-update document.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter ports.Filter, update ports.Update) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.colls[collection]
	for i, existing := range coll {
		if !pipeline.Matches(existing, filter) {
			continue
		}
		next := doctree.CloneDoc(existing)
		for path, v := range update.Set {
			if err := doctree.Set(next, path, doctree.Normalize(v)); err != nil {
				return nil, fmt.Errorf("update %s: %w", collection, err)
			}
		}
		for path, by := range update.Inc {
			if err := doctree.Increment(next, path, by); err != nil {
				return nil, fmt.Errorf("update %s: %w", collection, err)
			}
		}
		coll[i] = next
		return doctree.CloneDoc(next), nil
	}
	return nil, ports.ErrNotFound
}

// DeleteOne removes the first document matching the filter.
func (s *Store) DeleteOne(ctx context.Context, collection string, filter ports.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.colls[collection]
	for i, doc := range coll {
		if pipeline.Matches(doc, filter) {
			s.colls[collection] = append(coll[:i:i], coll[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

// DeleteMany removes all documents matching the filter.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter ports.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.colls[collection]
	kept := coll[:0:0]
	var removed int64
	for _, doc := range coll {
		if pipeline.Matches(doc, filter) {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	s.colls[collection] = kept
	return removed, nil
}

// Aggregate evaluates a pipeline of stages over a snapshot of the
// collection, taken under the read lock.
func (s *Store) Aggregate(ctx context.Context, collection string, stages []map[string]any) ([]map[string]any, error) {
	s.mu.RLock()
	docs := make([]map[string]any, len(s.colls[collection]))
	copy(docs, s.colls[collection])
	s.mu.RUnlock()

	docs, err := pipeline.Run(collection, docs, stages)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, len(docs))
	for i, doc := range docs {
		out[i] = doctree.CloneDoc(doc)
	}
	return out, nil
}

// Close releases store resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colls = make(map[string][]map[string]any)
	return nil
}

// Ensure interface compliance.
var _ ports.DocumentStore = (*Store)(nil)
