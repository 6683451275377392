// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that a query matched no stored document. Adapters
// return it (possibly wrapped) so callers can test with errors.Is
// without knowing which store is behind the port.
var ErrNotFound = errors.New("not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Document Store Port
// -----------------------------------------------------------------------------

// In matches a stored value against any of its elements. Used as a
// Filter value where a single equality is not enough, e.g. owner
// lookups that accept a sentinel alongside the real id.
type In []any

// Filter selects documents by equality on flat dot paths. Values are
// compared after doctree normalization; an In value matches when the
// stored value equals any element.
type Filter map[string]any

// SortField orders results by one flat dot path.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions shapes the result set of Find.
type FindOptions struct {
	Sort  []SortField
	Limit int64
	Skip  int64
}

// Update describes a partial document update. Set writes values at
// flat dot paths, Inc adds deltas to integer counters. A store applies
// all entries of one Update atomically.
type Update struct {
	Set map[string]any
	Inc map[string]int64
}

// DocumentStore persists document trees grouped into named collections.
// Documents are map[string]any trees in doctree normal form; the store
// never interprets them beyond the flat dot paths used by filters and
// updates.
type DocumentStore interface {
	// FindOne returns the first document matching the filter.
	// Returns ErrNotFound when nothing matches.
	FindOne(ctx context.Context, collection string, filter Filter) (map[string]any, error)

	// Find returns all documents matching the filter, shaped by opts.
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]map[string]any, error)

	// Count returns the number of documents matching the filter.
	Count(ctx context.Context, collection string, filter Filter) (int64, error)

	// InsertOne stores a new document and returns its id (the value of
	// the document's _id key).
	InsertOne(ctx context.Context, collection string, doc map[string]any) (string, error)

	// InsertMany stores multiple documents in one call.
	InsertMany(ctx context.Context, collection string, docs []map[string]any) error

	// ReplaceOne overwrites the first document matching the filter and
	// reports how many documents matched (0 or 1).
	ReplaceOne(ctx context.Context, collection string, filter Filter, doc map[string]any) (int64, error)

	// UpdateOne applies Set and Inc atomically to the first document
	// matching the filter and returns the post-update document.
	// Returns ErrNotFound when nothing matches.
	UpdateOne(ctx context.Context, collection string, filter Filter, update Update) (map[string]any, error)

	// DeleteOne removes the first document matching the filter and
	// reports how many documents were removed (0 or 1).
	DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error)

	// DeleteMany removes all documents matching the filter and reports
	// how many were removed.
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)

	// Aggregate evaluates a pipeline of stages ($match, $sort, $skip,
	// $limit, $count) over the collection.
	Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error)

	// Close releases store resources.
	Close() error
}
