// Package document implements the persistence protocol for registered
// document types: insert, load, whole-document replace, atomic
// single-field update, delete, and pointer-addressed access gated by
// ownership.
//
// A persisted type embeds Meta for its bookkeeping fields and satisfies
// Owned, either by embedding OwnedBy or by implementing Owner itself.
// Both requirements are verified when the service is built.
package document

import (
	"context"
	"math"
	"time"

	"github.com/artpar/docmap/domain/docid"
)

// OwnerField is the wire name of the stored owner id, as declared by
// OwnedBy. Owner-scoped deletes filter on it.
const OwnerField = "owner_id"

// Meta carries the bookkeeping every stored document has: its id, the
// version counter bumped by single-field updates, and the time of the
// last write in epoch seconds.
type Meta struct {
	ID           docid.ID `docmap:"_id,kwonly,zero"`
	Version      int64    `docmap:"_version,kwonly,zero"`
	LastModified *float64 `docmap:"_last_modified,kwonly,zero"`
}

// Modified returns the last write time, and false for a document that
// was never saved.
func (m *Meta) Modified() (time.Time, bool) {
	if m.LastModified == nil {
		return time.Time{}, false
	}
	sec, frac := math.Modf(*m.LastModified)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// Owned names the account a document belongs to. Every document type
// satisfies it: embed OwnedBy for a stored owner field, or implement
// Owner directly, returning docid.Admin for system documents or
// docid.Public for world-accessible ones.
type Owned interface {
	Owner() docid.ID
}

// OwnedBy stores the owning account id and satisfies Owned by
// returning it.
type OwnedBy struct {
	OwnerID docid.ID `docmap:"owner_id,kwonly,zero"`
}

// Owner returns the stored owner id.
func (o OwnedBy) Owner() docid.ID { return o.OwnerID }

// UpdateMethod tells a BeforeSave hook which operation is about to
// write the document.
type UpdateMethod int

const (
	// MethodInsert marks first-time persistence.
	MethodInsert UpdateMethod = iota + 1

	// MethodUpdate marks a whole-document replace.
	MethodUpdate
)

// String returns the method name.
func (m UpdateMethod) String() string {
	switch m {
	case MethodInsert:
		return "insert"
	case MethodUpdate:
		return "update"
	}
	return "unknown"
}

// BeforeSaver hooks run after validation and before the write.
type BeforeSaver interface {
	BeforeSave(method UpdateMethod) error
}

// BeforeDeleter hooks may refuse a delete, typically because other
// documents still reference this one. A refusal surfaces as
// ErrReferenced.
type BeforeDeleter interface {
	BeforeDelete(ctx context.Context) error
}

// Validator is the class-level gate run after decode and before every
// save, on top of the per-field checks.
type Validator interface {
	Validate() error
}
