package document

import "errors"

// Error kinds surfaced by the persistence protocol, distinguishable
// with errors.Is.
var (
	// ErrNotFound reports that no stored document matched.
	ErrNotFound = errors.New("document not found")

	// ErrUnauthorized reports an ownership failure. It carries no
	// context on purpose: a caller refused access learns nothing about
	// the document.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict reports a version compare-and-set miss on a
	// single-field update.
	ErrConflict = errors.New("version conflict")

	// ErrReferenced reports a delete refused by a BeforeDelete hook.
	ErrReferenced = errors.New("document is referenced")
)
