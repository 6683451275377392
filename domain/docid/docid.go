// Package docid defines the document identity value type and its
// well-known sentinel values.
package docid

// ID identifies a stored document. Regular IDs are 24 lowercase hex
// characters assigned by an ID generator at insert time; the zero value
// marks a document that has not been persisted yet.
type ID string

// Length is the character length of a generated document ID.
const Length = 24

// Sentinel identities. These are never generated; they mark system and
// world-visible ownership in place of a real user document ID.
const (
	// Nil is the unassigned identity. Inserting a document with a Nil ID
	// assigns a fresh one.
	Nil ID = ""

	// Admin owns system documents. Admin-owned documents are never
	// accessible through caller-scoped operations.
	Admin ID = "000000000000000000000adm"

	// Public marks world-accessible documents. Ownership checks pass for
	// any caller when the owner is Public.
	Public ID = "000000000000000000000pub"
)

// Sentinel reports whether id is one of the reserved identities.
func (id ID) Sentinel() bool {
	return id == Admin || id == Public
}

// Assigned reports whether id holds a persisted identity (generated or
// sentinel), as opposed to the zero value.
func (id ID) Assigned() bool {
	return id != Nil
}

// String returns the ID as a plain string.
func (id ID) String() string {
	return string(id)
}

// Valid reports whether id is a well-formed document identity: a
// sentinel, or exactly Length lowercase hex characters.
func Valid(id ID) bool {
	if id.Sentinel() {
		return true
	}
	if len(id) != Length {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
