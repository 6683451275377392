package fieldpath

import (
	"fmt"

	"github.com/artpar/docmap/domain/docid"
)

// Pointer addresses a single field of a stored document: the document
// id together with the checked path to the field inside it. The
// registry registers it as the field_pointer record type, so pointers
// serialize like any other record value.
type Pointer struct {
	DocumentID docid.ID `docmap:"document_id"`
	Path       Path     `docmap:"field_path"`
}

func (ptr Pointer) String() string {
	return fmt.Sprintf("%s in document %s", ptr.Path, ptr.DocumentID)
}
