// Package idgen provides document ID generation implementations.
// Every generator emits ids accepted by docid.Valid.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/artpar/docmap/domain/docid"
	"github.com/artpar/docmap/ports"
)

// Hex generates random lower-hex IDs of the document id length.
type Hex struct{}

// New generates a new random hex ID.
func (Hex) New() string {
	buf := make([]byte, docid.Length/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms
		panic("idgen: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// Ensure interface compliance.
var _ ports.IDGenerator = Hex{}

// UUID derives IDs from UUIDv4 entropy: the hex form of a random UUID
// truncated to the document id length.
type UUID struct{}

// New generates a new UUID-derived ID.
func (UUID) New() string {
	h := strings.ReplaceAll(uuid.New().String(), "-", "")
	return h[:docid.Length]
}

// Ensure interface compliance.
var _ ports.IDGenerator = UUID{}

// Sequential generates sequential IDs (for testing). The counter is
// rendered as zero-padded lower hex so emitted ids stay valid; the
// optional prefix must itself be lower hex.
type Sequential struct {
	prefix  string
	counter uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	n := atomic.AddUint64(&s.counter, 1)
	return pad(s.prefix, n)
}

// Reset resets the counter (for testing).
func (s *Sequential) Reset() {
	atomic.StoreUint64(&s.counter, 0)
}

// pad renders prefix + counter as a docid.Length hex string.
func pad(prefix string, n uint64) string {
	const hexdigits = "0123456789abcdef"
	var digits []byte
	for n > 0 {
		digits = append([]byte{hexdigits[n%16]}, digits...)
		n /= 16
	}
	if len(digits) == 0 {
		digits = []byte{'0'}
	}
	fill := docid.Length - len(prefix) - len(digits)
	out := make([]byte, 0, docid.Length)
	out = append(out, prefix...)
	for i := 0; i < fill; i++ {
		out = append(out, '0')
	}
	return string(append(out, digits...))
}

// Ensure interface compliance.
var _ ports.IDGenerator = (*Sequential)(nil)
