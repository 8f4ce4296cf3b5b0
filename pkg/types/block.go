// Package types defines the core data structures the shielded indexing
// pipeline passes between its components: chain heights, the total order
// over shielded sub-transactions, and the decoded block shape.
package types

import (
	"encoding/hex"

	"github.com/masp-indexer/core/pkg/common"
)

// HashSize is the size of a 32-byte hash in bytes.
const HashSize = 32

// Hash represents a 32-byte hash.
type Hash [HashSize]byte

// EmptyHash is the zero hash.
var EmptyHash = Hash{}

// IsEmpty returns true if the hash is all zeros.
func (h Hash) IsEmpty() bool {
	return common.IsZeroBytes(h[:])
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the hex string representation of the hash, without a
// 0x prefix.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashFromBytes creates a Hash from a byte slice, truncating or
// zero-padding to HashSize.
func HashFromBytes(b []byte) Hash {
	var h Hash
	n := len(b)
	if n > HashSize {
		n = HashSize
	}
	copy(h[:n], common.CopyBytes(b[:n]))
	return h
}
