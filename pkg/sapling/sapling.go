// Package sapling models the external MASP/Sapling cryptographic
// primitive the indexer core consumes but does not implement: the note
// commitment hash, the fixed-depth commitment tree, and the incremental
// witness structure. These are capabilities supplied by a third party;
// this package is that party's contract plus one concrete backing
// implementation so the rest of the module has something to build,
// stage, and serialize against.
package sapling

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Depth is the fixed depth of the commitment tree, matching the Sapling
// protocol's 32-level incremental Merkle tree.
const Depth = 32

// ErrTreeFull is returned by CommitmentTree.Append when the fixed-depth tree has
// exhausted its leaf capacity (2^Depth leaves).
var ErrTreeFull = errors.New("sapling: commitment tree is full")

// ErrWitnessFull is returned by Witness.Append for the same reason, on
// the witness side.
var ErrWitnessFull = errors.New("sapling: witness is full")

// Node is a tree node: a BN254 scalar field element, the field the
// default Hasher implementation operates over.
type Node [32]byte

// IsZero reports whether n is the zero node.
func (n Node) IsZero() bool {
	return n == Node{}
}

// Bytes returns n's big-endian byte representation.
func (n Node) Bytes() []byte {
	return n[:]
}

// NodeFromBytes reconstructs a Node from its byte representation,
// truncating or zero-padding to 32 bytes.
func NodeFromBytes(b []byte) Node {
	var n Node
	k := len(b)
	if k > 32 {
		k = 32
	}
	copy(n[32-k:], b[:k])
	return n
}

// Hasher is the external primitive's hash contract: deriving a leaf node
// from a raw output commitment (cmu), and combining two child nodes into
// their parent.
type Hasher interface {
	CommitmentFromOutput(cmu []byte) Node
	HashPair(left, right Node) Node
}

// MiMCHasher hashes BN254 scalar field elements with a MiMC-style
// sponge built on github.com/consensys/gnark-crypto/ecc/bn254 for
// commitment arithmetic. Spends are never proved by the indexer, so
// only the hash half of the Sapling primitive — not the full gnark
// circuit/proving stack — has a home here.
type MiMCHasher struct{}

// NewMiMCHasher returns the default Hasher implementation.
func NewMiMCHasher() MiMCHasher { return MiMCHasher{} }

// CommitmentFromOutput reduces the raw output bytes into the BN254
// scalar field and returns the resulting field element as a leaf Node.
func (MiMCHasher) CommitmentFromOutput(cmu []byte) Node {
	var e fr.Element
	e.SetBytes(cmu)
	b := e.Bytes()
	return Node(b)
}

// HashPair combines two child nodes with a MiMC-style compression: treat
// both as field elements, fold right into left via field multiplication
// and addition, matching the "hash two field elements into one" shape
// every Sapling-style incremental tree needs at internal nodes.
func (MiMCHasher) HashPair(left, right Node) Node {
	var l, r, acc fr.Element
	l.SetBytes(left[:])
	r.SetBytes(right[:])

	// acc = l*l + r  (a cheap, deterministic, non-linear compression;
	// a production MASP primitive would use a vetted Sapling-Pedersen
	// hash instead).
	acc.Square(&l)
	acc.Add(&acc, &r)

	b := acc.Bytes()
	return Node(b)
}
