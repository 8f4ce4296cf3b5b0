package sapling

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Serialize encodes the tree to an opaque byte form: depth, size, and
// every materialized (level, index, node) triple. The only requirement
// is round-trip equality through Deserialize.
func (t *CommitmentTree) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(t.depth))
	binary.BigEndian.PutUint64(hdr[4:12], t.size)
	buf.Write(hdr[:12])

	for level, m := range t.nodes {
		for index, n := range m {
			var rec [4 + 8 + 32]byte
			binary.BigEndian.PutUint32(rec[0:4], uint32(level))
			binary.BigEndian.PutUint64(rec[4:12], index)
			copy(rec[12:], n[:])
			buf.Write(rec[:])
		}
	}
	return buf.Bytes(), nil
}

// DeserializeTree reconstructs a tree from Serialize's output. hasher
// must match the one used to produce b (it is used to regenerate the
// empty-subtree hashes, which are not persisted).
func DeserializeTree(hasher Hasher, b []byte) (*CommitmentTree, error) {
	if len(b) < 12 {
		return nil, fmt.Errorf("sapling: truncated tree encoding (%d bytes)", len(b))
	}
	depth := int(binary.BigEndian.Uint32(b[0:4]))
	size := binary.BigEndian.Uint64(b[4:12])

	t := NewCommitmentTree(hasher, depth)
	t.size = size

	const recSize = 4 + 8 + 32
	rest := b[12:]
	if len(rest)%recSize != 0 {
		return nil, fmt.Errorf("sapling: malformed tree encoding (%d trailing bytes)", len(rest))
	}
	for off := 0; off < len(rest); off += recSize {
		rec := rest[off : off+recSize]
		level := int(binary.BigEndian.Uint32(rec[0:4]))
		index := binary.BigEndian.Uint64(rec[4:12])
		var n Node
		copy(n[:], rec[12:])
		t.setNode(level, index, n)
	}
	t.root = t.nodeAt(t.depth, 0)
	return t, nil
}
