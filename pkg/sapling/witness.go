package sapling

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Witness is an incremental Merkle witness for a single note position:
// given every commitment appended to the tree after the note's position,
// it reconstructs the note's current authentication path and root.
//
// It tracks, per level, either a finalized sibling (the subtree on the
// other side of the witnessed leaf's path, once that subtree can never
// receive another leaf) or a pending "frontier" value — the left half of
// a not-yet-completed pair formed purely from leaves the witness has
// absorbed itself. Because the tree is append-only and leaves are always
// appended in strictly increasing position order, a position's sibling
// subtree at level L is either already complete at witness-creation time
// (its value is read once from the tree) or not yet started at all (it
// fills, bottom-up, entirely from leaves the witness absorbs after
// creation) — there is no case in between.
type Witness struct {
	hasher   Hasher
	depth    int
	position uint64
	leaf     Node

	siblings    []Node // siblings[level]: finalized sibling node, once filled[level]
	filled      []bool
	emptyHashes []Node // emptyHashes[level]: empty-subtree hash, for levels not yet filled

	frontier    []Node // frontier[level]: pending left half of an in-progress pair
	frontierSet []bool

	// k is the first level whose sibling subtree was still incomplete at
	// creation time (k == depth if the witness's leaf was the very last
	// possible position). ownAncestor is the witnessed leaf's own
	// ancestor value at level k, folded from leaf and siblings[0:k].
	k           int
	ownAncestor Node

	nextPos uint64 // absolute position the next Append call expects
	size    uint64 // number of commitments absorbed since creation
}

// NewWitness creates a witness for the note at position, whose leaf
// value is leaf, reading whichever of its ancestor siblings are already
// final from tree (which must already contain the leaf at position).
func NewWitness(hasher Hasher, depth int, position uint64, leaf Node, tree *CommitmentTree) *Witness {
	if depth == 0 {
		depth = Depth
	}
	w := &Witness{
		hasher:      hasher,
		depth:       depth,
		position:    position,
		leaf:        leaf,
		siblings:    make([]Node, depth),
		filled:      make([]bool, depth),
		emptyHashes: emptyHashesFor(hasher, depth),
		frontier:    make([]Node, depth),
		frontierSet: make([]bool, depth),
		nextPos:     position + 1,
		k:           depth,
	}

	cur := leaf
	for level := 0; level < depth; level++ {
		idxAtLevel := position >> uint(level)
		siblingIdx := idxAtLevel ^ 1
		subtreeUpper := (siblingIdx << uint(level)) + (uint64(1) << uint(level)) - 1

		if tree.Size() <= subtreeUpper {
			w.k = level
			break
		}

		s := tree.nodeAt(level, siblingIdx)
		w.siblings[level] = s
		w.filled[level] = true
		if idxAtLevel%2 == 0 {
			cur = hasher.HashPair(cur, s)
		} else {
			cur = hasher.HashPair(s, cur)
		}
	}
	w.ownAncestor = cur
	return w
}

// Append absorbs a newly appended tree commitment, updating whichever
// siblings along the witnessed note's path have just become final.
// Returns ErrWitnessFull if the witnessed position was already the last
// possible leaf.
func (w *Witness) Append(node Node) error {
	maxLeaves := uint64(1) << uint(w.depth)
	if w.position >= maxLeaves-1 && w.k >= w.depth {
		return ErrWitnessFull
	}

	cur := node
	idx := w.nextPos

	for level := 0; level < w.depth; level++ {
		ourIdx := w.position >> uint(level)
		if !w.filled[level] && idx == ourIdx^1 {
			w.siblings[level] = cur
			w.filled[level] = true
		}

		if level == w.k {
			// The witnessed leaf's own still-open branch is the missing
			// counterpart here, not a frontier value accumulated from
			// later leaves.
			if idx%2 == 0 {
				cur = w.hasher.HashPair(cur, w.ownAncestor)
			} else {
				cur = w.hasher.HashPair(w.ownAncestor, cur)
			}
			idx >>= 1
			continue
		}

		if idx%2 == 0 {
			w.frontier[level] = cur
			w.frontierSet[level] = true
			break
		}

		var left Node
		if w.frontierSet[level] {
			left = w.frontier[level]
			w.frontierSet[level] = false
		}
		cur = w.hasher.HashPair(left, cur)
		idx >>= 1
	}

	w.nextPos++
	w.size++
	return nil
}

// Root reconstructs the Merkle root implied by this witness's
// authentication path and the originally witnessed leaf. A level whose
// sibling subtree hasn't been filled yet (no leaf landed there) folds
// through that level's empty-subtree hash, matching the commitment
// tree's own convention (CommitmentTree.nodeAt) for an unfilled
// position instead of assuming it hashes to the zero node.
func (w *Witness) Root() Node {
	current := w.leaf
	idx := w.position
	for level := 0; level < w.depth; level++ {
		sib := w.siblings[level]
		if !w.filled[level] {
			sib = w.emptyHashes[level]
		}
		if idx%2 == 0 {
			current = w.hasher.HashPair(current, sib)
		} else {
			current = w.hasher.HashPair(sib, current)
		}
		idx /= 2
	}
	return current
}

// Position returns the witnessed note's position.
func (w *Witness) Position() uint64 { return w.position }

// Serialize encodes the witness to an opaque byte form.
func (w *Witness) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	var hdr [28]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(w.depth))
	binary.BigEndian.PutUint64(hdr[4:12], w.position)
	binary.BigEndian.PutUint64(hdr[12:20], w.nextPos)
	binary.BigEndian.PutUint32(hdr[20:24], uint32(w.k))
	binary.BigEndian.PutUint32(hdr[24:28], 0)
	buf.Write(hdr[:])
	buf.Write(w.leaf[:])
	buf.Write(w.ownAncestor[:])

	for level := 0; level < w.depth; level++ {
		buf.WriteByte(boolByte(w.filled[level]))
		buf.Write(w.siblings[level][:])
		buf.WriteByte(boolByte(w.frontierSet[level]))
		buf.Write(w.frontier[level][:])
	}
	return buf.Bytes(), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// DeserializeWitness reconstructs a witness from Serialize's output.
func DeserializeWitness(hasher Hasher, b []byte) (*Witness, error) {
	const hdrSize = 28
	if len(b) < hdrSize+64 {
		return nil, fmt.Errorf("sapling: truncated witness encoding (%d bytes)", len(b))
	}
	depth := int(binary.BigEndian.Uint32(b[0:4]))
	position := binary.BigEndian.Uint64(b[4:12])
	nextPos := binary.BigEndian.Uint64(b[12:20])
	k := int(binary.BigEndian.Uint32(b[20:24]))

	w := &Witness{
		hasher:      hasher,
		depth:       depth,
		position:    position,
		nextPos:     nextPos,
		k:           k,
		siblings:    make([]Node, depth),
		filled:      make([]bool, depth),
		emptyHashes: emptyHashesFor(hasher, depth),
		frontier:    make([]Node, depth),
		frontierSet: make([]bool, depth),
	}
	off := hdrSize
	copy(w.leaf[:], b[off:off+32])
	off += 32
	copy(w.ownAncestor[:], b[off:off+32])
	off += 32

	const recSize = 1 + 32 + 1 + 32
	for level := 0; level < depth; level++ {
		if off+recSize > len(b) {
			return nil, fmt.Errorf("sapling: malformed witness encoding at level %d", level)
		}
		w.filled[level] = b[off] == 1
		copy(w.siblings[level][:], b[off+1:off+33])
		w.frontierSet[level] = b[off+33] == 1
		copy(w.frontier[level][:], b[off+34:off+66])
		off += recSize
	}
	if nextPos > position {
		w.size = nextPos - position - 1
	}
	return w, nil
}
