package sapling

// CommitmentTree is a fixed-depth, append-only Merkle tree over note
// commitments: a leaf-and-ancestor node cache plus per-level
// empty-subtree hashes, built against the Hasher contract instead of a
// fixed pairing function.
type CommitmentTree struct {
	hasher Hasher
	depth  int
	size   uint64
	root   Node

	// nodes[level] holds every node this tree has computed at that
	// level, keyed by index. Sparse: most positions are never
	// materialized and fall back to emptyHashes[level].
	nodes []map[uint64]Node

	emptyHashes []Node // emptyHashes[level] = hash of an empty subtree of that height
}

// NewCommitmentTree creates an empty tree of the given depth (Depth if
// zero) backed by hasher.
func NewCommitmentTree(hasher Hasher, depth int) *CommitmentTree {
	if depth == 0 {
		depth = Depth
	}
	t := &CommitmentTree{
		hasher: hasher,
		depth:  depth,
		nodes:  make([]map[uint64]Node, depth+1),
	}
	for l := range t.nodes {
		t.nodes[l] = make(map[uint64]Node)
	}
	t.emptyHashes = emptyHashesFor(hasher, depth)
	t.root = t.emptyHashes[depth]
	return t
}

// emptyHashesFor computes the per-level empty-subtree hashes for a tree
// of the given depth: emptyHashesFor(h, d)[l] is the hash of an empty
// subtree of height l. Shared by CommitmentTree and Witness so both
// fold an unfilled subtree through the same convention.
func emptyHashesFor(hasher Hasher, depth int) []Node {
	out := make([]Node, depth+1)
	for l := 1; l <= depth; l++ {
		out[l] = hasher.HashPair(out[l-1], out[l-1])
	}
	return out
}

func (t *CommitmentTree) nodeAt(level int, index uint64) Node {
	if n, ok := t.nodes[level][index]; ok {
		return n
	}
	return t.emptyHashes[level]
}

func (t *CommitmentTree) setNode(level int, index uint64, n Node) {
	t.nodes[level][index] = n
}

// Size returns the number of leaves appended so far.
func (t *CommitmentTree) Size() uint64 { return t.size }

// Root returns the current Merkle root.
func (t *CommitmentTree) Root() Node { return t.root }

// Append inserts a new leaf commitment, recomputing the path to the
// root. Returns ErrTreeFull once 2^depth leaves have been appended.
func (t *CommitmentTree) Append(leaf Node) error {
	maxLeaves := uint64(1) << uint(t.depth)
	if t.size >= maxLeaves {
		return ErrTreeFull
	}

	position := t.size
	t.setNode(0, position, leaf)

	current := leaf
	idx := position
	for level := 0; level < t.depth; level++ {
		sibling := t.nodeAt(level, idx^1)
		var parent Node
		if idx%2 == 0 {
			parent = t.hasher.HashPair(current, sibling)
		} else {
			parent = t.hasher.HashPair(sibling, current)
		}
		idx /= 2
		current = parent
		t.setNode(level+1, idx, current)
	}

	t.root = current
	t.size++
	return nil
}

// Clone returns a deep copy suitable for use as a lazily-cloned staging
// overlay.
func (t *CommitmentTree) Clone() *CommitmentTree {
	c := &CommitmentTree{
		hasher:      t.hasher,
		depth:       t.depth,
		size:        t.size,
		root:        t.root,
		emptyHashes: t.emptyHashes,
		nodes:       make([]map[uint64]Node, len(t.nodes)),
	}
	for level, m := range t.nodes {
		cm := make(map[uint64]Node, len(m))
		for k, v := range m {
			cm[k] = v
		}
		c.nodes[level] = cm
	}
	return c
}

// PathTo reconstructs the sibling path for a previously-appended
// position against the tree's current state; siblings not yet
// materialized are that level's empty-subtree hash.
func (t *CommitmentTree) PathTo(position uint64) []Node {
	siblings := make([]Node, t.depth)
	idx := position
	for level := 0; level < t.depth; level++ {
		siblings[level] = t.nodeAt(level, idx^1)
		idx /= 2
	}
	return siblings
}
