// Package tree wraps pkg/sapling.CommitmentTree with the stage/commit/
// rollback overlay every piece of mutable Applier state shares: reads
// always see the committed baseline until a caller stages a write, at
// which point a single lazily-cloned working copy absorbs every
// further mutation until Commit or Rollback resolves it.
package tree

import (
	"sync"

	"github.com/masp-indexer/core/pkg/sapling"
)

// Tree is the transactional commitment tree.
type Tree struct {
	mu        sync.Mutex
	hasher    sapling.Hasher
	depth     int
	committed *sapling.CommitmentTree
	staged    *sapling.CommitmentTree // nil until the first write since the last Commit/Rollback
}

// New creates a Tree backed by an empty commitment tree of the given
// depth (sapling.Depth if zero).
func New(hasher sapling.Hasher, depth int) *Tree {
	return &Tree{
		hasher:    hasher,
		depth:     depth,
		committed: sapling.NewCommitmentTree(hasher, depth),
	}
}

// Load creates a Tree whose committed baseline is an already-materialized
// commitment tree, as read back from storage at startup.
func Load(committed *sapling.CommitmentTree) *Tree {
	return &Tree{committed: committed}
}

func (t *Tree) working() *sapling.CommitmentTree {
	if t.staged == nil {
		t.staged = t.committed.Clone()
	}
	return t.staged
}

// Append stages a new leaf commitment into the working copy, cloning the
// committed baseline on first use. Returns sapling.ErrTreeFull once the
// tree's fixed leaf capacity is exhausted.
func (t *Tree) Append(leaf sapling.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.working().Append(leaf)
}

// Size returns the number of leaves in the currently-visible tree: the
// staged working copy if one exists, otherwise the committed baseline.
func (t *Tree) Size() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.staged != nil {
		return t.staged.Size()
	}
	return t.committed.Size()
}

// Root returns the Merkle root of the currently-visible tree.
func (t *Tree) Root() sapling.Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.staged != nil {
		return t.staged.Root()
	}
	return t.committed.Root()
}

// Snapshot returns the currently-visible tree, for building a fresh
// witness from the position just appended.
func (t *Tree) Snapshot() *sapling.CommitmentTree {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.staged != nil {
		return t.staged
	}
	return t.committed
}

// Dirty reports whether a write has been staged since the last
// Commit/Rollback.
func (t *Tree) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.staged != nil
}

// Rollback discards the staged working copy, reverting to the committed
// baseline. Called on validation failure or decode error.
func (t *Tree) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged = nil
}

// Commit promotes the staged working copy to the new committed baseline.
// Reports whether there was anything to promote (dirty), so callers can
// skip a no-op persistence round for an empty block.
func (t *Tree) Commit() (dirty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.staged == nil {
		return false
	}
	t.committed = t.staged
	t.staged = nil
	return true
}

// Serialize encodes the currently-visible tree: the staged working copy
// if one exists, otherwise the committed baseline. The Applier calls
// this before Commit, so the staged copy (this block's appends) is the
// one that must be persisted.
func (t *Tree) Serialize() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.staged != nil {
		return t.staged.Serialize()
	}
	return t.committed.Serialize()
}

// DeserializeTree reconstructs a committed commitment tree from
// Serialize's output, for loading chain state at startup.
func DeserializeTree(hasher sapling.Hasher, b []byte) (*sapling.CommitmentTree, error) {
	return sapling.DeserializeTree(hasher, b)
}
