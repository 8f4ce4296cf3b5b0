// Package witness wraps the witness map — every open note's incremental
// Merkle witness, keyed by note position — with the same stage/commit/
// rollback overlay as internal/tree. Like the tree, the working copy is
// a deep copy: sapling.Witness.Append mutates a witness in place, so
// every staged witness is an independent copy of its committed
// counterpart and a Rollback leaves the committed witnesses untouched.
package witness

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/masp-indexer/core/pkg/sapling"
	"github.com/masp-indexer/core/pkg/types"
)

// Map is the transactional witness map.
type Map struct {
	hasher    sapling.Hasher
	depth     int
	committed map[types.NotePosition]*sapling.Witness
	staged    map[types.NotePosition]*sapling.Witness // nil until first write
}

// New creates an empty witness map.
func New(hasher sapling.Hasher, depth int) *Map {
	return &Map{
		hasher:    hasher,
		depth:     depth,
		committed: make(map[types.NotePosition]*sapling.Witness),
	}
}

// Load creates a Map whose committed baseline is an already-materialized
// set of witnesses, as read back from storage at startup.
func Load(hasher sapling.Hasher, depth int, committed map[types.NotePosition]*sapling.Witness) *Map {
	return &Map{hasher: hasher, depth: depth, committed: committed}
}

func (m *Map) working() map[types.NotePosition]*sapling.Witness {
	if m.staged == nil {
		m.staged = make(map[types.NotePosition]*sapling.Witness, len(m.committed))
		for k, v := range m.committed {
			b, _ := v.Serialize()
			c, err := sapling.DeserializeWitness(m.hasher, b)
			if err != nil {
				panic(fmt.Sprintf("witness: copy position %d: %v", k, err))
			}
			m.staged[k] = c
		}
	}
	return m.staged
}

func (m *Map) visible() map[types.NotePosition]*sapling.Witness {
	if m.staged != nil {
		return m.staged
	}
	return m.committed
}

// Insert stages a freshly created witness for a newly appended note.
func (m *Map) Insert(position types.NotePosition, w *sapling.Witness) {
	m.working()[position] = w
}

// Len returns the number of open witnesses in the currently-visible map.
func (m *Map) Len() int {
	return len(m.visible())
}

// UpdateAll appends node to every currently-open witness, concurrently,
// since updating each witness is independent work. Every witness's
// update runs to completion; the first error from any of them is
// returned, and on success every witness in the staged working copy has
// absorbed node.
func (m *Map) UpdateAll(ctx context.Context, node sapling.Node) error {
	working := m.working()
	if len(working) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	for position, w := range working {
		position, w := position, w
		g.Go(func() error {
			if err := w.Append(node); err != nil {
				return fmt.Errorf("witness: update position %d: %w", position, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Roots returns the Merkle roots of up to k witnesses from the
// currently-visible map, sampled for a cross-check against the
// commitment tree's own root. Iteration order over a Go map is
// unspecified, which is exactly the "sample" semantics this check
// wants: successive validations exercise different witnesses rather
// than always the same prefix.
func (m *Map) Roots(k int) []sapling.Node {
	visible := m.visible()
	if k <= 0 || k > len(visible) {
		k = len(visible)
	}
	roots := make([]sapling.Node, 0, k)
	for _, w := range visible {
		if len(roots) >= k {
			break
		}
		roots = append(roots, w.Root())
	}
	return roots
}

// Dirty reports whether a write has been staged since the last
// Commit/Rollback.
func (m *Map) Dirty() bool {
	return m.staged != nil
}

// Rollback discards the staged working copy.
func (m *Map) Rollback() {
	m.staged = nil
}

// Commit promotes the staged working copy to the new committed baseline.
func (m *Map) Commit() (dirty bool) {
	if m.staged == nil {
		return false
	}
	m.committed = m.staged
	m.staged = nil
	return true
}

// Serialize encodes every witness in the currently-visible map: the
// staged working copy if one exists, otherwise the committed baseline.
// The Applier calls this before Commit, so the staged copy (this
// block's inserts and appends) is the one that must be persisted.
func (m *Map) Serialize() (map[types.NotePosition][]byte, error) {
	visible := m.visible()
	out := make(map[types.NotePosition][]byte, len(visible))
	for position, w := range visible {
		b, err := w.Serialize()
		if err != nil {
			return nil, fmt.Errorf("witness: serialize position %d: %w", position, err)
		}
		out[position] = b
	}
	return out, nil
}

// DeserializeAll reconstructs a committed witness set from Serialize's
// output, for loading chain state at startup.
func DeserializeAll(hasher sapling.Hasher, encoded map[types.NotePosition][]byte) (map[types.NotePosition]*sapling.Witness, error) {
	out := make(map[types.NotePosition]*sapling.Witness, len(encoded))
	for position, b := range encoded {
		w, err := sapling.DeserializeWitness(hasher, b)
		if err != nil {
			return nil, fmt.Errorf("witness: deserialize position %d: %w", position, err)
		}
		out[position] = w
	}
	return out, nil
}
