package witness

import (
	"context"
	"testing"

	"github.com/masp-indexer/core/pkg/sapling"
	"github.com/masp-indexer/core/pkg/types"
)

func leaf(i byte) sapling.Node {
	var n sapling.Node
	n[31] = i
	return n
}

func TestUpdateAllKeepsWitnessRootsInSyncWithTree(t *testing.T) {
	hasher := sapling.NewMiMCHasher()
	const depth = 8

	tr := sapling.NewCommitmentTree(hasher, depth)
	m := New(hasher, depth)

	for i := byte(0); i < 6; i++ {
		l := leaf(i)
		position := tr.Size()

		if err := m.UpdateAll(context.Background(), l); err != nil {
			t.Fatalf("update_all at leaf %d: %v", i, err)
		}
		if err := tr.Append(l); err != nil {
			t.Fatalf("tree append at leaf %d: %v", i, err)
		}

		w := sapling.NewWitness(hasher, depth, position, l, tr)
		m.Insert(types.NotePosition(position), w)

		for _, root := range m.Roots(0) {
			if root != tr.Root() {
				t.Fatalf("after leaf %d: witness root %x != tree root %x", i, root, tr.Root())
			}
		}
	}

	if m.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", m.Len())
	}
}

func TestRollbackDiscardsStagedWitnesses(t *testing.T) {
	hasher := sapling.NewMiMCHasher()
	m := New(hasher, 8)

	tr := sapling.NewCommitmentTree(hasher, 8)
	_ = tr.Append(leaf(0))
	m.Insert(0, sapling.NewWitness(hasher, 8, 0, leaf(0), tr))

	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	m.Rollback()
	if m.Len() != 0 {
		t.Fatalf("Len() after rollback = %d, want 0", m.Len())
	}
}

func TestCommittedWitnessesSurviveRollbackOfLaterStaging(t *testing.T) {
	hasher := sapling.NewMiMCHasher()
	m := New(hasher, 8)
	tr := sapling.NewCommitmentTree(hasher, 8)

	_ = tr.Append(leaf(0))
	m.Insert(0, sapling.NewWitness(hasher, 8, 0, leaf(0), tr))
	m.Commit()

	_ = tr.Append(leaf(1))
	m.Insert(1, sapling.NewWitness(hasher, 8, 1, leaf(1), tr))
	m.Rollback()

	if m.Len() != 1 {
		t.Fatalf("Len() after rollback of second staging = %d, want 1", m.Len())
	}
}

func TestSerializeDeserializeAllRoundTrip(t *testing.T) {
	hasher := sapling.NewMiMCHasher()
	m := New(hasher, 8)
	tr := sapling.NewCommitmentTree(hasher, 8)

	for i := byte(0); i < 3; i++ {
		_ = tr.Append(leaf(i))
		m.Insert(types.NotePosition(i), sapling.NewWitness(hasher, 8, uint64(i), leaf(i), tr))
	}
	m.Commit()

	encoded, err := m.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	decoded, err := DeserializeAll(hasher, encoded)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("len(decoded) = %d, want 3", len(decoded))
	}
	for pos, w := range decoded {
		if w.Root() != tr.Root() {
			t.Fatalf("position %d: root mismatch after round trip", pos)
		}
	}
}
