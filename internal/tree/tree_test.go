package tree

import (
	"testing"

	"github.com/masp-indexer/core/pkg/sapling"
)

func leaf(i byte) sapling.Node {
	var n sapling.Node
	n[31] = i
	return n
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	tr := New(sapling.NewMiMCHasher(), 8)
	baseline := tr.Root()

	if err := tr.Append(leaf(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if tr.Size() != 1 {
		t.Fatalf("size after append = %d, want 1", tr.Size())
	}

	tr.Rollback()
	if tr.Size() != 0 {
		t.Fatalf("size after rollback = %d, want 0", tr.Size())
	}
	if tr.Root() != baseline {
		t.Fatalf("root after rollback = %x, want baseline %x", tr.Root(), baseline)
	}
	if tr.Dirty() {
		t.Fatal("tree reports dirty after rollback")
	}
}

func TestCommitPromotesStagedWrites(t *testing.T) {
	tr := New(sapling.NewMiMCHasher(), 8)

	if err := tr.Append(leaf(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if dirty := tr.Commit(); !dirty {
		t.Fatal("commit reported not dirty after a staged append")
	}
	if tr.Dirty() {
		t.Fatal("tree reports dirty immediately after commit")
	}
	if tr.Size() != 1 {
		t.Fatalf("size after commit = %d, want 1", tr.Size())
	}

	tr.Rollback() // no-op: nothing staged
	if tr.Size() != 1 {
		t.Fatalf("size after no-op rollback = %d, want 1", tr.Size())
	}
}

func TestCommitWithoutWritesIsNotDirty(t *testing.T) {
	tr := New(sapling.NewMiMCHasher(), 8)
	if dirty := tr.Commit(); dirty {
		t.Fatal("commit reported dirty with no staged writes")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	hasher := sapling.NewMiMCHasher()
	tr := New(hasher, 8)
	for i := byte(0); i < 5; i++ {
		if err := tr.Append(leaf(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	tr.Commit()

	b, err := tr.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := DeserializeTree(hasher, b)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Root() != tr.Root() {
		t.Fatalf("root mismatch after round trip: got %x want %x", got.Root(), tr.Root())
	}
}
