package sapling

import "testing"

type fakeHasher struct{}

func (fakeHasher) CommitmentFromOutput(cmu []byte) Node {
	var n Node
	copy(n[:], cmu)
	return n
}

// HashPair xors its inputs: associative enough to expose ordering bugs
// (left/right swaps change the result) without gnark-crypto's field
// arithmetic overhead in the test.
func (fakeHasher) HashPair(left, right Node) Node {
	var out Node
	for i := range out {
		out[i] = left[i] ^ (right[i] * 3) ^ 0x5a
	}
	return out
}

func leafAt(i byte) Node {
	var n Node
	n[31] = i
	return n
}

// Every witness created at any position, fed every subsequent leaf,
// must report the same root as the tree itself after each append.
func TestWitnessTracksTreeRoot(t *testing.T) {
	h := fakeHasher{}
	const depth = 8
	const leaves = 40

	tr := NewCommitmentTree(h, depth)
	var witnesses []*Witness

	for i := 0; i < leaves; i++ {
		leaf := leafAt(byte(i))
		position := tr.Size()

		for _, w := range witnesses {
			if err := w.Append(leaf); err != nil {
				t.Fatalf("witness append at leaf %d: %v", i, err)
			}
		}

		if err := tr.Append(leaf); err != nil {
			t.Fatalf("tree append at leaf %d: %v", i, err)
		}

		w := NewWitness(h, depth, position, leaf, tr)
		witnesses = append(witnesses, w)

		for _, w := range witnesses {
			if w.Root() != tr.Root() {
				t.Fatalf("after leaf %d: witness at position %d root mismatch: got %x want %x",
					i, w.Position(), w.Root(), tr.Root())
			}
		}
	}
}

func TestWitnessSerializeRoundTrip(t *testing.T) {
	h := fakeHasher{}
	const depth = 6

	tr := NewCommitmentTree(h, depth)
	for i := 0; i < 5; i++ {
		if err := tr.Append(leafAt(byte(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	w := NewWitness(h, depth, 2, leafAt(2), tr)
	if err := tr.Append(leafAt(5)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(leafAt(5)); err != nil {
		t.Fatalf("witness append: %v", err)
	}

	b, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := DeserializeWitness(h, b)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Root() != w.Root() {
		t.Fatalf("round-trip root mismatch: got %x want %x", got.Root(), w.Root())
	}

	if err := tr.Append(leafAt(6)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(leafAt(6)); err != nil {
		t.Fatalf("witness append: %v", err)
	}
	if err := got.Append(leafAt(6)); err != nil {
		t.Fatalf("deserialized witness append: %v", err)
	}
	if got.Root() != w.Root() {
		t.Fatalf("post-round-trip root mismatch: got %x want %x", got.Root(), w.Root())
	}
}

func TestCommitmentTreeSerializeRoundTrip(t *testing.T) {
	h := fakeHasher{}
	tr := NewCommitmentTree(h, 5)
	for i := 0; i < 10; i++ {
		if err := tr.Append(leafAt(byte(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	b, err := tr.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := DeserializeTree(h, b)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Root() != tr.Root() || got.Size() != tr.Size() {
		t.Fatalf("round-trip mismatch: root got %x want %x, size got %d want %d",
			got.Root(), tr.Root(), got.Size(), tr.Size())
	}
}

func TestTreeFullAndWitnessFull(t *testing.T) {
	h := fakeHasher{}
	tr := NewCommitmentTree(h, 1) // capacity 2

	if err := tr.Append(leafAt(0)); err != nil {
		t.Fatalf("append 0: %v", err)
	}
	w := NewWitness(h, 1, 0, leafAt(0), tr)

	if err := tr.Append(leafAt(1)); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := w.Append(leafAt(1)); err != nil {
		t.Fatalf("witness append 1: %v", err)
	}

	if err := tr.Append(leafAt(2)); err != ErrTreeFull {
		t.Fatalf("expected ErrTreeFull, got %v", err)
	}

	// A witness at the last possible position cannot absorb another leaf.
	last := NewWitness(h, 1, 1, leafAt(1), tr)
	if err := last.Append(leafAt(2)); err != ErrWitnessFull {
		t.Fatalf("expected ErrWitnessFull, got %v", err)
	}
}
