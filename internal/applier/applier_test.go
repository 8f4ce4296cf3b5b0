package applier

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/masp-indexer/core/internal/tree"
	"github.com/masp-indexer/core/internal/witness"
	"github.com/masp-indexer/core/pkg/sapling"
	"github.com/masp-indexer/core/pkg/types"
)

type fakeChain struct {
	anchors map[sapling.Node]bool
}

func newFakeChain() *fakeChain { return &fakeChain{anchors: make(map[sapling.Node]bool)} }

func (f *fakeChain) FetchBlock(ctx context.Context, h types.Height) (*types.Block, error) {
	return nil, nil
}

func (f *fakeChain) LastCommittedHeight(ctx context.Context) (types.Height, bool, error) {
	return 0, false, nil
}

func (f *fakeChain) AnchorExists(ctx context.Context, root sapling.Node) (bool, error) {
	return f.anchors[root], nil
}

type fakeStore struct {
	commits []CommitRequest
}

func (s *fakeStore) Commit(ctx context.Context, req CommitRequest) error {
	s.commits = append(s.commits, req)
	return nil
}

func newTestApplier(chain *fakeChain, store *fakeStore) *Applier {
	hasher := sapling.NewMiMCHasher()
	depth := 8
	t := tree.New(hasher, depth)
	w := witness.New(hasher, depth)
	log := zap.NewNop().Sugar()
	cfg := &Config{RetryInterval: time.Millisecond, RootsToCheck: 8}
	return New(chain, store, hasher, depth, t, w, cfg, log, &atomic.Bool{})
}

func shieldedOutput(i byte) []byte {
	b := make([]byte, 32)
	b[31] = i
	return b
}

func txAt(h types.Height, bi types.BlockIndex, mti types.MaspTxIndex, feePayment bool, outputs ...[]byte) types.IndexedShieldedTx {
	kind := types.KindTransfer
	if feePayment {
		kind = types.KindFeePayment
	}
	return types.IndexedShieldedTx{
		Index: types.MaspIndexedTx{Kind: kind, Height: h, BlockIndex: bi, MaspTxIndex: mti},
		Tx:    types.ShieldedTx{Outputs: outputs, Serialized: []byte("tx")},
	}
}

func TestEmptyBlockAdvancesChainStateOnly(t *testing.T) {
	chain := newFakeChain()
	store := &fakeStore{}
	a := newTestApplier(chain, store)

	block := &types.Block{Height: 100}
	if err := a.ApplyBlock(context.Background(), block); err != nil {
		t.Fatalf("apply empty block: %v", err)
	}

	if len(store.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(store.commits))
	}
	req := store.commits[0]
	if req.Height != 100 {
		t.Fatalf("committed height = %d, want 100", req.Height)
	}
	if req.TreeDirty || req.WitnessDirty || len(req.NotesIndex) != 0 || len(req.ShieldedTx) != 0 {
		t.Fatalf("empty block committed non-empty dependent rows: %+v", req)
	}
	if a.tree.Root() != sapling.NewCommitmentTree(sapling.NewMiMCHasher(), 8).Root() {
		t.Fatal("commitment tree root changed for an empty block")
	}
}

func TestSingleShieldedOutput(t *testing.T) {
	chain := newFakeChain()
	store := &fakeStore{}
	a := newTestApplier(chain, store)

	hasher := sapling.NewMiMCHasher()
	expectedLeaf := hasher.CommitmentFromOutput(shieldedOutput(1))
	wantTree := sapling.NewCommitmentTree(hasher, 8)
	if err := wantTree.Append(expectedLeaf); err != nil {
		t.Fatalf("reference append: %v", err)
	}
	chain.anchors[wantTree.Root()] = true

	block := &types.Block{
		Height:       1,
		Transactions: []types.IndexedShieldedTx{txAt(1, 0, 0, false, shieldedOutput(1))},
	}
	if err := a.ApplyBlock(context.Background(), block); err != nil {
		t.Fatalf("apply block: %v", err)
	}

	req := store.commits[0]
	if !req.TreeDirty || !req.WitnessDirty {
		t.Fatal("expected tree and witness map to be dirty")
	}
	if len(req.NotesIndex) != 1 || req.NotesIndex[0].NotePosition != 0 {
		t.Fatalf("notes index = %+v, want one record at position 0", req.NotesIndex)
	}
	if len(req.Witnesses) != 1 {
		t.Fatalf("witness rows = %d, want 1", len(req.Witnesses))
	}
	if len(req.ShieldedTx) != 1 {
		t.Fatalf("shielded tx rows = %d, want 1", len(req.ShieldedTx))
	}
}

func TestFeePaymentOrderedBeforeTransfer(t *testing.T) {
	chain := newFakeChain()
	store := &fakeStore{}
	a := newTestApplier(chain, store)

	hasher := sapling.NewMiMCHasher()
	transferOut := shieldedOutput(0xAA)
	feeOut := shieldedOutput(0xBB)

	// Reference tree: fee payment ingests first regardless of its
	// larger block index, per the MaspIndexedTx total order.
	ref := sapling.NewCommitmentTree(hasher, 8)
	_ = ref.Append(hasher.CommitmentFromOutput(feeOut))
	_ = ref.Append(hasher.CommitmentFromOutput(transferOut))
	chain.anchors[ref.Root()] = true

	block := &types.Block{
		Height: 2,
		Transactions: []types.IndexedShieldedTx{
			txAt(2, 1, 0, true, feeOut),
			txAt(2, 0, 0, false, transferOut),
		},
	}
	// Caller is expected to hand the Applier blocks already in
	// MaspIndexedTx order (the Block Decoder's contract); reproduce
	// that ordering here.
	if block.Transactions[0].Index.Less(block.Transactions[1].Index) == false {
		t.Fatal("test fixture ordering assumption broken")
	}

	if err := a.ApplyBlock(context.Background(), block); err != nil {
		t.Fatalf("apply block: %v", err)
	}

	req := store.commits[0]
	positions := map[types.NotePosition]bool{}
	for _, rec := range req.NotesIndex {
		positions[rec.NotePosition] = rec.IsFeePayment
	}
	if feePayment, ok := positions[0]; !ok || !feePayment {
		t.Fatalf("expected fee payment at position 0, got %+v", req.NotesIndex)
	}
	if feePayment, ok := positions[1]; !ok || feePayment {
		t.Fatalf("expected transfer at position 1, got %+v", req.NotesIndex)
	}
}

func TestAnchorMismatchAbortsAfterRetries(t *testing.T) {
	chain := newFakeChain() // no anchors registered: every root mismatches
	store := &fakeStore{}
	a := newTestApplier(chain, store)

	block := &types.Block{
		Height:       3,
		Transactions: []types.IndexedShieldedTx{txAt(3, 0, 0, false, shieldedOutput(9))},
	}

	err := a.ApplyBlock(context.Background(), block)
	if err == nil {
		t.Fatal("expected a fatal error after repeated anchor mismatches")
	}
	if len(store.commits) != 0 {
		t.Fatalf("commits = %d, want 0 (no rows should persist on anchor mismatch)", len(store.commits))
	}
	if a.State() != Aborted {
		t.Fatalf("state = %v, want Aborted", a.State())
	}
}

func TestNotesIndexClearedBetweenRetries(t *testing.T) {
	a := newTestApplier(newFakeChain(), &fakeStore{})
	a.notes.Insert(types.MaspIndexedTx{Height: 1}, 0)
	a.resetStaging() // runs at the start of every attempt, retries included
	if a.notes.Len() != 0 {
		t.Fatalf("Len() after resetStaging = %d, want 0", a.notes.Len())
	}
}
