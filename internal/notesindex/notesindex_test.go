package notesindex

import (
	"testing"

	"github.com/masp-indexer/core/pkg/types"
)

func key(h types.Height, bi types.BlockIndex, mti types.MaspTxIndex, feePayment bool) types.MaspIndexedTx {
	kind := types.KindTransfer
	if feePayment {
		kind = types.KindFeePayment
	}
	return types.MaspIndexedTx{Kind: kind, Height: h, BlockIndex: bi, MaspTxIndex: mti}
}

func TestDrainPreservesInsertionOrderAndClears(t *testing.T) {
	idx := New()
	idx.Insert(key(2, 0, 0, true), 1)
	idx.Insert(key(2, 0, 0, false), 2)
	idx.Insert(key(1, 0, 0, false), 0)

	records := idx.DrainIntoRecords()
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}

	want := []types.NotePosition{1, 2, 0}
	for i, r := range records {
		if r.NotePosition != want[i] {
			t.Fatalf("records[%d].NotePosition = %d, want %d", i, r.NotePosition, want[i])
		}
	}
	if !records[0].IsFeePayment || records[1].IsFeePayment {
		t.Fatal("is_fee_payment not preserved through drain")
	}

	if idx.Len() != 0 {
		t.Fatalf("Len() after drain = %d, want 0", idx.Len())
	}
	if more := idx.DrainIntoRecords(); len(more) != 0 {
		t.Fatalf("second drain returned %d records, want 0", len(more))
	}
}

func TestClearResetsWithoutDraining(t *testing.T) {
	idx := New()
	idx.Insert(key(1, 0, 0, false), 0)
	idx.Clear()
	if idx.Len() != 0 {
		t.Fatalf("Len() after Clear() = %d, want 0", idx.Len())
	}
}
