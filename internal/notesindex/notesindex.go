// Package notesindex is the in-memory, insertion-ordered map from a
// MASP-indexed transaction to the note position of its first shielded
// output. It is owned exclusively by the Applier, cleared at the start
// of every block attempt, and drained into storage records on commit.
package notesindex

import "github.com/masp-indexer/core/pkg/types"

// Record is one notes_index storage row.
type Record struct {
	NotePosition types.NotePosition
	BlockHeight  types.Height
	BlockIndex   types.BlockIndex
	MaspTxIndex  types.MaspTxIndex
	IsFeePayment bool
}

// Index is the notes index. It is not safe for concurrent use; the
// Applier is its sole owner.
type Index struct {
	order   []types.MaspIndexedTx
	entries map[types.MaspIndexedTx]types.NotePosition
}

// New creates an empty notes index.
func New() *Index {
	return &Index{entries: make(map[types.MaspIndexedTx]types.NotePosition)}
}

// Insert records that k's first shielded output landed at position p. A
// second insert for the same key (which should not happen given the
// decoder's duplicate-detection) overwrites the position but preserves
// the original insertion order.
func (idx *Index) Insert(k types.MaspIndexedTx, p types.NotePosition) {
	if _, exists := idx.entries[k]; !exists {
		idx.order = append(idx.order, k)
	}
	idx.entries[k] = p
}

// Len reports the number of entries currently staged.
func (idx *Index) Len() int { return len(idx.order) }

// Clear discards all staged entries, at the start of a new block attempt.
func (idx *Index) Clear() {
	idx.order = idx.order[:0]
	for k := range idx.entries {
		delete(idx.entries, k)
	}
}

// DrainIntoRecords returns one record per entry, in insertion order, and
// clears the index.
func (idx *Index) DrainIntoRecords() []Record {
	records := make([]Record, 0, len(idx.order))
	for _, k := range idx.order {
		records = append(records, Record{
			NotePosition: idx.entries[k],
			BlockHeight:  k.Height,
			BlockIndex:   k.BlockIndex,
			MaspTxIndex:  k.MaspTxIndex,
			IsFeePayment: k.Kind.IsFeePayment(),
		})
	}
	idx.Clear()
	return records
}
