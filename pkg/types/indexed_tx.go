package types

import "fmt"

// MaspEventKind distinguishes the two kinds of shielded sub-transactions
// a block can carry. FeePayment events are ordered before Transfer
// events within the same block.
type MaspEventKind uint8

const (
	// KindFeePayment marks a shielded fee payment. It sorts before
	// KindTransfer at the same (height, block index, masp tx index).
	KindFeePayment MaspEventKind = iota
	// KindTransfer marks a shielded transfer.
	KindTransfer
)

func (k MaspEventKind) String() string {
	switch k {
	case KindFeePayment:
		return "fee-payment"
	case KindTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("unknown-kind(%d)", uint8(k))
	}
}

// IsFeePayment reports whether k is KindFeePayment, the shape the
// storage layer persists as a boolean column.
func (k MaspEventKind) IsFeePayment() bool {
	return k == KindFeePayment
}

// MaspIndexedTx is the canonical coordinate of a shielded sub-transaction:
// (kind, height, block index, masp tx index). Its Less method defines
// the total ingestion order: first by height, then kind (FeePayment <
// Transfer), then (BlockIndex, MaspTxIndex).
type MaspIndexedTx struct {
	Kind        MaspEventKind
	Height      Height
	BlockIndex  BlockIndex
	MaspTxIndex MaspTxIndex
}

// Less implements the strict total order over MaspIndexedTx values.
func (a MaspIndexedTx) Less(b MaspIndexedTx) bool {
	if a.Height != b.Height {
		return a.Height < b.Height
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.BlockIndex != b.BlockIndex {
		return a.BlockIndex < b.BlockIndex
	}
	return a.MaspTxIndex < b.MaspTxIndex
}

// Equal reports whether a and b identify the same coordinate.
func (a MaspIndexedTx) Equal(b MaspIndexedTx) bool {
	return a == b
}

func (a MaspIndexedTx) String() string {
	return fmt.Sprintf("%s@h=%d,bi=%d,mti=%d", a.Kind, a.Height, a.BlockIndex, a.MaspTxIndex)
}

// NotePosition is the 0-based index of a note commitment in the append
// sequence, equal to the tree size before the append that created it.
type NotePosition uint64
