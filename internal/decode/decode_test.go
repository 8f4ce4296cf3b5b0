package decode

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/masp-indexer/core/pkg/types"
)

func shieldedSection(outputs ...string) Section {
	var b []byte
	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, uint32(len(outputs)))
	b = append(b, count...)
	for _, o := range outputs {
		l := make([]byte, 4)
		binary.BigEndian.PutUint32(l, uint32(len(o)))
		b = append(b, l...)
		b = append(b, []byte(o)...)
	}
	return Section{Kind: SectionMaspTx, MaspTxBytes: b}
}

func TestDecodeBlock_FeePaymentBeforeTransfer(t *testing.T) {
	var secID [32]byte
	secID[0] = 1
	var secID2 [32]byte
	secID2[0] = 2

	raw := RawBlock{
		Height: 2,
		Txs: []RawTx{
			{SectionsByID: map[[32]byte]Section{secID: shieldedSection("t")}},
			{SectionsByID: map[[32]byte]Section{secID2: shieldedSection("f")}},
		},
		Events: []RawEvent{
			{Type: EventTypeTransfer, BlockIndex: 0, MaspTxIndex: 0, SectionID: &secID},
			{Type: EventTypeFeePayment, BlockIndex: 1, MaspTxIndex: 0, SectionID: &secID2},
		},
	}

	block, err := DecodeBlock(raw)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if len(block.Transactions) != 2 {
		t.Fatalf("want 2 transactions, got %d", len(block.Transactions))
	}
	if !block.Transactions[0].Index.Kind.IsFeePayment() {
		t.Fatalf("expected fee payment first, got %s", block.Transactions[0].Index)
	}
	if block.Transactions[1].Index.Kind.IsFeePayment() {
		t.Fatalf("expected transfer second, got %s", block.Transactions[1].Index)
	}
}

func TestDecodeBlock_IgnoresOtherEventTypes(t *testing.T) {
	raw := RawBlock{
		Height: 1,
		Txs:    []RawTx{{}},
		Events: []RawEvent{{Type: "other/event", BlockIndex: 0, MaspTxIndex: 0}},
	}
	block, err := DecodeBlock(raw)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if len(block.Transactions) != 0 {
		t.Fatalf("want 0 transactions, got %d", len(block.Transactions))
	}
}

func TestDecodeBlock_DuplicateIndexedTx(t *testing.T) {
	var secID [32]byte
	secID[0] = 1
	raw := RawBlock{
		Height: 1,
		Txs:    []RawTx{{SectionsByID: map[[32]byte]Section{secID: shieldedSection("a")}}},
		Events: []RawEvent{
			{Type: EventTypeTransfer, BlockIndex: 0, MaspTxIndex: 0, SectionID: &secID},
			{Type: EventTypeTransfer, BlockIndex: 0, MaspTxIndex: 0, SectionID: &secID},
		},
	}
	_, err := DecodeBlock(raw)
	if !errors.Is(err, ErrDuplicateIndexedTx) {
		t.Fatalf("want ErrDuplicateIndexedTx, got %v", err)
	}
}

func TestDecodeBlock_MalformedSectionReference(t *testing.T) {
	var secID [32]byte
	secID[0] = 9
	raw := RawBlock{
		Height: 1,
		Txs:    []RawTx{{}}, // no sections at all
		Events: []RawEvent{{Type: EventTypeTransfer, BlockIndex: 0, MaspTxIndex: 0, SectionID: &secID}},
	}
	_, err := DecodeBlock(raw)
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("want ErrMalformedEvent, got %v", err)
	}
}

func TestDecodeBlock_IBCEnvelope(t *testing.T) {
	var dataHash [32]byte
	dataHash[0] = 7
	inner := shieldedSection("x", "y").MaspTxBytes

	envelope := append([]byte{}, ibcShieldingMarker[:]...)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(inner)))
	envelope = append(envelope, lenBuf...)
	envelope = append(envelope, inner...)

	raw := RawBlock{
		Height: 5,
		Txs: []RawTx{
			{DataByHash: map[[32]byte][]byte{dataHash: envelope}},
		},
		Events: []RawEvent{
			{Type: EventTypeTransfer, BlockIndex: 0, MaspTxIndex: 0, IBCDataHash: &dataHash},
		},
	}

	block, err := DecodeBlock(raw)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if len(block.Transactions) != 1 {
		t.Fatalf("want 1 transaction, got %d", len(block.Transactions))
	}
	if len(block.Transactions[0].Tx.Outputs) != 2 {
		t.Fatalf("want 2 outputs from the unwrapped envelope, got %d", len(block.Transactions[0].Tx.Outputs))
	}
}

func TestMaspIndexedTxTotalOrder(t *testing.T) {
	a := types.MaspIndexedTx{Kind: types.KindFeePayment, Height: 1, BlockIndex: 0, MaspTxIndex: 0}
	b := types.MaspIndexedTx{Kind: types.KindTransfer, Height: 1, BlockIndex: 0, MaspTxIndex: 0}
	if !a.Less(b) {
		t.Fatalf("fee payment must sort before transfer at equal height/position")
	}
	if b.Less(a) {
		t.Fatalf("total order must be antisymmetric")
	}
}
