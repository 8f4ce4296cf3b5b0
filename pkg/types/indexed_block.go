package types

// ShieldedTx is a single shielded sub-transaction's decoded payload: the
// raw commitment material (cmu) produced by each of its outputs, in
// on-chain order, plus the canonical serialized form persisted to the
// tx table. The full MASP transaction structure (spend descriptions,
// proofs, signatures) belongs to the external crypto primitive and is
// opaque here.
type ShieldedTx struct {
	Outputs    [][]byte
	Serialized []byte
}

// IndexedShieldedTx pairs a MaspIndexedTx coordinate with its decoded
// payload — the unit the Block Decoder produces and the Applier stages,
// one per shielded sub-transaction in a block.
type IndexedShieldedTx struct {
	Index MaspIndexedTx
	Tx    ShieldedTx
}

// Block is the Block Decoder's output: a height, its hash, and the
// shielded sub-transactions it carries, sorted by the MaspIndexedTx
// total order.
type Block struct {
	Height       Height
	Hash         Hash
	Transactions []IndexedShieldedTx
}

// IsEmpty reports whether the block carries no shielded sub-transactions
// — the case the Applier may skip without a dedicated commit.
func (b *Block) IsEmpty() bool {
	return len(b.Transactions) == 0
}
