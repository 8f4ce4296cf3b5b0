// Package decode implements the Block Decoder: a pure, deterministic
// transform from a raw block body plus its end-of-block events into an
// ordered []types.IndexedShieldedTx. It performs no I/O — everything it
// needs is handed to it already fetched by the chain client.
package decode

import (
	"errors"
	"fmt"
	"sort"

	"github.com/masp-indexer/core/pkg/types"
)

// ErrMalformedEvent is returned when a selected event's referenced
// section or transaction cannot be resolved into a shielded payload.
var ErrMalformedEvent = errors.New("decode: malformed masp event")

// ErrDuplicateIndexedTx is returned when two events resolve to the same
// MaspIndexedTx coordinate.
var ErrDuplicateIndexedTx = errors.New("decode: duplicate masp indexed tx")

// EventType names the two end-of-block event kinds the decoder selects;
// every other event type is ignored.
type EventType string

const (
	EventTypeTransfer   EventType = "masp/transfer"
	EventTypeFeePayment EventType = "masp/fee-payment"
)

// RawEvent is one end-of-block event as reported by the chain, already
// narrowed to the attributes the decoder needs: which transaction and
// masp-tx-batch slot it belongs to, and how to locate its shielded
// payload.
type RawEvent struct {
	Type        EventType
	BlockIndex  types.BlockIndex
	MaspTxIndex types.MaspTxIndex

	// Exactly one of SectionID or IBCDataHash is set: a reference to
	// either a shielded section by its id, or an IBC data section by
	// hash.
	SectionID   *[32]byte
	IBCDataHash *[32]byte
}

// SectionKind classifies a transaction section as decoded by the chain
// client; only SectionMaspTx sections carry a shielded payload.
type SectionKind int

const (
	SectionUnknown SectionKind = iota
	SectionMaspTx
)

// Section is one section of a deserialized transaction.
type Section struct {
	Kind        SectionKind
	MaspTxBytes []byte
}

// RawTx is a deserialized Namada transaction's relevant contents: its
// sections by id, and its raw data sections by hash (the latter for
// unwrapping IBC-shielded transfers).
type RawTx struct {
	SectionsByID map[[32]byte]Section
	DataByHash   map[[32]byte][]byte
}

// RawBlock is everything the decoder needs for one height: the block's
// transactions indexed by block index, and its selected end-of-block
// events. The chain client is responsible for deserializing transactions
// once per block index — every event referencing the same block index
// shares the same already-deserialized RawTx.
type RawBlock struct {
	Height types.Height
	Hash   types.Hash
	Txs    []RawTx
	Events []RawEvent
}

// DecodeBlock selects the relevant end-of-block events, resolves each
// to its shielded payload, and returns the block's shielded
// sub-transactions sorted by the MaspIndexedTx total order.
func DecodeBlock(raw RawBlock) (*types.Block, error) {
	seen := make(map[types.MaspIndexedTx]struct{}, len(raw.Events))
	out := make([]types.IndexedShieldedTx, 0, len(raw.Events))

	for _, ev := range raw.Events {
		kind, ok := classify(ev.Type)
		if !ok {
			continue // only masp/transfer and masp/fee-payment are selected
		}

		if int(ev.BlockIndex) >= len(raw.Txs) {
			return nil, fmt.Errorf("%w: block index %d out of range (block has %d txs)",
				ErrMalformedEvent, ev.BlockIndex, len(raw.Txs))
		}
		tx := raw.Txs[ev.BlockIndex] // resolved once per block index by the caller

		payload, err := resolveShieldedPayload(tx, ev)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		idx := types.MaspIndexedTx{
			Kind:        kind,
			Height:      raw.Height,
			BlockIndex:  ev.BlockIndex,
			MaspTxIndex: ev.MaspTxIndex,
		}
		if _, dup := seen[idx]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIndexedTx, idx)
		}
		seen[idx] = struct{}{}

		out = append(out, types.IndexedShieldedTx{Index: idx, Tx: payload})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index.Less(out[j].Index) })

	return &types.Block{Height: raw.Height, Hash: raw.Hash, Transactions: out}, nil
}

func classify(t EventType) (types.MaspEventKind, bool) {
	switch t {
	case EventTypeFeePayment:
		return types.KindFeePayment, true
	case EventTypeTransfer:
		return types.KindTransfer, true
	default:
		return 0, false
	}
}

// resolveShieldedPayload fetches the shielded section by id, or unwraps
// an IBC envelope from a referenced data section.
func resolveShieldedPayload(tx RawTx, ev RawEvent) (types.ShieldedTx, error) {
	switch {
	case ev.SectionID != nil:
		sec, ok := tx.SectionsByID[*ev.SectionID]
		if !ok || sec.Kind != SectionMaspTx {
			return types.ShieldedTx{}, fmt.Errorf("section %x is not a resolvable masp tx", *ev.SectionID)
		}
		return decodeShieldedTxBytes(sec.MaspTxBytes)

	case ev.IBCDataHash != nil:
		data, ok := tx.DataByHash[*ev.IBCDataHash]
		if !ok {
			return types.ShieldedTx{}, fmt.Errorf("data section %x not found", *ev.IBCDataHash)
		}
		return decodeIBCShieldedTransfer(data)

	default:
		return types.ShieldedTx{}, errors.New("event references neither a section id nor an ibc data hash")
	}
}
