// Package types defines the core value types shared across the shielded
// indexing pipeline: chain heights, MASP-indexed transaction coordinates,
// and the wire-level block shapes produced by the block decoder.
package types

import (
	"errors"
	"fmt"
	"math"
)

// ErrHeightOverflow is returned when incrementing a Height would wrap
// around the uint64 range. It is fatal: the follower has no next height
// to yield.
var ErrHeightOverflow = errors.New("types: block height overflow")

// Height is a monotonically increasing, non-negative chain height. It
// doubles as the pipeline checkpoint persisted in chain_state.
type Height uint64

// Next returns h+1, or ErrHeightOverflow if h is already the maximum
// representable height.
func (h Height) Next() (Height, error) {
	if h == math.MaxUint64 {
		return 0, ErrHeightOverflow
	}
	return h + 1, nil
}

func (h Height) String() string {
	return fmt.Sprintf("%d", uint64(h))
}

// BlockIndex is the 0-based position of a transaction within a block.
type BlockIndex uint32

// MaspTxIndex is the 0-based position of a shielded sub-transaction
// within a transaction's batch.
type MaspTxIndex uint32
