package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/masp-indexer/core/pkg/types"
)

// decodeShieldedTxBytes parses a MASP section's raw bytes into its
// output commitments. The true Sapling transaction wire format belongs
// to the external crypto primitive; the indexer only needs the list of
// output commitments (cmu) in on-chain order, so the sections it
// consumes here are length-prefixed: a uint32 output count followed by
// that many (uint32 length, bytes) records.
func decodeShieldedTxBytes(b []byte) (types.ShieldedTx, error) {
	if len(b) < 4 {
		return types.ShieldedTx{}, fmt.Errorf("shielded tx section too short (%d bytes)", len(b))
	}
	count := binary.BigEndian.Uint32(b[0:4])
	off := 4

	outputs := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+4 > len(b) {
			return types.ShieldedTx{}, fmt.Errorf("truncated output length at index %d", i)
		}
		n := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if off+n > len(b) {
			return types.ShieldedTx{}, fmt.Errorf("truncated output bytes at index %d", i)
		}
		outputs = append(outputs, b[off:off+n])
		off += n
	}

	return types.ShieldedTx{Outputs: outputs, Serialized: b}, nil
}
