package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/masp-indexer/core/pkg/types"
)

// ibcShieldingMarker tags a data section as an IBC-wrapped shielded
// transfer envelope: a MaspShieldedTransfer event carries its payload in
// its own top-level section, while an IbcShieldingTransfer event's MASP
// payload instead travels inside an IBC MsgTransfer's memo field.
var ibcShieldingMarker = [4]byte{'I', 'B', 'C', '1'}

// decodeIBCShieldedTransfer unwraps a MsgTransfer-shaped envelope and
// extracts the shielded transaction carried in its memo. The envelope
// format mirrors decodeShieldedTxBytes' length-prefixing convention: a
// 4-byte marker, then a uint32 length and that many bytes holding the
// inner masp section.
func decodeIBCShieldedTransfer(data []byte) (types.ShieldedTx, error) {
	if len(data) < 8 {
		return types.ShieldedTx{}, fmt.Errorf("ibc envelope too short (%d bytes)", len(data))
	}
	var marker [4]byte
	copy(marker[:], data[0:4])
	if marker != ibcShieldingMarker {
		return types.ShieldedTx{}, fmt.Errorf("data section is not an ibc shielding envelope")
	}

	innerLen := int(binary.BigEndian.Uint32(data[4:8]))
	if 8+innerLen > len(data) {
		return types.ShieldedTx{}, fmt.Errorf("truncated ibc envelope (want %d inner bytes, have %d)", innerLen, len(data)-8)
	}

	return decodeShieldedTxBytes(data[8 : 8+innerLen])
}
