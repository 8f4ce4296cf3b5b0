// Package common holds the small set of byte/hex helpers shared by the
// wire-level packages: pkg/types and internal/chainclient/cometbft.
package common

import (
	"encoding/hex"
	"errors"
)

// ErrInvalidHash is returned by hex-decoding helpers given malformed
// input.
var ErrInvalidHash = errors.New("common: invalid hex-encoded hash")

// HexToBytes converts a hex string (with or without a 0x prefix) to
// bytes.
func HexToBytes(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidHash
	}
	return b, nil
}

// BytesToHex converts bytes to a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// IsZeroBytes reports whether every byte in b is zero.
func IsZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// CopyBytes returns an independent copy of b.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
